package ancillary

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidecraft/exchangeset/internal/partition"
	"github.com/tidecraft/exchangeset/internal/staging"
	"github.com/tidecraft/exchangeset/pkg/checksum"
)

// Fixed manifest file names inside each volume folder.
const (
	SerialNameStandard = "SERIAL.ENC"
	SerialNameOverlay  = "SERIAL.AIO"
	ProductsName       = "PRODUCTS.TXT"
	CatalogName        = "CATALOG.031"
	MediaName          = "MEDIA.TXT"
	ReadmeName         = "README.TXT"
)

// ErrMissingStagedFile reports a manifest reference to a file that is not on
// disk. The builder never fabricates placeholder content.
var ErrMissingStagedFile = errors.New("staged file missing")

// Builder generates the fixed-format ancillary files for one volume. Every
// output is a pure function of the input, so rebuilding an unchanged batch
// produces byte-identical files.
type Builder struct {
	// Validity is the README expiry window past build time.
	Validity time.Duration
}

// Input carries everything one volume's ancillary set is generated from.
// AllVolumes is needed by the media descriptor, which lists every volume of
// a multi-volume set.
type Input struct {
	Tree       staging.Tree
	Volume     partition.Volume
	AllVolumes []partition.Volume
	Delta      bool // since-date job: serial token UPDATE instead of BASE
	BuildTime  time.Time
}

// Build writes the volume's ancillary file set. Requires that retrieval and
// layout for the volume are complete: checksums are computed from the staged
// bytes, and a missing file fails the build.
func (b Builder) Build(in Input) error {
	volDir := in.Tree.VolumeDir(in.Volume.Name)
	if _, err := os.Stat(volDir); err != nil {
		return fmt.Errorf("volume folder %s: %w", in.Volume.Name, err)
	}

	serialName := SerialNameStandard
	if in.Volume.Overlay {
		serialName = SerialNameOverlay
	}
	if err := writeFile(filepath.Join(volDir, serialName), SerialLine(in.BuildTime, b.dataType(in))); err != nil {
		return err
	}

	if err := writeFile(filepath.Join(volDir, ProductsName), b.productsFile(in)); err != nil {
		return err
	}

	catalog, err := b.catalogFile(in)
	if err != nil {
		return err
	}
	if err := writeFile(filepath.Join(volDir, CatalogName), catalog); err != nil {
		return err
	}

	if len(in.AllVolumes) > 1 {
		if err := writeFile(filepath.Join(volDir, MediaName), b.mediaFile(in)); err != nil {
			return err
		}
	}

	return writeFile(filepath.Join(volDir, ReadmeName), b.readmeFile(in))
}

func (b Builder) dataType(in Input) DataType {
	if in.Delta {
		return DataTypeUpdate
	}
	return DataTypeBase
}

// productsFile enumerates the volume's products: the date line, the product
// line marker, then name,edition,updates in catalogue order.
func (b Builder) productsFile(in Input) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, ":DATE %s\r\n", in.BuildTime.UTC().Format("20060102"))
	sb.WriteString(":ENC\r\n")
	for _, p := range in.Volume.Products {
		updates := make([]string, len(p.Product.UpdateNumbers))
		for i, u := range p.Product.UpdateNumbers {
			updates[i] = strconv.Itoa(u)
		}
		fmt.Fprintf(&sb, "%s,%d,%s\r\n", p.Product.Name, p.Product.EditionNumber, strings.Join(updates, ";"))
	}
	return sb.String()
}

// catalogFile lists every staged file on the volume with a checksum computed
// from the bytes on disk, never trusted from upstream.
func (b Builder) catalogFile(in Input) (string, error) {
	var sb strings.Builder
	for _, p := range in.Volume.Products {
		for _, f := range p.Files {
			path := filepath.Join(in.Tree.VolumeDataRoot(in.Volume.Name), f.RelPath)
			crc, _, err := checksum.CRCFromFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					return "", fmt.Errorf("%w: %s", ErrMissingStagedFile, f.RelPath)
				}
				return "", fmt.Errorf("checksumming %s: %w", f.RelPath, err)
			}
			rel := filepath.ToSlash(filepath.Join(staging.DataRootName, f.RelPath))
			fmt.Fprintf(&sb, "%s,%s\r\n", rel, crc)
		}
	}
	return sb.String(), nil
}

// mediaFile describes every volume of a multi-volume set, one line per
// volume in ascending volume order.
func (b Builder) mediaFile(in Input) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, ":MEDIA %s\r\n", in.BuildTime.UTC().Format("20060102"))
	for _, vol := range in.AllVolumes {
		fmt.Fprintf(&sb, "%s,%s,%d cells\r\n", vol.Name, strings.Join(vol.CountryCodes(), " "), vol.CellCount())
	}
	return sb.String()
}

// readmeFile renders the readme. The second line's expiry timestamp is
// exactly build time plus the validity window.
func (b Builder) readmeFile(in Input) string {
	expiry := in.BuildTime.UTC().Add(b.Validity)
	var sb strings.Builder
	sb.WriteString("EXCHANGE SET README\r\n")
	fmt.Fprintf(&sb, "EXPIRES %s\r\n", expiry.Format(time.RFC3339))
	sb.WriteString("\r\n")
	sb.WriteString("This exchange set was assembled automatically. Apply the contained\r\n")
	sb.WriteString("cells and updates with an approved chart management system.\r\n")
	return sb.String()
}

func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
