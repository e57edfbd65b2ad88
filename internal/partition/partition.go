package partition

import (
	"errors"
	"fmt"

	"github.com/tidecraft/exchangeset/internal/retrieval"
	"github.com/tidecraft/exchangeset/internal/staging"
)

// ErrUnplaceable reports a product that cannot be placed on any volume.
var ErrUnplaceable = errors.New("product cannot be placed on a volume")

// Volume is one top-level packaging unit: a folder that becomes one zip and
// one remote batch.
type Volume struct {
	Name      string
	Index     int
	Products  []retrieval.ProductFiles
	TotalSize int64
	Overlay   bool
}

// CountryCodes returns the distinct producer codes on the volume, in
// first-seen order.
func (v Volume) CountryCodes() []string {
	seen := make(map[string]bool)
	var codes []string
	for _, p := range v.Products {
		code := p.Product.CountryCode()
		if !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	return codes
}

// CellCount returns the number of cells on the volume.
func (v Volume) CellCount() int {
	return len(v.Products)
}

// Planner decides the volume layout for a staged exchange set.
type Planner struct {
	// ThresholdBytes is the single-package size limit. A set larger than
	// this is split across numbered media volumes.
	ThresholdBytes int64
	// HardLimitBytes, when positive, is the absolute media capacity. A
	// single product larger than this cannot ship at all.
	HardLimitBytes int64
}

// Plan packs the manifest's products into volumes. Products fill volumes
// greedily in catalogue order; the order is preserved for reproducibility,
// never re-sorted. The overlay product line, when present, is always
// isolated on its own volume regardless of size. Zero included products
// still yield exactly one manifest-only volume.
func (pl Planner) Plan(manifest, overlay retrieval.Manifest) ([]Volume, error) {
	for _, p := range append(append([]retrieval.ProductFiles{}, manifest.Products...), overlay.Products...) {
		if pl.HardLimitBytes > 0 && p.TotalSize > pl.HardLimitBytes {
			return nil, fmt.Errorf("%w: %s is %d bytes, media capacity is %d",
				ErrUnplaceable, p.Product.Name, p.TotalSize, pl.HardLimitBytes)
		}
	}

	var standard []Volume
	current := Volume{Index: 1}

	for _, p := range manifest.Products {
		// Greedy fill: start a new volume when the next product would
		// overflow, unless the volume is empty (a lone oversize product
		// is unavoidable, not an error).
		if len(current.Products) > 0 && current.TotalSize+p.TotalSize > pl.ThresholdBytes {
			standard = append(standard, current)
			current = Volume{Index: len(standard) + 1}
		}
		current.Products = append(current.Products, p)
		current.TotalSize += p.TotalSize
	}
	// An empty exchange set must still be a valid, downloadable package.
	standard = append(standard, current)

	for i := range standard {
		standard[i].Name = volumeName(standard[i].Index, len(standard))
	}

	volumes := standard
	if len(overlay.Products) > 0 {
		ov := Volume{
			Name:      overlayVolumeName,
			Index:     len(standard) + 1,
			Overlay:   true,
			Products:  overlay.Products,
			TotalSize: overlay.TotalSize(),
		}
		volumes = append(volumes, ov)
	}

	return volumes, nil
}

// overlayVolumeName is the fixed folder name of the overlay volume.
const overlayVolumeName = "A01X01"

// volumeName renders `<letter><2-digit index><suffix>`: V01X01 for a
// single-volume set, M<NN>X<total> for large media sets.
func volumeName(index, total int) string {
	if total == 1 {
		return "V01X01"
	}
	return fmt.Sprintf("M%02dX%02d", index, total)
}

// Layout moves each volume's product subtrees out of the job data root into
// the volume folders. Must run after retrieval has completed: the moves
// assume no writer is touching the data root.
func Layout(tree staging.Tree, volumes []Volume) error {
	for _, vol := range volumes {
		if err := tree.EnsureVolume(vol.Name); err != nil {
			return err
		}
		for _, p := range vol.Products {
			if err := tree.MoveProduct(vol.Name, p.Product.CountryCode(), p.Product.Name); err != nil {
				return err
			}
		}
	}
	return nil
}
