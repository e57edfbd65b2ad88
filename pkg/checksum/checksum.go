package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// Digest represents a content digest (e.g., sha256:abc123...)
type Digest string

// String returns the string representation
func (d Digest) String() string {
	return string(d)
}

// FromBytes computes a sha256 digest from bytes
func FromBytes(data []byte) Digest {
	h := sha256.Sum256(data)
	return Digest("sha256:" + hex.EncodeToString(h[:]))
}

// CRC is the 8-character uppercase hex CRC32 (IEEE) of a file's contents,
// the form the catalogue manifest records per staged file.
type CRC string

// CRCFromReader computes the CRC of everything read from r.
func CRCFromReader(r io.Reader) (CRC, int64, error) {
	h := crc32.NewIEEE()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return CRC(fmt.Sprintf("%08X", h.Sum32())), n, nil
}

// CRCFromFile computes the CRC of the file at path.
func CRCFromFile(path string) (CRC, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return CRCFromReader(f)
}
