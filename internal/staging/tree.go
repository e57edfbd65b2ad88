package staging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataRootName is the fixed name of the chart data root inside a job's
// staging directory and inside each volume folder.
const DataRootName = "ENC_ROOT"

// Tree is one job's exclusive staging directory, namespaced by batch id.
// No two jobs ever share a path.
type Tree struct {
	root string
}

// NewTree creates the staging tree for a batch under stagingRoot.
func NewTree(stagingRoot, batchID string) (Tree, error) {
	if batchID == "" {
		return Tree{}, fmt.Errorf("batch id is required")
	}
	root := filepath.Join(stagingRoot, batchID)
	if err := os.MkdirAll(filepath.Join(root, DataRootName), 0755); err != nil {
		return Tree{}, fmt.Errorf("creating staging tree: %w", err)
	}
	return Tree{root: root}, nil
}

// Open returns the tree for an existing staging directory.
func Open(stagingRoot, batchID string) Tree {
	return Tree{root: filepath.Join(stagingRoot, batchID)}
}

// Root returns the tree's root directory.
func (t Tree) Root() string {
	return t.root
}

// DataRoot returns the directory retrieval downloads into.
func (t Tree) DataRoot() string {
	return filepath.Join(t.root, DataRootName)
}

// FilePath maps a store-relative path (country/product/edition/update/file)
// into the data root.
func (t Tree) FilePath(relPath string) string {
	return filepath.Join(t.DataRoot(), relPath)
}

// VolumeDir returns the top-level folder for a named volume.
func (t Tree) VolumeDir(volumeName string) string {
	return filepath.Join(t.root, volumeName)
}

// VolumeDataRoot returns the data root inside a volume folder.
func (t Tree) VolumeDataRoot(volumeName string) string {
	return filepath.Join(t.root, volumeName, DataRootName)
}

// MoveProduct relocates one product's staged subtree from the data root into
// a volume folder. Rename within the same filesystem, so the bytes are not
// copied.
func (t Tree) MoveProduct(volumeName, countryCode, productName string) error {
	src := filepath.Join(t.DataRoot(), countryCode, productName)
	dst := filepath.Join(t.VolumeDataRoot(volumeName), countryCode, productName)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating volume product directory: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("moving %s into %s: %w", productName, volumeName, err)
	}
	return nil
}

// EnsureVolume creates an empty volume folder with its data root. Needed for
// the manifest-only volume of an empty exchange set.
func (t Tree) EnsureVolume(volumeName string) error {
	if err := os.MkdirAll(t.VolumeDataRoot(volumeName), 0755); err != nil {
		return fmt.Errorf("creating volume folder: %w", err)
	}
	return nil
}

// Remove deletes the whole staging tree.
func (t Tree) Remove() error {
	return os.RemoveAll(t.root)
}
