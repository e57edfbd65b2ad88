package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tidecraft/exchangeset/internal/catalogue"
	"github.com/tidecraft/exchangeset/internal/staging"
	"github.com/tidecraft/exchangeset/internal/store"
)

// ErrIncomplete reports that the store returned fewer files than the
// catalogue promised for a product. The job fails fast: a partially-correct
// package is never published.
var ErrIncomplete = errors.New("retrieval incomplete")

// IncompleteError carries the identity of the short product.
type IncompleteError struct {
	Product  string
	Expected int
	Actual   int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%v: product %s returned %d of %d expected files", ErrIncomplete, e.Product, e.Actual, e.Expected)
}

func (e *IncompleteError) Unwrap() error {
	return ErrIncomplete
}

// StagedFile is one retrieved file inside the staging tree.
type StagedFile struct {
	RelPath string
	Size    int64
}

// ProductFiles is the retrieval record for one product, in catalogue order.
type ProductFiles struct {
	Product   catalogue.Product
	Files     []StagedFile
	TotalSize int64
}

// Manifest is the flat output of retrieval consumed by the ancillary builder
// and the partitioner.
type Manifest struct {
	Products []ProductFiles
}

// TotalSize sums every staged byte in the manifest.
func (m Manifest) TotalSize() int64 {
	var total int64
	for _, p := range m.Products {
		total += p.TotalSize
	}
	return total
}

// Coordinator drains a per-product search-then-download queue on a bounded
// worker pool.
type Coordinator struct {
	Store   store.FileStore
	Workers int
	Logger  *slog.Logger
}

// Retrieve downloads every included product's published files into the
// staging tree. The returned manifest preserves catalogue order. Any
// product whose file count disagrees with the catalogue fails the whole
// retrieval; the shared context aborts in-flight and queued work.
func (c *Coordinator) Retrieve(ctx context.Context, tree staging.Tree, included []catalogue.Product) (Manifest, error) {
	workers := c.Workers
	if workers <= 0 {
		workers = 16
	}

	results := make([]ProductFiles, len(included))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, product := range included {
		i, product := i, product
		g.Go(func() error {
			pf, err := c.retrieveProduct(ctx, tree, product)
			if err != nil {
				return err
			}
			results[i] = pf
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Manifest{}, err
	}

	return Manifest{Products: results}, nil
}

func (c *Coordinator) retrieveProduct(ctx context.Context, tree staging.Tree, product catalogue.Product) (ProductFiles, error) {
	attrs := store.ProductAttributes{
		Name:          product.Name,
		CountryCode:   product.CountryCode(),
		EditionNumber: product.EditionNumber,
		UpdateNumbers: product.UpdateNumbers,
	}

	batches, err := c.Store.Search(ctx, attrs)
	if err != nil {
		return ProductFiles{}, fmt.Errorf("searching for %s: %w", product.Name, err)
	}

	total := 0
	for _, b := range batches {
		total += len(b.Files)
	}
	if product.FileCount > 0 && total != product.FileCount {
		c.Logger.ErrorContext(ctx, "store returned short file batch",
			"product", product.Name, "edition", product.EditionNumber,
			"expected", product.FileCount, "actual", total)
		return ProductFiles{}, &IncompleteError{Product: product.Name, Expected: product.FileCount, Actual: total}
	}

	pf := ProductFiles{Product: product}
	for _, batch := range batches {
		for _, ref := range batch.Files {
			if err := ctx.Err(); err != nil {
				return ProductFiles{}, err
			}
			dest := tree.FilePath(ref.RelPath)
			if err := c.Store.Download(ctx, ref, dest); err != nil {
				return ProductFiles{}, fmt.Errorf("downloading %s: %w", ref.RelPath, err)
			}
			pf.Files = append(pf.Files, StagedFile{RelPath: ref.RelPath, Size: ref.Size})
			pf.TotalSize += ref.Size
		}
	}

	c.Logger.DebugContext(ctx, "retrieved product files",
		"product", product.Name, "files", len(pf.Files), "bytes", pf.TotalSize)
	return pf, nil
}
