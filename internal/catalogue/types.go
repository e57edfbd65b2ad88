package catalogue

import "time"

// Product is one catalogue entry for a chart cell: the source of truth for
// what exists. Owned by the catalogue service; read-only here.
type Product struct {
	Name          string        `json:"productName"`
	EditionNumber int           `json:"editionNumber"`
	UpdateNumbers []int         `json:"updateNumbers"`
	FileSize      int64         `json:"fileSize"`
	FileCount     int           `json:"fileCount"`
	Withdrawn     bool          `json:"withdrawn,omitempty"`
	Cancellation  *Cancellation `json:"cancellation,omitempty"`
	Dates         []ProductDate `json:"dates,omitempty"`
}

// Cancellation records the edition/update at which a product was cancelled.
type Cancellation struct {
	EditionNumber int       `json:"editionNumber"`
	UpdateNumber  int       `json:"updateNumber"`
	Date          time.Time `json:"date"`
}

// ProductDate ties an update number to its issue date.
type ProductDate struct {
	UpdateNumber int       `json:"updateNumber"`
	IssueDate    time.Time `json:"issueDate"`
}

// CountryCode returns the two-letter producer code embedded in the cell name.
func (p Product) CountryCode() string {
	if len(p.Name) < 2 {
		return p.Name
	}
	return p.Name[:2]
}

// LatestUpdate returns the highest update number, or 0 for a base-only cell.
func (p Product) LatestUpdate() int {
	latest := 0
	for _, u := range p.UpdateNumbers {
		if u > latest {
			latest = u
		}
	}
	return latest
}

// ProductVersionSpec is a point in a product's version history. Edition and
// Update may be nil for "give me the latest" requests.
type ProductVersionSpec struct {
	Name    string `json:"productName"`
	Edition *int   `json:"editionNumber,omitempty"`
	Update  *int   `json:"updateNumber,omitempty"`
}

// RequestKind distinguishes the three request shapes.
type RequestKind string

const (
	ByName    RequestKind = "productNames"
	ByVersion RequestKind = "productVersions"
	SinceDate RequestKind = "sinceDate"
)

// Request is the original request shape the resolution engine works against.
type Request struct {
	Kind     RequestKind          `json:"kind"`
	Names    []string             `json:"productNames,omitempty"`
	Versions []ProductVersionSpec `json:"productVersions,omitempty"`
	Since    time.Time            `json:"sinceDate,omitempty"`
}

// RequestedCount returns how many products the request named. A since-date
// request implicitly names every product the catalogue diff returned.
func (r Request) RequestedCount(catalogueLen int) int {
	switch r.Kind {
	case ByName:
		return len(r.Names)
	case ByVersion:
		return len(r.Versions)
	default:
		return catalogueLen
	}
}

// ExclusionReason is the closed enum of reasons a requested product is left
// out of the exchange set.
type ExclusionReason string

const (
	ReasonInvalidProduct   ExclusionReason = "invalidProduct"
	ReasonWithdrawn        ExclusionReason = "productWithdrawn"
	ReasonExpired          ExclusionReason = "expired"
	ReasonDuplicateProduct ExclusionReason = "duplicateProduct"
)

// Exclusion names a product left out of the set and why.
type Exclusion struct {
	Name   string          `json:"productName"`
	Reason ExclusionReason `json:"reason"`
}

// ResolvedSet buckets every requested product into exactly one of included,
// already-up-to-date or excluded.
type ResolvedSet struct {
	Included        []Product
	AlreadyUpToDate int
	Excluded        []Exclusion
}

// RequestedCount returns the total the three buckets account for.
func (s ResolvedSet) RequestedCount() int {
	return len(s.Included) + s.AlreadyUpToDate + len(s.Excluded)
}
