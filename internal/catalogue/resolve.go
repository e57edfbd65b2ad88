package catalogue

import (
	"fmt"
	"time"
)

// cancellationRetention is how long a cancelled cell stays in exchange sets
// after its cancellation date.
const cancellationRetentionMonths = 12

// ErrMalformedCatalogue reports catalogue data the engine cannot resolve
// against. Surfaced to the caller, never retried here.
type ErrMalformedCatalogue struct {
	Detail string
}

func (e *ErrMalformedCatalogue) Error() string {
	return fmt.Sprintf("malformed catalogue data: %s", e.Detail)
}

// Resolve turns a catalogue response plus the original request into a
// resolved product set. Pure function of its inputs; now is the request time
// used for the cancellation retention window.
func Resolve(products []Product, req Request, now time.Time) (ResolvedSet, error) {
	if err := checkCatalogue(products); err != nil {
		return ResolvedSet{}, err
	}

	byName := make(map[string]Product, len(products))
	for _, p := range products {
		byName[p.Name] = p
	}

	var set ResolvedSet

	switch req.Kind {
	case ByName:
		seen := make(map[string]bool, len(req.Names))
		for _, name := range req.Names {
			if seen[name] {
				set.Excluded = append(set.Excluded, Exclusion{Name: name, Reason: ReasonDuplicateProduct})
				continue
			}
			seen[name] = true

			p, ok := byName[name]
			if !ok {
				set.Excluded = append(set.Excluded, Exclusion{Name: name, Reason: ReasonInvalidProduct})
				continue
			}
			resolveOne(&set, p, nil, now)
		}

	case ByVersion:
		seen := make(map[string]bool, len(req.Versions))
		for _, v := range req.Versions {
			if seen[v.Name] {
				set.Excluded = append(set.Excluded, Exclusion{Name: v.Name, Reason: ReasonDuplicateProduct})
				continue
			}
			seen[v.Name] = true

			p, ok := byName[v.Name]
			if !ok {
				set.Excluded = append(set.Excluded, Exclusion{Name: v.Name, Reason: ReasonInvalidProduct})
				continue
			}
			spec := v
			resolveOne(&set, p, &spec, now)
		}

	case SinceDate:
		// The catalogue response is already the diff. An empty diff is not
		// an error: downstream still produces a minimal package.
		for _, p := range products {
			resolveOne(&set, p, nil, now)
		}

	default:
		return ResolvedSet{}, &ErrMalformedCatalogue{Detail: fmt.Sprintf("unknown request kind %q", req.Kind)}
	}

	return set, nil
}

// resolveOne places a single catalogue product into exactly one bucket.
// spec, when non-nil, is the version the requester already holds: only a
// strictly newer catalogue entry ships. A cancelled product's successor is
// never considered; only the exact requested identity is.
func resolveOne(set *ResolvedSet, p Product, spec *ProductVersionSpec, now time.Time) {
	if p.Withdrawn {
		set.Excluded = append(set.Excluded, Exclusion{Name: p.Name, Reason: ReasonWithdrawn})
		return
	}

	if p.Cancellation != nil {
		cutoff := now.AddDate(0, -cancellationRetentionMonths, 0)
		if p.Cancellation.Date.Before(cutoff) {
			set.Excluded = append(set.Excluded, Exclusion{Name: p.Name, Reason: ReasonExpired})
			return
		}
	}

	if spec != nil && spec.Edition != nil {
		held := *spec.Edition
		heldUpdate := 0
		if spec.Update != nil {
			heldUpdate = *spec.Update
		}
		if p.EditionNumber < held ||
			(p.EditionNumber == held && p.LatestUpdate() <= heldUpdate) {
			set.AlreadyUpToDate++
			return
		}
	}

	set.Included = append(set.Included, p)
}

func checkCatalogue(products []Product) error {
	for i, p := range products {
		if p.Name == "" {
			return &ErrMalformedCatalogue{Detail: fmt.Sprintf("product %d has no name", i)}
		}
		if p.EditionNumber < 0 {
			return &ErrMalformedCatalogue{Detail: fmt.Sprintf("product %s has negative edition", p.Name)}
		}
		if p.FileSize < 0 {
			return &ErrMalformedCatalogue{Detail: fmt.Sprintf("product %s has negative file size", p.Name)}
		}
	}
	return nil
}
