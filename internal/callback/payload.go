package callback

import (
	"errors"
	"fmt"

	"github.com/tidecraft/exchangeset/internal/catalogue"
)

// ErrInvalidPayload reports a payload that violates the outbound contract.
var ErrInvalidPayload = errors.New("invalid callback payload")

// Link is one hyperlink in the payload.
type Link struct {
	Href string `json:"href"`
}

// Links collects the batch and file links of a fulfilment outcome.
type Links struct {
	BatchStatus  *Link `json:"batchStatus"`
	BatchDetails *Link `json:"batchDetails"`
	PrimaryFile  *Link `json:"primaryFile,omitempty"`
	OverlayFile  *Link `json:"overlayFile,omitempty"`
}

// Data is the body of the completion/error report.
type Data struct {
	Links                             Links                 `json:"links"`
	RequestedProductCount             int                   `json:"requestedProductCount"`
	ExchangeSetCellCount              int                   `json:"exchangeSetCellCount"`
	RequestedProductsAlreadyUpToDate  int                   `json:"requestedProductsAlreadyUpToDateCount"`
	RequestedProductsNotInExchangeSet []catalogue.Exclusion `json:"requestedProductsNotInExchangeSet"`
	RequestedOverlayProductCount      *int                  `json:"requestedOverlayProductCount,omitempty"`
	OverlayExchangeSetCellCount       *int                  `json:"overlayExchangeSetCellCount,omitempty"`
}

// Payload is the outward-facing completion/error report. Built fresh per
// job, never persisted, fire-and-forget.
type Payload struct {
	ID      string `json:"id"`
	Data    Data   `json:"data"`
	IsError bool   `json:"-"`
}

// Validate enforces the outbound contract before any delivery attempt.
func (p Payload) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidPayload)
	}
	if p.Data.Links.BatchStatus == nil || p.Data.Links.BatchStatus.Href == "" {
		return fmt.Errorf("%w: batch status link is required", ErrInvalidPayload)
	}
	if p.Data.Links.BatchDetails == nil || p.Data.Links.BatchDetails.Href == "" {
		return fmt.Errorf("%w: batch details link is required", ErrInvalidPayload)
	}

	if p.IsError {
		if p.Data.Links.PrimaryFile != nil || p.Data.Links.OverlayFile != nil {
			return fmt.Errorf("%w: error payload must not carry file links", ErrInvalidPayload)
		}
		if p.Data.ExchangeSetCellCount != 0 {
			return fmt.Errorf("%w: error payload must report zero cells", ErrInvalidPayload)
		}
		return nil
	}

	// A successful job must link every non-empty product line. An empty
	// exchange set is valid with no file links at all.
	if p.Data.ExchangeSetCellCount > 0 && p.Data.Links.PrimaryFile == nil {
		return fmt.Errorf("%w: primary file link is required for %d cells", ErrInvalidPayload, p.Data.ExchangeSetCellCount)
	}
	if p.Data.OverlayExchangeSetCellCount != nil && *p.Data.OverlayExchangeSetCellCount > 0 && p.Data.Links.OverlayFile == nil {
		return fmt.Errorf("%w: overlay file link is required for %d overlay cells", ErrInvalidPayload, *p.Data.OverlayExchangeSetCellCount)
	}

	return nil
}
