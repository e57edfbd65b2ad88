package jobs

import (
	"fmt"
	"time"
)

// Standard names the product line a job fulfils.
type Standard string

const (
	StandardPrimary   Standard = "primary"
	StandardSecondary Standard = "secondary"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRetrieving Status = "retrieving"
	StatusBuilding   Status = "building"
	StatusPublishing Status = "publishing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// FulfilmentJob is the immutable per-job value threaded through every
// pipeline stage. It owns the staging directory for its whole lifetime.
type FulfilmentJob struct {
	BatchID            string
	CorrelationID      string
	Standard           Standard
	CallbackURI        string
	StagingRoot        string
	PrimaryEnabled     bool
	AIOEnabled         bool
	SizeThresholdBytes int64
	RequestedAt        time.Time
}

// Trigger is the inbound job trigger from the external queue collaborator.
type Trigger struct {
	BatchID              string `json:"batchId"`
	CorrelationID        string `json:"correlationId"`
	Standard             string `json:"standard"`
	CatalogueResponseRef string `json:"catalogueResponseRef"`
	CallbackURI          string `json:"callbackUri,omitempty"`
	EmptyPrimarySet      bool   `json:"emptyPrimarySet"`
	EmptyOverlaySet      bool   `json:"emptyOverlaySet"`
}

// Validate checks the trigger's required fields.
func (t Trigger) Validate() error {
	if t.BatchID == "" {
		return fmt.Errorf("batchId is required")
	}
	if t.CorrelationID == "" {
		return fmt.Errorf("correlationId is required")
	}
	switch Standard(t.Standard) {
	case StandardPrimary, StandardSecondary:
	default:
		return fmt.Errorf("standard must be %q or %q", StandardPrimary, StandardSecondary)
	}
	if t.CatalogueResponseRef == "" {
		return fmt.Errorf("catalogueResponseRef is required")
	}
	return nil
}

// Failure is the uniform job-fatal error signal. Every job-fatal error
// carries the batch and correlation ids for operator diagnosis.
type Failure struct {
	BatchID       string
	CorrelationID string
	Stage         string
	Err           error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("fulfilment failed: batch %s correlation %s stage %s: %v",
		f.BatchID, f.CorrelationID, f.Stage, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}
