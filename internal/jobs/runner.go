package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/tidecraft/exchangeset/internal/ancillary"
	"github.com/tidecraft/exchangeset/internal/callback"
	"github.com/tidecraft/exchangeset/internal/catalogue"
	"github.com/tidecraft/exchangeset/internal/partition"
	"github.com/tidecraft/exchangeset/internal/publish"
	"github.com/tidecraft/exchangeset/internal/retrieval"
	"github.com/tidecraft/exchangeset/internal/staging"
	"github.com/tidecraft/exchangeset/internal/store"
)

// Runner executes one fulfilment job end to end: resolution, retrieval,
// partition, ancillary build, publish, callback. All per-job state lives in
// the FulfilmentJob value and the staging tree; stages share nothing else.
type Runner struct {
	Catalogue   catalogue.Source
	FileStore   store.FileStore
	Jobs        *Store
	Coordinator *retrieval.Coordinator
	Planner     partition.Planner
	Builder     ancillary.Builder
	Publisher   *publish.Pipeline
	Notifier    *callback.Notifier
	Logger      *slog.Logger

	StagingRoot string
	LinkBase    string
	JobDeadline time.Duration
}

// Run processes a validated trigger. The returned error is always a
// *Failure carrying batch and correlation ids; the job record holds the
// same uniform "fulfilment failed" signal.
func (r *Runner) Run(ctx context.Context, trigger Trigger) error {
	job := FulfilmentJob{
		BatchID:            trigger.BatchID,
		CorrelationID:      trigger.CorrelationID,
		Standard:           Standard(trigger.Standard),
		CallbackURI:        trigger.CallbackURI,
		StagingRoot:        r.StagingRoot,
		PrimaryEnabled:     !trigger.EmptyPrimarySet,
		AIOEnabled:         !trigger.EmptyOverlaySet,
		SizeThresholdBytes: r.Planner.ThresholdBytes,
		RequestedAt:        time.Now().UTC(),
	}

	if err := r.Jobs.Put(Record{
		BatchID:       job.BatchID,
		CorrelationID: job.CorrelationID,
		Standard:      job.Standard,
		Status:        StatusPending,
	}); err != nil {
		return r.fail(ctx, job, nil, "intake", err)
	}

	if r.JobDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.JobDeadline)
		defer cancel()
	}

	r.Logger.InfoContext(ctx, "fulfilment job started",
		"batch_id", job.BatchID, "correlation_id", job.CorrelationID, "standard", job.Standard)

	// Resolution: pure function of the catalogue response and request.
	resp, err := r.Catalogue.Fetch(ctx, trigger.CatalogueResponseRef)
	if err != nil {
		return r.fail(ctx, job, nil, "resolution", err)
	}

	// A trigger may declare the primary product line empty up front; the
	// catalogue response is then only consulted for the overlay.
	var resolved catalogue.ResolvedSet
	if job.PrimaryEnabled {
		resolved, err = catalogue.Resolve(resp.Products, resp.Request, job.RequestedAt)
		if err != nil {
			return r.fail(ctx, job, nil, "resolution", err)
		}
	}

	var overlayResolved catalogue.ResolvedSet
	if job.AIOEnabled && len(resp.Overlay) > 0 {
		overlayResolved, err = catalogue.Resolve(resp.Overlay, catalogue.Request{Kind: catalogue.SinceDate}, job.RequestedAt)
		if err != nil {
			return r.fail(ctx, job, nil, "resolution", err)
		}
	}

	requested := 0
	if job.PrimaryEnabled {
		requested = resp.Request.RequestedCount(len(resp.Products))
	}
	counts := &resolvedCounts{primary: resolved, overlay: overlayResolved, requested: requested}
	if err := r.Jobs.Update(job.BatchID, func(rec *Record) {
		rec.Status = StatusRetrieving
		rec.RequestedCount = requested
		rec.CellCount = len(resolved.Included)
		rec.UpToDateCount = resolved.AlreadyUpToDate
		rec.ExcludedCount = len(resolved.Excluded)
	}); err != nil {
		return r.fail(ctx, job, counts, "intake", err)
	}

	tree, err := staging.NewTree(job.StagingRoot, job.BatchID)
	if err != nil {
		return r.fail(ctx, job, counts, "retrieval", err)
	}

	// Retrieval: bounded-parallel, fails fast on a short file batch.
	manifest, err := r.Coordinator.Retrieve(ctx, tree, resolved.Included)
	if err != nil {
		return r.fail(ctx, job, counts, "retrieval", err)
	}
	var overlayManifest retrieval.Manifest
	if len(overlayResolved.Included) > 0 {
		overlayManifest, err = r.Coordinator.Retrieve(ctx, tree, overlayResolved.Included)
		if err != nil {
			return r.fail(ctx, job, counts, "retrieval", err)
		}
	}

	// Hard ordering barrier: partition layout and ancillary build only see
	// a staging tree retrieval has finished writing.
	if err := r.Jobs.SetStatus(job.BatchID, StatusBuilding); err != nil {
		return r.fail(ctx, job, counts, "build", err)
	}

	volumes, err := r.Planner.Plan(manifest, overlayManifest)
	if err != nil {
		return r.fail(ctx, job, counts, "partition", err)
	}
	if err := partition.Layout(tree, volumes); err != nil {
		return r.fail(ctx, job, counts, "partition", err)
	}

	delta := resp.Request.Kind == catalogue.SinceDate
	for _, vol := range volumes {
		err := r.Builder.Build(ancillary.Input{
			Tree:       tree,
			Volume:     vol,
			AllVolumes: volumes,
			Delta:      delta,
			BuildTime:  job.RequestedAt,
		})
		if err != nil {
			return r.fail(ctx, job, counts, "manifest", err)
		}
	}

	// Publish: each volume folder is complete and no longer written to.
	if err := r.Jobs.SetStatus(job.BatchID, StatusPublishing); err != nil {
		return r.fail(ctx, job, counts, "publish", err)
	}

	artifacts, err := r.Publisher.Publish(ctx, tree, volumes)
	if err != nil {
		return r.fail(ctx, job, counts, "publish", err)
	}

	if err := r.Jobs.Update(job.BatchID, func(rec *Record) {
		rec.Status = StatusSucceeded
		rec.VolumeCount = len(volumes)
	}); err != nil {
		return r.fail(ctx, job, counts, "publish", err)
	}

	r.Logger.InfoContext(ctx, "fulfilment job succeeded",
		"batch_id", job.BatchID, "volumes", len(volumes), "cells", len(resolved.Included))

	// Staging is this job's to destroy once the package is committed; the
	// sweep covers crashed jobs.
	if err := tree.Remove(); err != nil {
		r.Logger.WarnContext(ctx, "staging cleanup failed", "batch_id", job.BatchID, "error", err)
	}

	// Callback is best-effort and never changes the job outcome.
	payload := r.successPayload(job, counts, volumes, artifacts)
	if err := r.Notifier.Notify(ctx, job.CallbackURI, payload); err != nil {
		r.Logger.ErrorContext(ctx, "callback payload invalid", "batch_id", job.BatchID, "error", err)
	}

	return nil
}

// resolvedCounts carries the bucket counts into payload building.
type resolvedCounts struct {
	primary   catalogue.ResolvedSet
	overlay   catalogue.ResolvedSet
	requested int
}

func (r *Runner) fail(ctx context.Context, job FulfilmentJob, counts *resolvedCounts, stage string, cause error) error {
	failure := &Failure{
		BatchID:       job.BatchID,
		CorrelationID: job.CorrelationID,
		Stage:         stage,
		Err:           cause,
	}

	r.Logger.ErrorContext(ctx, "fulfilment failed",
		"batch_id", job.BatchID, "correlation_id", job.CorrelationID, "stage", stage, "error", cause)

	if err := r.Jobs.Update(job.BatchID, func(rec *Record) {
		rec.Status = StatusFailed
		rec.Stage = stage
		rec.Error = failure.Error()
	}); err != nil && err != ErrJobNotFound {
		r.Logger.ErrorContext(ctx, "recording job failure failed", "batch_id", job.BatchID, "error", err)
	}

	payload := r.errorPayload(job, counts)
	if err := r.Notifier.Notify(context.WithoutCancel(ctx), job.CallbackURI, payload); err != nil {
		r.Logger.ErrorContext(ctx, "callback payload invalid", "batch_id", job.BatchID, "error", err)
	}

	return failure
}

func (r *Runner) links(job FulfilmentJob) callback.Links {
	return callback.Links{
		BatchStatus:  &callback.Link{Href: r.LinkBase + "/v1/jobs/" + job.BatchID},
		BatchDetails: &callback.Link{Href: r.LinkBase + "/v1/jobs/" + job.BatchID + "/details"},
	}
}

func (r *Runner) successPayload(job FulfilmentJob, counts *resolvedCounts, volumes []partition.Volume, artifacts []publish.Artifact) callback.Payload {
	links := r.links(job)
	for i, vol := range volumes {
		if i >= len(artifacts) || artifacts[i].Status != publish.CommitCommitted {
			continue
		}
		url := r.FileStore.BatchURL(artifacts[i].Handle)
		if vol.Overlay {
			if links.OverlayFile == nil {
				links.OverlayFile = &callback.Link{Href: url}
			}
		} else if links.PrimaryFile == nil && vol.CellCount() > 0 {
			links.PrimaryFile = &callback.Link{Href: url}
		}
	}

	data := callback.Data{
		Links:                             links,
		RequestedProductCount:             counts.requested,
		ExchangeSetCellCount:              len(counts.primary.Included),
		RequestedProductsAlreadyUpToDate:  counts.primary.AlreadyUpToDate,
		RequestedProductsNotInExchangeSet: counts.primary.Excluded,
	}
	if job.AIOEnabled && counts.overlay.RequestedCount() > 0 {
		requested := counts.overlay.RequestedCount()
		cells := len(counts.overlay.Included)
		data.RequestedOverlayProductCount = &requested
		data.OverlayExchangeSetCellCount = &cells
	}

	return callback.Payload{ID: job.BatchID, Data: data}
}

func (r *Runner) errorPayload(job FulfilmentJob, counts *resolvedCounts) callback.Payload {
	data := callback.Data{Links: r.links(job)}
	if counts != nil {
		data.RequestedProductCount = counts.requested
		data.RequestedProductsAlreadyUpToDate = counts.primary.AlreadyUpToDate
		data.RequestedProductsNotInExchangeSet = counts.primary.Excluded
	}
	return callback.Payload{ID: job.BatchID, Data: data, IsError: true}
}
