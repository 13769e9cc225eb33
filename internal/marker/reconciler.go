package marker

import (
	"context"
	"fmt"
	"sort"

	"traffic-map/internal/dataset"
	"traffic-map/internal/surface"
)

// Report is the changeset of one reconciliation run.
type Report struct {
	Created   []dataset.Key `json:"created,omitempty"`
	Updated   []dataset.Key `json:"updated,omitempty"`
	Removed   []dataset.Key `json:"removed,omitempty"`
	Unchanged []dataset.Key `json:"unchanged,omitempty"`

	// Failed names the key whose surface operation aborted the batch.
	Failed *FailedOp `json:"failed,omitempty"`
}

// FailedOp records the operation that aborted a reconciliation batch.
type FailedOp struct {
	Key dataset.Key `json:"key"`
	Op  string      `json:"op"`
	Err string      `json:"error"`
}

// Empty reports whether the run issued no surface operations.
func (r *Report) Empty() bool {
	return len(r.Created) == 0 && len(r.Updated) == 0 && len(r.Removed) == 0 && r.Failed == nil
}

// Reconciler diffs the currently-drawn marker set against a new dataset and
// issues the minimal create/update/destroy operations against the gateway.
type Reconciler struct {
	gateway *surface.Gateway

	// onRemove is notified before a marker is destroyed, so the overlay
	// anchored to it (if open) can be closed first.
	onRemove func(ctx context.Context, key dataset.Key)
}

// NewReconciler creates a Reconciler. onRemove may be nil.
func NewReconciler(gw *surface.Gateway, onRemove func(ctx context.Context, key dataset.Key)) *Reconciler {
	return &Reconciler{gateway: gw, onRemove: onRemove}
}

// Reconcile brings the drawn marker set in line with next. Removals are
// issued first, then in-place content updates, then creates, each in
// deterministic order, so an aborted batch can never leave a duplicate
// marker for one key. Unchanged keys keep their handle untouched.
//
// The returned registry always reflects exactly the operations that
// succeeded on the surface, whether the run completed, failed partway, or
// was cancelled. Reconciling the same dataset twice is a no-op.
func (r *Reconciler) Reconcile(ctx context.Context, prev Registry, next dataset.Dataset) (Registry, *Report, error) {
	result := prev.Clone()
	report := &Report{}

	nextByKey := make(map[dataset.Key]dataset.LocationRecord, len(next))
	for _, rec := range next {
		nextByKey[rec.Key()] = rec
	}

	// Keys drawn but absent from next, sorted for deterministic removal order.
	var removals []dataset.Key
	for key := range prev {
		if _, keep := nextByKey[key]; !keep {
			removals = append(removals, key)
		}
	}
	sort.Slice(removals, func(i, j int) bool { return removals[i] < removals[j] })

	for _, key := range removals {
		if err := ctx.Err(); err != nil {
			return result, report, err
		}
		if r.onRemove != nil {
			r.onRemove(ctx, key)
		}
		entry := result[key]
		if err := r.gateway.DestroyMarker(ctx, entry.Handle); err != nil {
			report.Failed = &FailedOp{Key: key, Op: "destroy", Err: err.Error()}
			return result, report, fmt.Errorf("destroy marker %q: %w", key, err)
		}
		delete(result, key)
		report.Removed = append(report.Removed, key)
	}

	// Updates and creates in dataset order.
	for _, rec := range next {
		if err := ctx.Err(); err != nil {
			return result, report, err
		}
		key := rec.Key()

		if existing, drawn := result[key]; drawn {
			if existing.Record.ContentEquals(rec) {
				report.Unchanged = append(report.Unchanged, key)
				continue
			}
			// Recreating an unchanged-position marker is visually disruptive
			// and expensive; rebind the content in place instead.
			if err := r.gateway.UpdateMarkerContent(ctx, existing.Handle, contentFor(rec)); err != nil {
				report.Failed = &FailedOp{Key: key, Op: "update", Err: err.Error()}
				return result, report, fmt.Errorf("update marker %q: %w", key, err)
			}
			result[key] = Entry{Handle: existing.Handle, Record: rec}
			report.Updated = append(report.Updated, key)
			continue
		}

		h, err := r.gateway.CreateMarker(ctx, rec.Coordinates.Lat, rec.Coordinates.Lng, contentFor(rec))
		if err != nil {
			report.Failed = &FailedOp{Key: key, Op: "create", Err: err.Error()}
			return result, report, fmt.Errorf("create marker %q: %w", key, err)
		}
		result[key] = Entry{Handle: h, Record: rec}
		report.Created = append(report.Created, key)
	}

	return result, report, nil
}

func contentFor(rec dataset.LocationRecord) surface.MarkerContent {
	return surface.MarkerContent{
		Title:     rec.Name,
		Summary:   rec.TrafficSummary,
		Causes:    rec.Causes,
		Sentiment: rec.Sentiment,
		Priority:  rec.Priority,
	}
}
