package marker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-map/internal/dataset"
	"traffic-map/internal/surface"
)

// recordingSurface counts every operation and can be told to fail a create.
type recordingSurface struct {
	nextID    int
	creates   int
	updates   int
	destroys  map[surface.Handle]int
	failAfter int // fail the Nth create (1-based); 0 = never
}

func newRecordingSurface() *recordingSurface {
	return &recordingSurface{destroys: make(map[surface.Handle]int)}
}

func (s *recordingSurface) Initialize(ctx context.Context, cfg surface.InitConfig) error {
	return nil
}

func (s *recordingSurface) CreateMarker(ctx context.Context, lat, lng float64, content surface.MarkerContent) (surface.Handle, error) {
	s.creates++
	if s.failAfter > 0 && s.creates >= s.failAfter {
		return "", errors.New("surface rejected create")
	}
	s.nextID++
	return surface.Handle(fmt.Sprintf("m-%d", s.nextID)), nil
}

func (s *recordingSurface) UpdateMarkerContent(ctx context.Context, h surface.Handle, content surface.MarkerContent) error {
	s.updates++
	return nil
}

func (s *recordingSurface) DestroyMarker(ctx context.Context, h surface.Handle) error {
	s.destroys[h]++
	return nil
}

func (s *recordingSurface) OpenOverlay(ctx context.Context, h surface.Handle, content surface.MarkerContent) error {
	return nil
}

func (s *recordingSurface) CloseOverlay(ctx context.Context, h surface.Handle) error {
	return nil
}

func (s *recordingSurface) operations() int {
	total := s.creates + s.updates
	for _, n := range s.destroys {
		total += n
	}
	return total
}

func readyGateway(t *testing.T, s surface.Surface) *surface.Gateway {
	t.Helper()
	gw := surface.NewGateway(s, surface.InitConfig{}, 0)
	require.NoError(t, gw.Bootstrap(context.Background()))
	return gw
}

func record(name string, lat, lng float64, summary string, causes ...string) dataset.LocationRecord {
	return dataset.LocationRecord{
		Name:           name,
		Coordinates:    dataset.Coordinates{Lat: lat, Lng: lng},
		TrafficSummary: summary,
		Causes:         causes,
	}
}

func TestReconcileFromEmptyCreatesEveryKey(t *testing.T) {
	surf := newRecordingSurface()
	rec := NewReconciler(readyGateway(t, surf), nil)

	ds := dataset.Dataset{
		record("Silk Board", 12.9177, 77.6233, "heavy"),
		record("Hebbal", 13.0358, 77.5970, "slow"),
	}

	reg, report, err := rec.Reconcile(context.Background(), NewRegistry(), ds)
	require.NoError(t, err)

	require.Len(t, reg, 2)
	for _, key := range ds.Keys() {
		_, ok := reg.Lookup(key)
		assert.True(t, ok, "key %q missing from registry", key)
	}
	assert.Len(t, report.Created, 2)
	assert.Empty(t, report.Removed)
}

func TestReconcileSameDatasetIsNoOp(t *testing.T) {
	surf := newRecordingSurface()
	rec := NewReconciler(readyGateway(t, surf), nil)

	ds := dataset.Dataset{record("Silk Board", 12.9177, 77.6233, "heavy", "rain")}

	reg, _, err := rec.Reconcile(context.Background(), NewRegistry(), ds)
	require.NoError(t, err)
	before := surf.operations()

	reg2, report, err := rec.Reconcile(context.Background(), reg, ds)
	require.NoError(t, err)

	assert.Equal(t, before, surf.operations(), "idempotent run must issue no surface calls")
	assert.True(t, report.Empty())
	assert.Equal(t, reg, reg2)
}

func TestReconcileUpdatesChangedContentInPlace(t *testing.T) {
	surf := newRecordingSurface()
	rec := NewReconciler(readyGateway(t, surf), nil)

	before := dataset.Dataset{record("Silk Board", 12.9177, 77.6233, "heavy")}
	after := dataset.Dataset{record("Silk Board", 12.9177, 77.6233, "clearing", "breakdown towed")}

	reg, _, err := rec.Reconcile(context.Background(), NewRegistry(), before)
	require.NoError(t, err)
	entry, _ := reg.Lookup(before[0].Key())

	reg2, report, err := rec.Reconcile(context.Background(), reg, after)
	require.NoError(t, err)

	assert.Len(t, report.Updated, 1)
	assert.Empty(t, report.Created)
	assert.Empty(t, report.Removed)

	// Same handle, new content: the marker was not recreated.
	entry2, ok := reg2.Lookup(after[0].Key())
	require.True(t, ok)
	assert.Equal(t, entry.Handle, entry2.Handle)
	assert.Equal(t, "clearing", entry2.Record.TrafficSummary)
	assert.Equal(t, 1, surf.updates)
}

func TestReconcileDestroysRemovedKeysExactlyOnce(t *testing.T) {
	surf := newRecordingSurface()
	rec := NewReconciler(readyGateway(t, surf), nil)

	a := dataset.Dataset{record("A", 1, 1, "x")}
	b := dataset.Dataset{record("B", 2, 2, "y")}

	reg, _, err := rec.Reconcile(context.Background(), NewRegistry(), a)
	require.NoError(t, err)
	handleA, _ := reg.Lookup(a[0].Key())

	reg, report, err := rec.Reconcile(context.Background(), reg, b)
	require.NoError(t, err)

	require.Len(t, reg, 1)
	_, ok := reg.Lookup(b[0].Key())
	assert.True(t, ok)
	_, gone := reg.Lookup(a[0].Key())
	assert.False(t, gone)

	assert.Equal(t, 1, surf.destroys[handleA.Handle], "handle for A must be destroyed exactly once")
	assert.Len(t, report.Removed, 1)
}

func TestReconcileCycleRestoresKeySet(t *testing.T) {
	surf := newRecordingSurface()
	rec := NewReconciler(readyGateway(t, surf), nil)

	d1 := dataset.Dataset{
		record("A", 1, 1, "x"),
		record("B", 2, 2, "y"),
	}
	d2 := dataset.Dataset{record("C", 3, 3, "z")}

	reg, _, err := rec.Reconcile(context.Background(), NewRegistry(), d1)
	require.NoError(t, err)
	firstKeys := reg.Keys()

	reg, _, err = rec.Reconcile(context.Background(), reg, d2)
	require.NoError(t, err)

	reg, _, err = rec.Reconcile(context.Background(), reg, d1)
	require.NoError(t, err)

	assert.ElementsMatch(t, firstKeys, reg.Keys(), "no key leakage across cycles")
}

func TestReconcilePartialFailureKeepsRegistryConsistent(t *testing.T) {
	surf := newRecordingSurface()
	surf.failAfter = 2 // second create is rejected
	rec := NewReconciler(readyGateway(t, surf), nil)

	ds := dataset.Dataset{
		record("A", 1, 1, "x"),
		record("B", 2, 2, "y"),
		record("C", 3, 3, "z"),
	}

	reg, report, err := rec.Reconcile(context.Background(), NewRegistry(), ds)
	require.Error(t, err)

	// Only the create that succeeded is registered; the batch aborted
	// before C was attempted.
	require.Len(t, reg, 1)
	_, ok := reg.Lookup(ds[0].Key())
	assert.True(t, ok)

	require.NotNil(t, report.Failed)
	assert.Equal(t, ds[1].Key(), report.Failed.Key)
	assert.Equal(t, "create", report.Failed.Op)
	assert.Len(t, report.Created, 1)
	assert.Equal(t, 2, surf.creates, "batch must abort after the failed create")
}

func TestReconcileCancellationStopsBatch(t *testing.T) {
	surf := newRecordingSurface()
	rec := NewReconciler(readyGateway(t, surf), nil)

	ds := dataset.Dataset{record("A", 1, 1, "x"), record("B", 2, 2, "y")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reg, _, err := rec.Reconcile(ctx, NewRegistry(), ds)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reg)
	assert.Equal(t, 0, surf.operations())
}

func TestReconcileNotifiesBeforeRemoval(t *testing.T) {
	surf := newRecordingSurface()

	var notified []dataset.Key
	gw := readyGateway(t, surf)
	rec := NewReconciler(gw, func(ctx context.Context, key dataset.Key) {
		notified = append(notified, key)
	})

	a := dataset.Dataset{record("A", 1, 1, "x")}
	reg, _, err := rec.Reconcile(context.Background(), NewRegistry(), a)
	require.NoError(t, err)

	_, _, err = rec.Reconcile(context.Background(), reg, dataset.Dataset{})
	require.NoError(t, err)

	assert.Equal(t, []dataset.Key{a[0].Key()}, notified)
}
