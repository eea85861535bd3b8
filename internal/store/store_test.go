package store

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type vitalsRecord struct {
	ID    string `json:"id"`
	Pulse int    `json:"pulse"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{
		Seed: map[string]any{
			"patients": map[string]any{
				"p-1": map[string]any{
					"name": "Ada",
					"encounters": map[string]any{
						"e-1": map[string]any{"flowsheets": []any{}},
						"e-2": map[string]any{"flowsheets": []any{}},
					},
				},
			},
			"departments": []any{map[string]any{"id": "d-1", "name": "ICU"}},
		},
		Clock: func() time.Time { return time.Unix(1700000000, 0) },
	})
	require.NoError(t, err)
	return store
}

func TestParsePath(t *testing.T) {
	path, err := ParsePath("patients.p-1.encounters")
	require.NoError(t, err)
	assert.Equal(t, Path{"patients", "p-1", "encounters"}, path)
	assert.Equal(t, "patients.p-1.encounters", path.String())

	_, err = ParsePath("  ")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = ParsePath("patients..encounters")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestPathOverlaps(t *testing.T) {
	encounter := MustPath("patients", "p-1", "encounters", "e-1")
	assert.True(t, encounter.Overlaps(MustPath("patients")))
	assert.True(t, encounter.Overlaps(encounter.Child("flowsheets")))
	assert.False(t, encounter.Overlaps(MustPath("patients", "p-1", "encounters", "e-2")))
	assert.False(t, encounter.Overlaps(MustPath("departments")))
}

func TestStoreGetSetNested(t *testing.T) {
	store := newTestStore(t)
	path := MustPath("patients", "p-1", "encounters", "e-1", "flowsheets")

	err := store.Set(path, []vitalsRecord{{ID: "c-1", Pulse: 72}})
	require.NoError(t, err)

	var records []vitalsRecord
	found, err := store.Get(path, &records)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, records, 1)
	assert.Equal(t, 72, records[0].Pulse)
	assert.Equal(t, uint64(1), store.Revision())
}

func TestStoreGetReturnsCopies(t *testing.T) {
	store := newTestStore(t)
	path := MustPath("departments")

	var first []map[string]any
	_, err := store.Get(path, &first)
	require.NoError(t, err)
	first[0]["name"] = "mutated"

	var second []map[string]any
	_, err = store.Get(path, &second)
	require.NoError(t, err)
	assert.Equal(t, "ICU", second[0]["name"])
}

func TestStoreMissingParentFails(t *testing.T) {
	store := newTestStore(t)
	err := store.Set(MustPath("patients", "p-404", "encounters", "e-1", "flowsheets"), []any{})
	assert.True(t, errors.Is(err, ErrPathNotFound), "expected ErrPathNotFound, got %v", err)
}

func TestStoreSliceIndexPath(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Set(MustPath("departments", "0", "name"), "CCU"))

	var name string
	found, err := store.Get(MustPath("departments", "0", "name"), &name)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "CCU", name)

	err = store.Set(MustPath("departments", "3", "name"), "ED")
	assert.ErrorIs(t, err, ErrPathNotFound)
}

func TestStoreRejectsDescendingThroughScalar(t *testing.T) {
	store := newTestStore(t)
	err := store.Set(MustPath("patients", "p-1", "name", "first"), "Ada")
	assert.ErrorIs(t, err, ErrNodeType)
}

func TestSliceMissingLeafYieldsZeroValue(t *testing.T) {
	store := newTestStore(t)
	slice := NewSlice[[]vitalsRecord](store, MustPath("patients", "p-1", "encounters", "e-1", "history"))
	records, err := slice.Get()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSliceUpdateReceivesPrevious(t *testing.T) {
	store := newTestStore(t)
	slice := NewSlice[[]vitalsRecord](store, MustPath("patients", "p-1", "encounters", "e-1", "flowsheets"))

	for pulse := 70; pulse < 73; pulse++ {
		value := pulse
		err := slice.Update(func(previous []vitalsRecord) ([]vitalsRecord, error) {
			return append(previous, vitalsRecord{ID: "c", Pulse: value}), nil
		})
		require.NoError(t, err)
	}

	records, err := slice.Get()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 72, records[2].Pulse)
}

func TestSliceUpdateErrorLeavesValue(t *testing.T) {
	store := newTestStore(t)
	slice := NewSlice[[]vitalsRecord](store, MustPath("patients", "p-1", "encounters", "e-1", "flowsheets"))
	require.NoError(t, slice.Set([]vitalsRecord{{ID: "keep", Pulse: 60}}))

	sentinel := errors.New("rejected")
	err := slice.Update(func(previous []vitalsRecord) ([]vitalsRecord, error) {
		return nil, sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	records, err := slice.Get()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "keep", records[0].ID)
	assert.Equal(t, uint64(1), store.Revision())
}

func TestSubscriptionsAreNarrowedToOverlappingPaths(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	encounterOne := NewSlice[[]vitalsRecord](store, MustPath("patients", "p-1", "encounters", "e-1", "flowsheets"))
	encounterTwo := NewSlice[[]vitalsRecord](store, MustPath("patients", "p-1", "encounters", "e-2", "flowsheets"))
	departments := NewSlice[[]map[string]any](store, MustPath("departments"))

	oneStream, oneCleanup := encounterOne.Subscribe(ctx)
	defer oneCleanup()
	twoStream, twoCleanup := encounterTwo.Subscribe(ctx)
	defer twoCleanup()
	departmentStream, departmentCleanup := departments.Subscribe(ctx)
	defer departmentCleanup()
	patientStream, patientCleanup := store.Subscribe(ctx, MustPath("patients", "p-1"))
	defer patientCleanup()

	require.NoError(t, encounterOne.Set([]vitalsRecord{{ID: "c-1", Pulse: 80}}))

	select {
	case change := <-oneStream:
		assert.Equal(t, "patients.p-1.encounters.e-1.flowsheets", change.Path)
		assert.Equal(t, ChangeKindWrite, change.Kind)
		assert.Equal(t, uint64(1), change.Revision)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected change for written slice")
	}

	select {
	case <-patientStream:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected change for ancestor subscriber")
	}

	select {
	case <-twoStream:
		t.Fatal("did not expect change for sibling encounter")
	case <-departmentStream:
		t.Fatal("did not expect change for unrelated slice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscriptionCleanupOnContextCancel(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	_, cleanup := store.Subscribe(ctx, MustPath("departments"))
	defer cleanup()
	require.Equal(t, 1, store.Dispatcher().SubscriberCount())

	cancel()
	require.Eventually(t, func() bool {
		return store.Dispatcher().SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSubscriptionCleanupReleasesWatcherWithLiveContext(t *testing.T) {
	store := newTestStore(t)
	baseline := runtime.NumGoroutine()

	const subscriptions = 200
	cleanups := make([]func(), 0, subscriptions)
	for index := 0; index < subscriptions; index++ {
		_, cleanup := store.Subscribe(context.Background(), MustPath("departments"))
		cleanups = append(cleanups, cleanup)
	}
	require.Equal(t, subscriptions, store.Dispatcher().SubscriberCount())

	for _, cleanup := range cleanups {
		cleanup()
		cleanup()
	}
	require.Equal(t, 0, store.Dispatcher().SubscriberCount())
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() < baseline+subscriptions/2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotifyPublishesTickWithoutWriting(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := MustPath("patients", "p-1", "encounters", "e-1", "flowsheets")
	stream, cleanup := store.Subscribe(ctx, path)
	defer cleanup()

	store.Notify(path, ChangeKindTick)

	select {
	case change := <-stream:
		assert.Equal(t, ChangeKindTick, change.Kind)
		assert.Equal(t, uint64(0), change.Revision)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected tick notification")
	}
	assert.Equal(t, uint64(0), store.Revision())
}
