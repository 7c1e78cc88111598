package detail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"irepair-admin/internal/docstore"
	"irepair-admin/internal/models"
	"irepair-admin/internal/resolver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type write struct {
	collection string
	id         string
	fields     docstore.Fields
}

type fakeStore struct {
	mu       sync.Mutex
	writes   []write
	writeErr error
	docs     map[string]docstore.Fields
	getGate  chan struct{}
}

func (f *fakeStore) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if f.getGate != nil {
		select {
		case <-f.getGate:
		case <-ctx.Done():
			return docstore.Document{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fields, ok := f.docs[collection+"/"+id]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return docstore.Document{ID: id, Fields: fields}, nil
}

func (f *fakeStore) MergeWrite(_ context.Context, collection, id string, fields docstore.Fields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, write{collection, id, fields})
	return f.writeErr
}

var fixedNow = time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)

func newSurface(store *fakeStore) *Surface {
	return New(store, models.CollectionTechnicians, zap.NewNop(), WithClock(func() time.Time { return fixedNow }))
}

func techItem(id string) resolver.Item {
	return resolver.Item{ID: id, Record: &models.Technician{ID: id, Status: models.TechnicianApproved}}
}

func TestSurface_ConfirmWritesExactlyTheAuditFields(t *testing.T) {
	store := &fakeStore{}
	s := newSurface(store)

	require.NoError(t, s.Select(techItem("t1")))
	require.NoError(t, s.RequestDelete())
	assert.Equal(t, PhaseConfirming, s.State().Phase)
	require.NoError(t, s.Confirm(context.Background(), "admin@irepair"))

	require.Len(t, store.writes, 1)
	w := store.writes[0]
	assert.Equal(t, models.CollectionTechnicians, w.collection)
	assert.Equal(t, "t1", w.id)
	assert.Equal(t, docstore.Fields{
		"isDeleted": true,
		"deletedAt": fixedNow,
		"deletedBy": "admin@irepair",
	}, w.fields)

	st := s.State()
	assert.Nil(t, st.Selected)
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.NoError(t, st.Err)
}

func TestSurface_FailedWriteKeepsSelection(t *testing.T) {
	store := &fakeStore{writeErr: errors.New("permission denied")}
	s := newSurface(store)

	require.NoError(t, s.Select(techItem("t1")))
	require.NoError(t, s.RequestDelete())
	err := s.Confirm(context.Background(), "admin")
	require.Error(t, err)

	st := s.State()
	require.NotNil(t, st.Selected)
	assert.Equal(t, "t1", st.Selected.ID)
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.ErrorContains(t, st.Err, "permission denied")

	// the user may try again explicitly
	store.writeErr = nil
	require.NoError(t, s.RequestDelete())
	require.NoError(t, s.Confirm(context.Background(), "admin"))
	assert.Len(t, store.writes, 2)
}

func TestSurface_CancelKeepsSelectionAndWritesNothing(t *testing.T) {
	store := &fakeStore{}
	s := newSurface(store)

	require.NoError(t, s.Select(techItem("t1")))
	require.NoError(t, s.RequestDelete())
	require.NoError(t, s.Cancel())

	st := s.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Equal(t, "t1", st.Selected.ID)
	assert.Empty(t, store.writes)
}

func TestSurface_InvalidTransitions(t *testing.T) {
	s := newSurface(&fakeStore{})

	assert.ErrorIs(t, s.RequestDelete(), ErrNoSelection)
	assert.ErrorIs(t, s.Confirm(context.Background(), "admin"), ErrNoSelection)
	assert.ErrorIs(t, s.Cancel(), ErrInvalidTransition)

	require.NoError(t, s.Select(techItem("t1")))
	assert.ErrorIs(t, s.Confirm(context.Background(), "admin"), ErrInvalidTransition)
	require.NoError(t, s.RequestDelete())
	assert.ErrorIs(t, s.RequestDelete(), ErrInvalidTransition)

	// a new selection drops the pending confirmation
	require.NoError(t, s.Select(techItem("t2")))
	assert.Equal(t, PhaseIdle, s.State().Phase)
}

func TestSurface_RefreshKeepsPhase(t *testing.T) {
	s := newSurface(&fakeStore{})
	require.NoError(t, s.Select(techItem("t1")))
	require.NoError(t, s.RequestDelete())

	updated := techItem("t1")
	updated.Display = map[string]string{"name": "Renamed"}
	s.Refresh(updated)
	s.Refresh(techItem("other"))

	st := s.State()
	assert.Equal(t, PhaseConfirming, st.Phase)
	assert.Equal(t, "Renamed", st.Selected.Display["name"])
}

func bookingItem(id string, b *models.Booking) resolver.Item {
	b.ID = id
	return resolver.Item{ID: id, Record: b}
}

func TestSurface_LazyDiagnosis(t *testing.T) {
	store := &fakeStore{
		docs:    map[string]docstore.Fields{"diagnoses/d1": {"brand": "Samsung", "diagnosis": "Swollen battery"}},
		getGate: make(chan struct{}),
	}
	s := newSurface(store)

	require.NoError(t, s.Select(bookingItem("r1", &models.Booking{DiagnosisID: "d1"})))
	assert.Equal(t, DiagnosisLoading, s.State().Diagnosis.Status)

	close(store.getGate)
	require.Eventually(t, func() bool { return s.State().Diagnosis.Status == DiagnosisLoaded }, 2*time.Second, 5*time.Millisecond)
	d := s.State().Diagnosis.Data
	assert.Equal(t, "Samsung", d.Brand)
	assert.Equal(t, "Swollen battery", d.Diagnosis)
}

func TestSurface_LazyDiagnosisError(t *testing.T) {
	s := newSurface(&fakeStore{docs: map[string]docstore.Fields{}})

	require.NoError(t, s.Select(bookingItem("r1", &models.Booking{DiagnosisID: "missing"})))
	require.Eventually(t, func() bool { return s.State().Diagnosis.Status == DiagnosisError }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorContains(t, s.State().Diagnosis.Err, "not found")
	assert.Equal(t, "r1", s.State().Selected.ID)
}

func TestSurface_StaleDiagnosisIsDropped(t *testing.T) {
	store := &fakeStore{
		docs:    map[string]docstore.Fields{"diagnoses/d1": {"brand": "Samsung"}},
		getGate: make(chan struct{}),
	}
	s := newSurface(store)

	require.NoError(t, s.Select(bookingItem("r1", &models.Booking{DiagnosisID: "d1"})))
	require.NoError(t, s.Select(techItem("t1")))
	close(store.getGate)
	time.Sleep(50 * time.Millisecond)

	st := s.State()
	assert.Equal(t, "t1", st.Selected.ID)
	assert.Equal(t, DiagnosisIdle, st.Diagnosis.Status)
}

func TestSurface_EmbeddedDiagnosisNeedsNoFetch(t *testing.T) {
	s := newSurface(&fakeStore{})

	require.NoError(t, s.Select(bookingItem("a1", &models.Booking{
		DiagnosisID:   "d1",
		DiagnosisData: &models.DiagnosisSnapshot{Brand: "iPhone", Model: "13"},
	})))
	st := s.State()
	assert.Equal(t, DiagnosisLoaded, st.Diagnosis.Status)
	assert.Equal(t, "iPhone", st.Diagnosis.Data.Brand)
}
