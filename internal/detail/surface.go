// Package detail is the selected-record surface of a view: what is shown
// for the selection, the lazily fetched diagnosis and the confirm-gated
// soft-delete.
package detail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"irepair-admin/internal/docstore"
	"irepair-admin/internal/models"
	"irepair-admin/internal/resolver"

	"go.uber.org/zap"
)

var (
	ErrNoSelection       = errors.New("no record selected")
	ErrInvalidTransition = errors.New("invalid action for current state")
)

// Phase of the soft-delete action
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConfirming Phase = "confirming"
	PhaseWriting    Phase = "writing"
)

// DiagnosisStatus of the lazily loaded diagnosis
type DiagnosisStatus string

const (
	DiagnosisIdle    DiagnosisStatus = "idle"
	DiagnosisLoading DiagnosisStatus = "loading"
	DiagnosisError   DiagnosisStatus = "error"
	DiagnosisLoaded  DiagnosisStatus = "loaded"
)

// Store is what the surface reads and writes
type Store interface {
	Get(ctx context.Context, collection, id string) (docstore.Document, error)
	MergeWrite(ctx context.Context, collection, id string, fields docstore.Fields) error
}

// Diagnosis is the diagnosis part of the surface
type Diagnosis struct {
	Status DiagnosisStatus
	Data   *models.Diagnosis
	Err    error
}

// State is a copy of the surface for rendering
type State struct {
	Selected  *resolver.Item
	Phase     Phase
	Err       error
	Diagnosis Diagnosis
}

// Surface is safe for concurrent use
type Surface struct {
	store      Store
	collection string
	logger     *zap.Logger
	now        func() time.Time

	mu         sync.Mutex
	selected   *resolver.Item
	gen        uint64
	phase      Phase
	err        error
	diagnosis  Diagnosis
	diagCancel context.CancelFunc
}

// Option configures a Surface
type Option func(*Surface)

// WithClock replaces time.Now for deletedAt stamps
func WithClock(now func() time.Time) Option {
	return func(s *Surface) { s.now = now }
}

// New returns a surface writing to collection
func New(store Store, collection string, logger *zap.Logger, opts ...Option) *Surface {
	s := &Surface{
		store:      store,
		collection: collection,
		logger:     logger,
		now:        time.Now,
		phase:      PhaseIdle,
		diagnosis:  Diagnosis{Status: DiagnosisIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select shows item. A pending confirmation is dropped. Not allowed while
// a write is in flight.
func (s *Surface) Select(item resolver.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseWriting {
		return ErrInvalidTransition
	}
	s.resetLocked()
	s.selected = &item
	s.startDiagnosisLocked(item)
	return nil
}

// Deselect closes the surface
func (s *Surface) Deselect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseWriting {
		return ErrInvalidTransition
	}
	s.resetLocked()
	return nil
}

// Refresh swaps in a newer copy of the selected record, keeping the phase
// and diagnosis. Items with another id are ignored.
func (s *Surface) Refresh(item resolver.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected != nil && s.selected.ID == item.ID {
		s.selected = &item
	}
}

// SelectedID returns the id of the selection, or ""
func (s *Surface) SelectedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return ""
	}
	return s.selected.ID
}

func (s *Surface) resetLocked() {
	s.gen++
	if s.diagCancel != nil {
		s.diagCancel()
		s.diagCancel = nil
	}
	s.selected = nil
	s.phase = PhaseIdle
	s.err = nil
	s.diagnosis = Diagnosis{Status: DiagnosisIdle}
}

// RequestDelete asks for confirmation: Idle to Confirming
func (s *Surface) RequestDelete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return ErrNoSelection
	}
	if s.phase != PhaseIdle {
		return ErrInvalidTransition
	}
	s.phase = PhaseConfirming
	s.err = nil
	return nil
}

// Cancel backs out of the confirmation, keeping the selection
func (s *Surface) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseConfirming {
		return ErrInvalidTransition
	}
	s.phase = PhaseIdle
	return nil
}

// Confirm soft-deletes the selected record. On success the selection is
// cleared; on failure it is kept and the error is both returned and shown.
func (s *Surface) Confirm(ctx context.Context, actor string) error {
	s.mu.Lock()
	if s.selected == nil {
		s.mu.Unlock()
		return ErrNoSelection
	}
	if s.phase != PhaseConfirming {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	s.phase = PhaseWriting
	id := s.selected.ID
	fields := docstore.Fields{
		"isDeleted": true,
		"deletedAt": s.now().UTC(),
		"deletedBy": actor,
	}
	s.mu.Unlock()

	err := s.store.MergeWrite(ctx, s.collection, id, fields)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.phase = PhaseIdle
		s.err = fmt.Errorf("failed to delete %s: %w", id, err)
		s.logger.Warn("Soft delete failed",
			zap.String("collection", s.collection),
			zap.String("id", id),
			zap.Error(err),
		)
		return s.err
	}

	s.logger.Info("Record soft deleted",
		zap.String("collection", s.collection),
		zap.String("id", id),
		zap.String("deleted_by", actor),
	)
	s.resetLocked()
	return nil
}

// State returns a copy for rendering
func (s *Surface) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Phase:     s.phase,
		Err:       s.err,
		Diagnosis: s.diagnosis,
	}
	if s.selected != nil {
		item := *s.selected
		st.Selected = &item
	}
	return st
}

// Close stops any diagnosis fetch
func (s *Surface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.diagCancel != nil {
		s.diagCancel()
		s.diagCancel = nil
	}
}

// startDiagnosisLocked uses the embedded diagnosis when present, otherwise
// fetches it by id. A result arriving after the selection changed is dropped.
func (s *Surface) startDiagnosisLocked(item resolver.Item) {
	b, ok := item.Record.(*models.Booking)
	if !ok {
		return
	}
	if b.DiagnosisData != nil {
		d := b.DiagnosisData
		s.diagnosis = Diagnosis{Status: DiagnosisLoaded, Data: &models.Diagnosis{
			ID:            string(b.DiagnosisID),
			Category:      d.Category,
			Brand:         d.Brand,
			Model:         d.Model,
			Issue:         d.Issue,
			EstimatedCost: d.EstimatedCost,
		}}
		return
	}
	if !b.NeedsDiagnosis() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.diagCancel = cancel
	s.diagnosis = Diagnosis{Status: DiagnosisLoading}
	gen := s.gen
	id := string(b.DiagnosisID)

	go func() {
		defer cancel()
		diag, err := s.fetchDiagnosis(ctx, id)

		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.gen {
			return
		}
		s.diagCancel = nil
		if err != nil {
			s.diagnosis = Diagnosis{Status: DiagnosisError, Err: err}
			return
		}
		s.diagnosis = Diagnosis{Status: DiagnosisLoaded, Data: diag}
	}()
}

func (s *Surface) fetchDiagnosis(ctx context.Context, id string) (*models.Diagnosis, error) {
	doc, err := s.store.Get(ctx, models.CollectionDiagnoses, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("diagnosis %s not found", id)
		}
		return nil, fmt.Errorf("failed to load diagnosis %s: %w", id, err)
	}
	return models.DecodeDiagnosis(doc)
}
