// SPDX-License-Identifier: Apache-2.0

// Package memory is a process-local Store used in tests and with
// STORE_BACKEND=memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/domain"
	"github.com/beleidsscan/workflow-engine/internal/repository"
	"github.com/beleidsscan/workflow-engine/internal/runctx"
)

type checkpointKey struct {
	runID  uuid.UUID
	stepID string
}

type Store struct {
	mu          sync.Mutex
	runs        map[uuid.UUID]*domain.Run
	logs        map[uuid.UUID][]domain.LogEntry
	checkpoints map[checkpointKey]domain.StepCheckpoint
	seq         int64
	now         func() time.Time
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		runs:        make(map[uuid.UUID]*domain.Run),
		logs:        make(map[uuid.UUID][]domain.LogEntry),
		checkpoints: make(map[checkpointKey]domain.StepCheckpoint),
		now:         time.Now,
	}
}

func copyRun(r *domain.Run) *domain.Run {
	out := *r
	out.Params = runctx.Clone(r.Params)
	out.CompletedSteps = append([]string(nil), r.CompletedSteps...)
	if r.EndTime != nil {
		end := *r.EndTime
		out.EndTime = &end
	}
	return &out
}

func (s *Store) InsertRun(_ context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = copyRun(&run)
	return nil
}

func (s *Store) GetRun(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return copyRun(run), nil
}

func (s *Store) ReplaceParams(_ context.Context, id uuid.UUID, params map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return domain.ErrRunNotFound
	}
	run.Params = runctx.Clone(params)
	run.UpdatedAt = s.now()
	return nil
}

func (s *Store) SaveProgress(_ context.Context, id uuid.UUID, params map[string]any, completed []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return domain.ErrRunNotFound
	}
	run.Params = runctx.Clone(params)
	run.CompletedSteps = append([]string(nil), completed...)
	run.UpdatedAt = s.now()
	return nil
}

func (s *Store) TransitionStatus(_ context.Context, id uuid.UUID, upd domain.StatusUpdate) (*domain.Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, false, domain.ErrRunNotFound
	}
	if !upd.Matches(run.Status) {
		return copyRun(run), false, nil
	}

	run.Status = upd.To
	run.Error = upd.Error
	if upd.EndTime != nil {
		end := *upd.EndTime
		run.EndTime = &end
	}
	if upd.ClearPause {
		run.PauseRequested = false
	}
	run.UpdatedAt = s.now()
	return copyRun(run), true, nil
}

func (s *Store) SetPauseRequested(_ context.Context, id uuid.UUID, requested bool, when domain.RunStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return false, domain.ErrRunNotFound
	}
	if run.Status != when {
		return false, nil
	}
	run.PauseRequested = requested
	run.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) ListRunsByStatus(_ context.Context, status domain.RunStatus, limit int) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Run, 0)
	for _, run := range s.runs {
		if run.Status == status {
			out = append(out, *copyRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AppendLog(_ context.Context, entry domain.LogEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	entry.Seq = s.seq
	if entry.Detail != nil {
		entry.Detail = runctx.Clone(entry.Detail)
	}
	s.logs[entry.RunID] = append(s.logs[entry.RunID], entry)
	return entry.Seq, nil
}

func (s *Store) ListLogs(_ context.Context, runID uuid.UUID, afterSeq int64) ([]domain.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.LogEntry, 0, len(s.logs[runID]))
	for _, entry := range s.logs[runID] {
		if entry.Seq > afterSeq {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *Store) SaveCheckpoint(_ context.Context, cp domain.StepCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp.Context = runctx.Clone(cp.Context)
	s.checkpoints[checkpointKey{runID: cp.RunID, stepID: cp.StepID}] = cp
	return nil
}

func (s *Store) GetCheckpoint(_ context.Context, runID uuid.UUID, stepID string) (*domain.StepCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[checkpointKey{runID: runID, stepID: stepID}]
	if !ok {
		return nil, nil
	}
	cp.Context = runctx.Clone(cp.Context)
	return &cp, nil
}
