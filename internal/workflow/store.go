// Package workflow persists named step sequences the user can replay by
// name. Steps pass the same validation as planner output before they are
// saved.
package workflow

import (
	"bytes"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
	"github.com/harunnryd/karakuri/internal/task"

	"github.com/natefinch/atomic"
	"github.com/oklog/ulid/v2"
)

// Workflow is one saved step sequence.
type Workflow struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Steps       []*task.Step `json:"steps"`
	CreatedAt   time.Time    `json:"created_at"`
}

type workflowList struct {
	Workflows map[string]*Workflow `json:"workflows"`
}

// Store is the workflows.json-backed collection; names are unique.
type Store struct {
	path string
	mu   sync.RWMutex
	data workflowList
}

func NewStore(path string) (*Store, error) {
	s := &Store{
		path: path,
		data: workflowList{Workflows: make(map[string]*Workflow)},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	content, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(content) == 0 {
		return nil
	}
	if err := json.Unmarshal(content, &s.data); err != nil {
		return karakuriErrors.Wrap(err, "parse workflow store")
	}
	if s.data.Workflows == nil {
		s.data.Workflows = make(map[string]*Workflow)
	}
	return nil
}

func (s *Store) save() error {
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(b))
}

// Create validates and persists a new workflow.
func (s *Store) Create(name, description string, steps []*task.Step) (*Workflow, error) {
	if name == "" {
		return nil, karakuriErrors.Validation("workflow name is empty")
	}
	if len(steps) == 0 {
		return nil, karakuriErrors.Validation("workflow has no steps")
	}
	if err := task.ValidatePlan(steps); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byNameLocked(name); exists {
		return nil, karakuriErrors.Validation("workflow already exists: " + name)
	}

	w := &Workflow{
		ID:          ulid.Make().String(),
		Name:        name,
		Description: description,
		Steps:       steps,
		CreatedAt:   time.Now(),
	}
	s.data.Workflows[w.ID] = w
	if err := s.save(); err != nil {
		delete(s.data.Workflows, w.ID)
		return nil, err
	}
	return w, nil
}

// List returns every workflow, newest first.
func (s *Store) List() []*Workflow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Workflow, 0, len(s.data.Workflows))
	for _, w := range s.data.Workflows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Get returns a workflow by name.
func (s *Store) Get(name string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if w, ok := s.byNameLocked(name); ok {
		return w, nil
	}
	return nil, karakuriErrors.NotFound("workflow " + name)
}

// Delete removes a workflow by name or id.
func (s *Store) Delete(nameOrID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.data.Workflows[nameOrID]; ok {
		delete(s.data.Workflows, w.ID)
		return s.save()
	}
	if w, ok := s.byNameLocked(nameOrID); ok {
		delete(s.data.Workflows, w.ID)
		return s.save()
	}
	return karakuriErrors.NotFound("workflow " + nameOrID)
}

func (s *Store) byNameLocked(name string) (*Workflow, bool) {
	for _, w := range s.data.Workflows {
		if w.Name == name {
			return w, true
		}
	}
	return nil, false
}
