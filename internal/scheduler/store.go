// Package scheduler persists reminders and fires them when due. Recurring
// reminders use standard cron expressions; one-shot reminders carry an
// absolute time.
package scheduler

import (
	"bytes"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"

	"github.com/natefinch/atomic"
	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
)

// Reminder is one scheduled notification. Schedule and At are mutually
// exclusive: a cron expression makes it recurring, a timestamp one-shot.
type Reminder struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Schedule  string    `json:"schedule,omitempty"`
	At        time.Time `json:"at,omitempty"`
	NextRun   time.Time `json:"next_run"`
	CreatedAt time.Time `json:"created_at"`
}

// Recurring reports whether the reminder reschedules after firing.
func (r *Reminder) Recurring() bool {
	return r.Schedule != ""
}

type reminderList struct {
	Reminders map[string]*Reminder `json:"reminders"`
}

// Store is the JSON-file-backed reminder collection. All writes go
// through atomic file replacement.
type Store struct {
	path string
	mu   sync.RWMutex
	data reminderList
}

func NewStore(path string) (*Store, error) {
	s := &Store{
		path: path,
		data: reminderList{Reminders: make(map[string]*Reminder)},
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
		return karakuriErrors.Wrap(err, "parse reminder store")
	}
	if s.data.Reminders == nil {
		s.data.Reminders = make(map[string]*Reminder)
	}
	return nil
}

// save writes the list; lock held by caller.
func (s *Store) save() error {
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(b))
}

// Add validates the schedule and persists a new reminder, returning its id.
// Exactly one of schedule and at must be set.
func (s *Store) Add(message, schedule string, at time.Time) (*Reminder, error) {
	if message == "" {
		return nil, karakuriErrors.Validation("reminder message is empty")
	}

	r := &Reminder{
		ID:        ulid.Make().String(),
		Message:   message,
		CreatedAt: time.Now(),
	}

	switch {
	case schedule != "":
		parsed, err := cron.ParseStandard(schedule)
		if err != nil {
			return nil, karakuriErrors.Validation("invalid cron expression: " + err.Error())
		}
		r.Schedule = schedule
		r.NextRun = parsed.Next(time.Now())
	case !at.IsZero():
		if at.Before(time.Now()) {
			return nil, karakuriErrors.Validation("reminder time is in the past")
		}
		r.At = at
		r.NextRun = at
	default:
		return nil, karakuriErrors.Validation("reminder needs a cron schedule or a time")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Reminders[r.ID] = r
	if err := s.save(); err != nil {
		delete(s.data.Reminders, r.ID)
		return nil, err
	}
	return r, nil
}

// List returns every reminder ordered by next run.
func (s *Store) List() []*Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Reminder, 0, len(s.data.Reminders))
	for _, r := range s.data.Reminders {
		copied := *r
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(out[j].NextRun) })
	return out
}

// Cancel removes a reminder by id.
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Reminders[id]; !ok {
		return karakuriErrors.NotFound("reminder " + id)
	}
	delete(s.data.Reminders, id)
	return s.save()
}

// Due returns reminders whose next run is at or before now.
func (s *Store) Due(now time.Time) []*Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Reminder
	for _, r := range s.data.Reminders {
		if !r.NextRun.After(now) {
			copied := *r
			out = append(out, &copied)
		}
	}
	return out
}

// Fired reschedules a recurring reminder or retires a one-shot one.
func (s *Store) Fired(id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.data.Reminders[id]
	if !ok {
		return karakuriErrors.NotFound("reminder " + id)
	}

	if !r.Recurring() {
		delete(s.data.Reminders, id)
		return s.save()
	}

	parsed, err := cron.ParseStandard(r.Schedule)
	if err != nil {
		// The expression was validated on Add; a parse failure here means
		// the store file was edited by hand. Retire the reminder.
		delete(s.data.Reminders, id)
		return s.save()
	}
	r.NextRun = parsed.Next(now)
	return s.save()
}
