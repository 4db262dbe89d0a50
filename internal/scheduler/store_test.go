package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "reminders.json"))
	require.NoError(t, err)
	return s
}

func TestAddOneShotReminder(t *testing.T) {
	s := newTestStore(t)
	at := time.Now().Add(time.Hour)

	r, err := s.Add("stand up and stretch", "", at)
	require.NoError(t, err)
	assert.False(t, r.Recurring())
	assert.WithinDuration(t, at, r.NextRun, time.Second)

	reminders := s.List()
	require.Len(t, reminders, 1)
	assert.Equal(t, "stand up and stretch", reminders[0].Message)
}

func TestAddRecurringReminder(t *testing.T) {
	s := newTestStore(t)

	r, err := s.Add("daily report", "0 9 * * *", time.Time{})
	require.NoError(t, err)
	assert.True(t, r.Recurring())
	assert.True(t, r.NextRun.After(time.Now()))
}

func TestAddValidation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add("", "", time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, karakuriErrors.ErrValidation)

	_, err = s.Add("msg", "not a cron expr", time.Time{})
	assert.ErrorIs(t, err, karakuriErrors.ErrValidation)

	_, err = s.Add("msg", "", time.Now().Add(-time.Hour))
	assert.ErrorIs(t, err, karakuriErrors.ErrValidation)

	_, err = s.Add("msg", "", time.Time{})
	assert.ErrorIs(t, err, karakuriErrors.ErrValidation)
}

func TestCancelReminder(t *testing.T) {
	s := newTestStore(t)
	r, err := s.Add("cancel me", "", time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, s.Cancel(r.ID))
	assert.Empty(t, s.List())
	assert.ErrorIs(t, s.Cancel(r.ID), karakuriErrors.ErrNotFound)
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reminders.json")
	s, err := NewStore(path)
	require.NoError(t, err)
	_, err = s.Add("persisted", "*/5 * * * *", time.Time{})
	require.NoError(t, err)

	reopened, err := NewStore(path)
	require.NoError(t, err)
	reminders := reopened.List()
	require.Len(t, reminders, 1)
	assert.Equal(t, "persisted", reminders[0].Message)
}

func TestDueAndFired(t *testing.T) {
	s := newTestStore(t)
	r, err := s.Add("one shot", "", time.Now().Add(50*time.Millisecond))
	require.NoError(t, err)

	assert.Empty(t, s.Due(time.Now()))

	later := time.Now().Add(time.Second)
	due := s.Due(later)
	require.Len(t, due, 1)

	require.NoError(t, s.Fired(r.ID, later))
	assert.Empty(t, s.List(), "one-shot reminder retires after firing")
}

func TestFiredReschedulesRecurring(t *testing.T) {
	s := newTestStore(t)
	r, err := s.Add("every minute", "* * * * *", time.Time{})
	require.NoError(t, err)

	now := time.Now().Add(2 * time.Minute)
	require.NoError(t, s.Fired(r.ID, now))

	reminders := s.List()
	require.Len(t, reminders, 1)
	assert.True(t, reminders[0].NextRun.After(now))
}

func TestEngineFiresDueReminders(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Add("ping", "", time.Now().Add(10*time.Millisecond))
	require.NoError(t, err)

	var fired []string
	engine := NewEngine(s, func(message string) { fired = append(fired, message) })

	engine.Tick(time.Now().Add(time.Second))
	require.Equal(t, []string{"ping"}, fired)
	assert.Empty(t, s.List())

	// Nothing left; a second tick is a no-op.
	engine.Tick(time.Now().Add(time.Minute))
	assert.Len(t, fired, 1)
}
