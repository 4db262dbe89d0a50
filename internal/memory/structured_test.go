package memory

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
	"github.com/harunnryd/karakuri/internal/task"

	"github.com/oklog/ulid/v2"
)

func openTestDB(t *testing.T) *Structured {
	t.Helper()
	s, err := OpenStructured(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPreferencesUpsert(t *testing.T) {
	s := openTestDB(t)

	require.NoError(t, s.SetPreference("screenshot_dir", "~/Pictures", ""))
	require.NoError(t, s.SetPreference("screenshot_dir", "~/Desktop", "files"))

	assert.Equal(t, "~/Desktop", s.GetPreference("screenshot_dir", "fallback"))
	assert.Equal(t, "fallback", s.GetPreference("unknown", "fallback"))

	prefs, err := s.GetAllPreferences("files")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"screenshot_dir": "~/Desktop"}, prefs)

	prefs, err = s.GetAllPreferences("general")
	require.NoError(t, err)
	assert.Empty(t, prefs)
}

func TestRecentFilesOrderAndFilter(t *testing.T) {
	s := openTestDB(t)

	require.NoError(t, s.AddFileRecord("/tmp/a.txt", "read", "text"))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.AddFileRecord("/tmp/b.png", "create", "image"))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.AddFileRecord("/tmp/c.txt", "move", "text"))

	files, err := s.GetRecentFiles(2, "")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "/tmp/c.txt", files[0].Path)
	assert.Equal(t, "/tmp/b.png", files[1].Path)

	images, err := s.GetRecentFiles(10, "image")
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "create", images[0].Operation)
}

func TestSimilarInstructionsRankedByOverlap(t *testing.T) {
	s := openTestDB(t)

	require.NoError(t, s.AddInstruction("take a screenshot of the desktop", true, 1.2))
	require.NoError(t, s.AddInstruction("send an email to bob", true, 3.4))
	require.NoError(t, s.AddInstruction("take a screenshot and email it", false, 2.0))

	similar, err := s.GetSimilarInstructions("take screenshot", 5)
	require.NoError(t, err)
	require.Len(t, similar, 2)
	assert.Contains(t, similar[0].Instruction, "screenshot")
	assert.Contains(t, similar[1].Instruction, "screenshot")

	none, err := s.GetSimilarInstructions("restart router", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestKnowledgeTriples(t *testing.T) {
	s := openTestDB(t)

	require.NoError(t, s.AddKnowledge("bob", "email", "bob@example.com", 0.9))
	require.NoError(t, s.AddKnowledge("bob", "role", "manager", 0.8))

	triples, err := s.QueryKnowledge("bob", "email", "")
	require.NoError(t, err)
	require.Len(t, triples, 1)
	assert.Equal(t, "bob@example.com", triples[0].Object)

	all, err := s.QueryKnowledge("bob", "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTaskHistoryRoundTrip(t *testing.T) {
	s := openTestDB(t)

	record := &task.TaskRecord{
		ID:          ulid.Make().String(),
		Instruction: "organize the downloads folder",
		Steps: []task.CompactStep{
			{Type: "list_files", Action: "list downloads"},
			{Type: "file_move", Action: "move PDFs"},
		},
		Success:       true,
		Duration:      4.5,
		FilesInvolved: []string{"/home/u/Downloads/report.pdf"},
		CreatedAt:     time.Now(),
	}
	require.NoError(t, s.AddTaskRecord(record))

	history, err := s.GetTaskHistory(10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, record.Instruction, history[0].Instruction)
	assert.True(t, history[0].Success)
	require.Len(t, history[0].Steps, 2)
	assert.Equal(t, "file_move", history[0].Steps[1].Type)
	assert.Equal(t, []string{"/home/u/Downloads/report.pdf"}, history[0].FilesInvolved)

	found, err := s.SearchTaskHistory("downloads", 10)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	missing, err := s.SearchTaskHistory("spreadsheet", 10)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestFavorites(t *testing.T) {
	s := openTestDB(t)

	id, err := s.AddFavorite("clean up the desktop", "cleanup")
	require.NoError(t, err)

	favorites, err := s.ListFavorites()
	require.NoError(t, err)
	require.Len(t, favorites, 1)
	assert.Equal(t, "cleanup", favorites[0].Label)

	require.NoError(t, s.RemoveFavorite(id))
	err = s.RemoveFavorite(id)
	assert.ErrorIs(t, err, karakuriErrors.ErrNotFound)
}

func TestStructuredMemoryContext(t *testing.T) {
	s := openTestDB(t)
	assert.Empty(t, s.GetMemoryContext())

	require.NoError(t, s.SetPreference("language", "zh-CN", ""))
	require.NoError(t, s.AddFileRecord("/tmp/notes.md", "read", "text"))

	ctx := s.GetMemoryContext()
	assert.Contains(t, ctx, "User preferences:")
	assert.Contains(t, ctx, "- language: zh-CN")
	assert.Contains(t, ctx, "Recently touched files:")
	assert.Contains(t, ctx, "/tmp/notes.md (read)")
}
