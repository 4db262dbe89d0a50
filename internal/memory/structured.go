// Package memory persists what the engine learns: structured task and
// preference records in sqlite, and embedding-indexed recall in chromem.
package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
	"github.com/harunnryd/karakuri/internal/task"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

// Structured is the durable relational store (memory.db). All writes run
// in transactions; any error rolls back and is logged by the caller.
type Structured struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS preferences (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT 'general',
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS file_records (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	operation  TEXT NOT NULL,
	file_type  TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS instructions (
	id          TEXT PRIMARY KEY,
	instruction TEXT NOT NULL,
	success     INTEGER NOT NULL,
	duration_s  REAL NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS knowledge (
	id         TEXT PRIMARY KEY,
	subject    TEXT NOT NULL,
	predicate  TEXT NOT NULL,
	object     TEXT NOT NULL,
	confidence REAL NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS task_records (
	id             TEXT PRIMARY KEY,
	instruction    TEXT NOT NULL,
	steps_json     TEXT NOT NULL,
	success        INTEGER NOT NULL,
	duration_s     REAL NOT NULL,
	files_json     TEXT NOT NULL,
	created_at     TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS favorites (
	id          TEXT PRIMARY KEY,
	instruction TEXT NOT NULL,
	label       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_file_records_created ON file_records(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_task_records_created ON task_records(created_at DESC);
`

// OpenStructured opens (creating on first use) the sqlite store at path.
func OpenStructured(path string) (*Structured, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, karakuriErrors.Wrap(err, "open memory db")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, karakuriErrors.Wrap(err, "init memory schema")
	}
	return &Structured{db: db}, nil
}

func (s *Structured) Close() error {
	return s.db.Close()
}

func (s *Structured) tx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("Rollback failed", "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// SetPreference stores one preference; empty category means "general".
func (s *Structured) SetPreference(key, value, category string) error {
	if category == "" {
		category = "general"
	}
	return s.tx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO preferences(key, value, category, updated_at) VALUES(?,?,?,?)
			ON CONFLICT(key) DO UPDATE SET value=excluded.value, category=excluded.category, updated_at=excluded.updated_at`,
			key, value, category, time.Now())
		return err
	})
}

// GetPreference returns a preference value, or def when unset.
func (s *Structured) GetPreference(key, def string) string {
	var value string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return def
	}
	return value
}

// GetAllPreferences returns every preference, optionally filtered by
// category.
func (s *Structured) GetAllPreferences(category string) (map[string]string, error) {
	query := `SELECT key, value FROM preferences`
	args := []any{}
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// FileRecord is one remembered file operation.
type FileRecord struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Operation string    `json:"operation"`
	FileType  string    `json:"file_type"`
	CreatedAt time.Time `json:"created_at"`
}

// AddFileRecord remembers that an operation touched a file.
func (s *Structured) AddFileRecord(path, operation, fileType string) error {
	return s.tx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO file_records(id, path, operation, file_type, created_at) VALUES(?,?,?,?,?)`,
			ulid.Make().String(), path, operation, fileType, time.Now())
		return err
	})
}

// GetRecentFiles returns the newest file records, optionally filtered by
// file type.
func (s *Structured) GetRecentFiles(limit int, fileType string) ([]FileRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT id, path, operation, file_type, created_at FROM file_records`
	args := []any{}
	if fileType != "" {
		query += ` WHERE file_type = ?`
		args = append(args, fileType)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var r FileRecord
		if err := rows.Scan(&r.ID, &r.Path, &r.Operation, &r.FileType, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InstructionRecord is one remembered instruction outcome.
type InstructionRecord struct {
	ID          string    `json:"id"`
	Instruction string    `json:"instruction"`
	Success     bool      `json:"success"`
	Duration    float64   `json:"duration_s"`
	CreatedAt   time.Time `json:"created_at"`
}

// AddInstruction remembers an instruction and its outcome.
func (s *Structured) AddInstruction(instruction string, success bool, duration float64) error {
	return s.tx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO instructions(id, instruction, success, duration_s, created_at) VALUES(?,?,?,?,?)`,
			ulid.Make().String(), instruction, boolToInt(success), duration, time.Now())
		return err
	})
}

// GetSimilarInstructions ranks stored instructions by keyword overlap with
// the query. This is deliberately not embedding-based; vector memory owns
// semantic recall.
func (s *Structured) GetSimilarInstructions(query string, limit int) ([]InstructionRecord, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.Query(`SELECT id, instruction, success, duration_s, created_at FROM instructions ORDER BY created_at DESC LIMIT 200`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type scored struct {
		record InstructionRecord
		score  int
	}
	queryWords := keywords(query)

	var candidates []scored
	for rows.Next() {
		var r InstructionRecord
		var success int
		if err := rows.Scan(&r.ID, &r.Instruction, &success, &r.Duration, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Success = success != 0
		score := overlap(queryWords, keywords(r.Instruction))
		if score > 0 {
			candidates = append(candidates, scored{record: r, score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	out := make([]InstructionRecord, 0, limit)
	for i := 0; i < len(candidates) && i < limit; i++ {
		out = append(out, candidates[i].record)
	}
	return out, nil
}

// KnowledgeTriple is one subject-predicate-object fact.
type KnowledgeTriple struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

// AddKnowledge stores a fact triple.
func (s *Structured) AddKnowledge(subject, predicate, object string, confidence float64) error {
	return s.tx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO knowledge(id, subject, predicate, object, confidence, created_at) VALUES(?,?,?,?,?,?)`,
			ulid.Make().String(), subject, predicate, object, confidence, time.Now())
		return err
	})
}

// QueryKnowledge returns triples matching the non-empty fields.
func (s *Structured) QueryKnowledge(subject, predicate, object string) ([]KnowledgeTriple, error) {
	query := `SELECT subject, predicate, object, confidence FROM knowledge WHERE 1=1`
	args := []any{}
	if subject != "" {
		query += ` AND subject = ?`
		args = append(args, subject)
	}
	if predicate != "" {
		query += ` AND predicate = ?`
		args = append(args, predicate)
	}
	if object != "" {
		query += ` AND object = ?`
		args = append(args, object)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KnowledgeTriple
	for rows.Next() {
		var t KnowledgeTriple
		if err := rows.Scan(&t.Subject, &t.Predicate, &t.Object, &t.Confidence); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AddTaskRecord persists the immutable record of one completed task.
// Called exactly once per task, success or failure.
func (s *Structured) AddTaskRecord(record *task.TaskRecord) error {
	stepsJSON, err := json.Marshal(record.Steps)
	if err != nil {
		return err
	}
	filesJSON, err := json.Marshal(record.FilesInvolved)
	if err != nil {
		return err
	}

	return s.tx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO task_records(id, instruction, steps_json, success, duration_s, files_json, created_at) VALUES(?,?,?,?,?,?,?)`,
			record.ID, record.Instruction, string(stepsJSON), boolToInt(record.Success), record.Duration, string(filesJSON), record.CreatedAt)
		return err
	})
}

// GetTaskHistory returns the newest task records.
func (s *Structured) GetTaskHistory(limit int) ([]task.TaskRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryTasks(`SELECT id, instruction, steps_json, success, duration_s, files_json, created_at FROM task_records ORDER BY created_at DESC LIMIT ?`, limit)
}

// SearchTaskHistory returns task records whose instruction contains the
// query substring.
func (s *Structured) SearchTaskHistory(query string, limit int) ([]task.TaskRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryTasks(`SELECT id, instruction, steps_json, success, duration_s, files_json, created_at FROM task_records WHERE instruction LIKE ? ORDER BY created_at DESC LIMIT ?`,
		"%"+query+"%", limit)
}

func (s *Structured) queryTasks(query string, args ...any) ([]task.TaskRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.TaskRecord
	for rows.Next() {
		var r task.TaskRecord
		var success int
		var stepsJSON, filesJSON string
		if err := rows.Scan(&r.ID, &r.Instruction, &stepsJSON, &success, &r.Duration, &filesJSON, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Success = success != 0
		if err := json.Unmarshal([]byte(stepsJSON), &r.Steps); err != nil {
			slog.Warn("Corrupt steps json in task record", "id", r.ID, "error", err)
		}
		if err := json.Unmarshal([]byte(filesJSON), &r.FilesInvolved); err != nil {
			slog.Warn("Corrupt files json in task record", "id", r.ID, "error", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Favorite is a pinned instruction.
type Favorite struct {
	ID          string    `json:"id"`
	Instruction string    `json:"instruction"`
	Label       string    `json:"label"`
	CreatedAt   time.Time `json:"created_at"`
}

// AddFavorite pins an instruction and returns its id.
func (s *Structured) AddFavorite(instruction, label string) (string, error) {
	id := ulid.Make().String()
	err := s.tx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO favorites(id, instruction, label, created_at) VALUES(?,?,?,?)`,
			id, instruction, label, time.Now())
		return err
	})
	return id, err
}

// ListFavorites returns every pinned instruction, newest first.
func (s *Structured) ListFavorites() ([]Favorite, error) {
	rows, err := s.db.Query(`SELECT id, instruction, label, created_at FROM favorites ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Favorite
	for rows.Next() {
		var f Favorite
		if err := rows.Scan(&f.ID, &f.Instruction, &f.Label, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RemoveFavorite unpins by id.
func (s *Structured) RemoveFavorite(id string) error {
	return s.tx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM favorites WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return karakuriErrors.NotFound("favorite " + id)
		}
		return nil
	})
}

// GetMemoryContext assembles a concise, bounded summary for the planner
// prompt: top preferences, recent files, and high-confidence knowledge.
func (s *Structured) GetMemoryContext() string {
	var sections []string

	if prefs, err := s.GetAllPreferences(""); err == nil && len(prefs) > 0 {
		keys := make([]string, 0, len(prefs))
		for k := range prefs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > 8 {
			keys = keys[:8]
		}
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("- %s: %s", k, prefs[k]))
		}
		sections = append(sections, "User preferences:\n"+strings.Join(lines, "\n"))
	}

	if files, err := s.GetRecentFiles(5, ""); err == nil && len(files) > 0 {
		lines := make([]string, 0, len(files))
		for _, f := range files {
			lines = append(lines, fmt.Sprintf("- %s (%s)", f.Path, f.Operation))
		}
		sections = append(sections, "Recently touched files:\n"+strings.Join(lines, "\n"))
	}

	return strings.Join(sections, "\n\n")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func keywords(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if len(word) < 2 {
			continue
		}
		out[word] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	count := 0
	for w := range a {
		if _, ok := b[w]; ok {
			count++
		}
	}
	return count
}
