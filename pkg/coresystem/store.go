package coresystem

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the single-file SQL persistence layer owned by CoreSystemPlugin.
// Schema ownership and forward-compatible migration (add columns only)
// live here.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the sqlite database at path, ensures the
// parent directory exists, and brings the schema up to date.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

var memoColumns = []string{
	"id INTEGER PRIMARY KEY AUTOINCREMENT",
	"content TEXT NOT NULL",
	"status TEXT NOT NULL DEFAULT 'active'",
	"cron TEXT",
	"remind_at TIMESTAMP",
	"tags TEXT NOT NULL DEFAULT '[]'",
	"priority TEXT NOT NULL DEFAULT 'normal'",
	"todo_date INTEGER",
	"created_at TIMESTAMP NOT NULL",
	"completed_at TIMESTAMP",
	"metadata TEXT NOT NULL DEFAULT '{}'",
}

// migrate creates the memos table if absent, then adds any columns that an
// older schema version is missing, with safe defaults. Never destructive:
// existing columns and rows are untouched.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS memos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		cron TEXT,
		remind_at TIMESTAMP,
		tags TEXT NOT NULL DEFAULT '[]',
		priority TEXT NOT NULL DEFAULT 'normal',
		todo_date INTEGER,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		metadata TEXT NOT NULL DEFAULT '{}'
	);`); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	existing := make(map[string]bool)
	rows, err := s.db.Query(`PRAGMA table_info(memos)`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
		existing[name] = true
	}
	rows.Close()

	adds := map[string]string{
		"cron":         "ALTER TABLE memos ADD COLUMN cron TEXT",
		"remind_at":    "ALTER TABLE memos ADD COLUMN remind_at TIMESTAMP",
		"tags":         "ALTER TABLE memos ADD COLUMN tags TEXT NOT NULL DEFAULT '[]'",
		"priority":     "ALTER TABLE memos ADD COLUMN priority TEXT NOT NULL DEFAULT 'normal'",
		"todo_date":    "ALTER TABLE memos ADD COLUMN todo_date INTEGER",
		"completed_at": "ALTER TABLE memos ADD COLUMN completed_at TIMESTAMP",
		"metadata":     "ALTER TABLE memos ADD COLUMN metadata TEXT NOT NULL DEFAULT '{}'",
	}
	for col, stmt := range adds {
		if existing[col] {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}
	return nil
}

// CreateMemo inserts m and returns the persisted row's assigned ID.
func (s *Store) CreateMemo(m Memo) (int64, error) {
	tagsJSON, err := json.Marshal(m.Tags)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if m.Priority == "" {
		m.Priority = PriorityNormal
	}
	if m.Status == "" {
		m.Status = StatusActive
	}

	res, err := s.db.Exec(
		`INSERT INTO memos (content, status, cron, tags, priority, todo_date, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Content, m.Status, nullIfEmpty(m.Cron), string(tagsJSON), m.Priority, m.TodoDate, time.Now().UTC(), string(metaJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return id, nil
}

// CompleteMemo marks a memo completed and stamps completed_at. Returns
// ErrNotFound if no active memo with that id exists.
func (s *Store) CompleteMemo(id int64) error {
	res, err := s.db.Exec(
		`UPDATE memos SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
		StatusCompleted, time.Now().UTC(), id, StatusActive,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMemo removes a memo row outright.
func (s *Store) DeleteMemo(id int64) error {
	res, err := s.db.Exec(`DELETE FROM memos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActive returns every memo with status=active, for both the
// system.memo.list reply and restart recovery.
func (s *Store) ListActive() ([]Memo, error) {
	rows, err := s.db.Query(
		`SELECT id, content, status, cron, tags, priority, todo_date, created_at, metadata
		 FROM memos WHERE status = ? ORDER BY id`, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer rows.Close()

	var memos []Memo
	for rows.Next() {
		var m Memo
		var cron sql.NullString
		var tagsJSON, metaJSON string
		var todoDate sql.NullInt64

		if err := rows.Scan(&m.ID, &m.Content, &m.Status, &cron, &tagsJSON, &m.Priority, &todoDate, &m.CreatedAt, &metaJSON); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		if cron.Valid {
			m.Cron = cron.String
		}
		if todoDate.Valid {
			m.TodoDate = &todoDate.Int64
		}
		if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &m.Metadata); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		memos = append(memos, m)
	}
	return memos, rows.Err()
}

// GetMemo fetches a single memo by id regardless of status. Returns
// ErrNotFound if no row has that id.
func (s *Store) GetMemo(id int64) (Memo, error) {
	row := s.db.QueryRow(
		`SELECT id, content, status, cron, tags, priority, todo_date, created_at, completed_at, metadata
		 FROM memos WHERE id = ?`, id)

	var m Memo
	var cron sql.NullString
	var tagsJSON, metaJSON string
	var todoDate sql.NullInt64
	var completedAt sql.NullTime

	err := row.Scan(&m.ID, &m.Content, &m.Status, &cron, &tagsJSON, &m.Priority, &todoDate, &m.CreatedAt, &completedAt, &metaJSON)
	if err == sql.ErrNoRows {
		return Memo{}, ErrNotFound
	}
	if err != nil {
		return Memo{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if cron.Valid {
		m.Cron = cron.String
	}
	if todoDate.Valid {
		m.TodoDate = &todoDate.Int64
	}
	if completedAt.Valid {
		m.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
		return Memo{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &m.Metadata); err != nil {
		return Memo{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return m, nil
}

// UpdateMemo applies a sparse update: fields left nil/unset in upd keep
// their stored value. Returns ErrNotFound if no row has that id.
func (s *Store) UpdateMemo(id int64, upd MemoUpdate) error {
	var sets []string
	var args []any

	if upd.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *upd.Content)
	}
	if upd.Cron != nil {
		sets = append(sets, "cron = ?")
		args = append(args, nullIfEmpty(*upd.Cron))
	}
	if upd.RemindAt != nil {
		sets = append(sets, "remind_at = ?")
		args = append(args, upd.RemindAt.UTC())
	}
	if upd.HasTags {
		tagsJSON, err := json.Marshal(upd.Tags)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
		sets = append(sets, "tags = ?")
		args = append(args, string(tagsJSON))
	}
	if upd.TodoDate != nil {
		sets = append(sets, "todo_date = ?")
		args = append(args, *upd.TodoDate)
	}
	if upd.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *upd.Priority)
	}

	if len(sets) == 0 {
		_, err := s.GetMemo(id)
		return err
	}

	args = append(args, id)
	stmt := fmt.Sprintf(`UPDATE memos SET %s WHERE id = ?`, strings.Join(sets, ", "))
	res, err := s.db.Exec(stmt, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// QueryMemos runs the advanced filtered query backing system.memo.list
// once any filter field is set. The zero-value params (status "" and
// nothing else) reproduces ListActive's active-only behavior so existing
// callers sending {} see no change.
func (s *Store) QueryMemos(params MemoQueryParams) ([]Memo, error) {
	var where []string
	var args []any

	switch params.Status {
	case "":
		where = append(where, "status = ?")
		args = append(args, StatusActive)
	case StatusAll:
		// no status filter
	default:
		where = append(where, "status = ?")
		args = append(args, params.Status)
	}

	if params.MinPriority != "" {
		rank := params.MinPriority.rank()
		placeholders := make([]string, 0, 3)
		for _, p := range []Priority{PriorityLow, PriorityNormal, PriorityHigh} {
			if p.rank() >= rank {
				placeholders = append(placeholders, "?")
				args = append(args, p)
			}
		}
		if len(placeholders) > 0 {
			where = append(where, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ", ")))
		}
	}

	if params.FromDate != nil {
		where = append(where, "todo_date IS NOT NULL AND todo_date >= ?")
		args = append(args, *params.FromDate)
	}
	if params.ToDate != nil {
		where = append(where, "todo_date IS NOT NULL AND todo_date <= ?")
		args = append(args, *params.ToDate)
	}
	if params.Keyword != "" {
		where = append(where, "content LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(params.Keyword)+"%")
	}
	if len(params.Tags) > 0 {
		var tagClauses []string
		for _, tag := range params.Tags {
			tagClauses = append(tagClauses, "tags LIKE ? ESCAPE '\\'")
			args = append(args, "%\""+escapeLike(tag)+"\"%")
		}
		where = append(where, "("+strings.Join(tagClauses, " OR ")+")")
	}

	query := `SELECT id, content, status, cron, tags, priority, todo_date, created_at, completed_at, metadata FROM memos`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY (todo_date IS NULL) ASC, todo_date ASC," +
		" CASE priority WHEN 'high' THEN 2 WHEN 'normal' THEN 1 WHEN 'low' THEN 0 ELSE -1 END DESC," +
		" created_at DESC"
	if params.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, params.Limit)
		if params.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, params.Offset)
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer rows.Close()

	var memos []Memo
	for rows.Next() {
		var m Memo
		var cron sql.NullString
		var tagsJSON, metaJSON string
		var todoDate sql.NullInt64
		var completedAt sql.NullTime

		if err := rows.Scan(&m.ID, &m.Content, &m.Status, &cron, &tagsJSON, &m.Priority, &todoDate, &m.CreatedAt, &completedAt, &metaJSON); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		if cron.Valid {
			m.Cron = cron.String
		}
		if todoDate.Valid {
			m.TodoDate = &todoDate.Int64
		}
		if completedAt.Valid {
			m.CompletedAt = &completedAt.Time
		}
		if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &m.Metadata); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		memos = append(memos, m)
	}
	return memos, rows.Err()
}

// MarkExpiredMemos transitions every active memo whose todo_date has
// passed to status=expired. Returns the number of rows changed.
func (s *Store) MarkExpiredMemos(now time.Time) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE memos SET status = ? WHERE status = ? AND todo_date IS NOT NULL AND todo_date < ?`,
		StatusExpired, StatusActive, now.UTC().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return n, nil
}

// RecycleExpiredMemos hard-deletes every expired memo whose todo_date is
// older than the retention window (now - retention). Returns the number
// of rows removed.
func (s *Store) RecycleExpiredMemos(now time.Time, retention time.Duration) (int64, error) {
	cutoff := now.UTC().Add(-retention).Unix()
	res, err := s.db.Exec(
		`DELETE FROM memos WHERE status = ? AND todo_date IS NOT NULL AND todo_date < ?`,
		StatusExpired, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return n, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
