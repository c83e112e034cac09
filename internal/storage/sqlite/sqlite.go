package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"

	"focuslens/internal/activity"
	"focuslens/internal/storage"
)

type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

func NewSQLiteStore(dbPath string) storage.Storage {
	return &SQLiteStore{dbPath: dbPath}
}

const createSegmentsTableSQL = `
CREATE TABLE IF NOT EXISTS segments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	app_name TEXT NOT NULL,
	window_title TEXT,
	category TEXT NOT NULL,
	start_time DATETIME NOT NULL,
	end_time DATETIME NOT NULL,
	keystrokes INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_segments_start ON segments (start_time);
CREATE INDEX IF NOT EXISTS idx_segments_category ON segments (category);
CREATE INDEX IF NOT EXISTS idx_segments_session ON segments (session_id);
`

func (s *SQLiteStore) Init(ctx context.Context) error {
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create db directory %s: %w", dir, err)
	}

	log.Printf("Initializing SQLite database at: %s", s.dbPath)
	db, err := sql.Open("sqlite3", s.dbPath+"?_journal=WAL&_timeout=5000&_fk=true")
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	s.db = db

	// One writer connection; the daemon only writes when a session ends.
	s.db.SetMaxOpenConns(1)
	s.db.SetMaxIdleConns(1)
	s.db.SetConnMaxLifetime(5 * time.Minute)

	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, createSegmentsTableSQL); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to create segments table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveSegments(ctx context.Context, segments []activity.Segment) (err error) {
	if len(segments) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO segments
		(session_id, app_name, window_title, category, start_time, end_time, keystrokes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, seg := range segments {
		if _, err = stmt.ExecContext(ctx, seg.SessionID, seg.AppName, seg.WindowTitle, string(seg.Category),
			seg.StartTime.UTC(), seg.EndTime.UTC(), seg.Keystrokes); err != nil {
			return fmt.Errorf("failed to insert segment: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit segments: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSegments(ctx context.Context, start, end time.Time, categories ...activity.Category) ([]activity.Segment, error) {
	query := `SELECT id, session_id, app_name, window_title, category, start_time, end_time, keystrokes
	          FROM segments
	          WHERE end_time >= ? AND start_time <= ?`
	args := []interface{}{start.UTC(), end.UTC()}

	if len(categories) > 0 {
		placeholders := strings.Repeat("?,", len(categories)-1) + "?"
		query += fmt.Sprintf(" AND category IN (%s)", placeholders)
		for _, c := range categories {
			args = append(args, string(c))
		}
	}

	query += " ORDER BY start_time ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	var segments []activity.Segment
	for rows.Next() {
		var seg activity.Segment
		var title sql.NullString
		var category string
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.AppName, &title, &category,
			&seg.StartTime, &seg.EndTime, &seg.Keystrokes); err != nil {
			return nil, fmt.Errorf("failed to scan segment row: %w", err)
		}
		seg.WindowTitle = title.String
		seg.Category = activity.Category(category)
		segments = append(segments, seg)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating segment rows: %w", err)
	}
	return segments, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		log.Println("Closing database connection.")
		return s.db.Close()
	}
	return nil
}
