package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "robomon/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) RecordMatch(ctx context.Context, rec MatchRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	robots, err := json.Marshal(rec.Robots)
	if err != nil {
		return err
	}
	// Reactivated matches end twice; the later end wins.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO matches(match_id, start_time, end_time, robots) VALUES(?,?,?,?)
		 ON CONFLICT(match_id) DO UPDATE SET end_time=excluded.end_time, robots=excluded.robots`,
		rec.MatchID,
		rec.StartTime.Format(time.RFC3339Nano),
		rec.EndTime.Format(time.RFC3339Nano),
		string(robots),
	)
	return err
}

func (s *sqliteStore) ListMatches(ctx context.Context, limit int) ([]MatchRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT match_id, start_time, end_time, robots FROM matches ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MatchRecord
	for rows.Next() {
		var rec MatchRecord
		var start, end, robots string
		if err := rows.Scan(&rec.MatchID, &start, &end, &robots); err != nil {
			return nil, err
		}
		if rec.StartTime, err = time.Parse(time.RFC3339Nano, start); err != nil {
			return nil, fmt.Errorf("bad start_time for %s: %w", rec.MatchID, err)
		}
		if rec.EndTime, err = time.Parse(time.RFC3339Nano, end); err != nil {
			return nil, fmt.Errorf("bad end_time for %s: %w", rec.MatchID, err)
		}
		if err := json.Unmarshal([]byte(robots), &rec.Robots); err != nil {
			return nil, fmt.Errorf("bad robots for %s: %w", rec.MatchID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
