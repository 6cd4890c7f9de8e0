package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS tasks (
    id           TEXT PRIMARY KEY,
    ts           INTEGER NOT NULL,
    task         TEXT NOT NULL DEFAULT '',
    tokens_in    INTEGER DEFAULT 0,
    tokens_out   INTEGER DEFAULT 0,
    cache_writes INTEGER DEFAULT 0,
    cache_reads  INTEGER DEFAULT 0,
    total_cost   REAL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tasks_ts ON tasks(ts);
`

// HistoryItem is the summary of one task shown in listings.
type HistoryItem struct {
	ID          string  `json:"id"`
	TS          int64   `json:"ts"`
	Task        string  `json:"task"`
	TokensIn    int     `json:"tokensIn"`
	TokensOut   int     `json:"tokensOut"`
	CacheWrites int     `json:"cacheWrites"`
	CacheReads  int     `json:"cacheReads"`
	TotalCost   float64 `json:"totalCost"`
}

// Index is the SQLite table of task summaries.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (or creates) the index database at dbPath.
func OpenIndex(dbPath string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Index{db: db}, nil
}

// Upsert stores or replaces the summary for item.ID.
func (x *Index) Upsert(item HistoryItem) error {
	_, err := x.db.Exec(`
		INSERT OR REPLACE INTO tasks
			(id, ts, task, tokens_in, tokens_out, cache_writes, cache_reads, total_cost)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.TS, item.Task,
		item.TokensIn, item.TokensOut, item.CacheWrites, item.CacheReads,
		item.TotalCost,
	)
	if err != nil {
		return fmt.Errorf("save task summary: %w", err)
	}
	return nil
}

// Get returns the summary of one task.
func (x *Index) Get(id string) (HistoryItem, error) {
	row := x.db.QueryRow(`
		SELECT id, ts, task, tokens_in, tokens_out, cache_writes, cache_reads, total_cost
		FROM tasks WHERE id = ?`, id)

	var item HistoryItem
	err := row.Scan(&item.ID, &item.TS, &item.Task,
		&item.TokensIn, &item.TokensOut, &item.CacheWrites, &item.CacheReads, &item.TotalCost)
	if err == sql.ErrNoRows {
		return HistoryItem{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return HistoryItem{}, fmt.Errorf("load task summary: %w", err)
	}
	return item, nil
}

// List returns all summaries, most recent first.
func (x *Index) List() ([]HistoryItem, error) {
	rows, err := x.db.Query(`
		SELECT id, ts, task, tokens_in, tokens_out, cache_writes, cache_reads, total_cost
		FROM tasks ORDER BY ts DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var items []HistoryItem
	for rows.Next() {
		var item HistoryItem
		if err := rows.Scan(&item.ID, &item.TS, &item.Task,
			&item.TokensIn, &item.TokensOut, &item.CacheWrites, &item.CacheReads, &item.TotalCost); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Delete removes the summary of id.
func (x *Index) Delete(id string) error {
	result, err := x.db.Exec("DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

func (x *Index) Close() error {
	return x.db.Close()
}
