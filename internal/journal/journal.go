// Package journal persists executed orders to SQLite for analysis and audit.
// It is a write-behind record of settlements, separate from the JSON store
// that owns the live state.
package journal

import (
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"broker-simv1/internal/model"
)

// Journal is an append-only SQLite log of executed orders.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the journal database.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		action      TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		asset_type  TEXT NOT NULL,
		quantity    TEXT NOT NULL,
		price       TEXT NOT NULL,
		total       TEXT NOT NULL,
		executed_at DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_executions_symbol ON executions(symbol);
	CREATE INDEX IF NOT EXISTS idx_executions_executed_at ON executions(executed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened execution journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordExecution appends an executed order to the journal. Quantities and
// prices are stored as decimal strings to avoid float drift.
func (j *Journal) RecordExecution(o model.Order) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	executedAt := time.Now().UTC()
	if o.ExecutedAt != nil {
		executedAt = *o.ExecutedAt
	}
	_, err := j.db.Exec(
		`INSERT INTO executions (order_id, action, symbol, asset_type, quantity, price, total, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID,
		string(o.Side),
		o.Symbol,
		string(o.Asset),
		o.Quantity.String(),
		o.Price.String(),
		o.Total.String(),
		executedAt.Format(time.RFC3339),
	)
	return err
}

// ExecutionRecord represents a row from the executions table.
type ExecutionRecord struct {
	ID         int64  `json:"id"`
	OrderID    string `json:"order_id"`
	Action     string `json:"action"`
	Symbol     string `json:"symbol"`
	AssetType  string `json:"asset_type"`
	Quantity   string `json:"quantity"`
	Price      string `json:"price"`
	Total      string `json:"total"`
	ExecutedAt string `json:"executed_at"`
}

// GetExecutions returns the last N executions, newest first.
func (j *Journal) GetExecutions(limit int) ([]ExecutionRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, order_id, action, symbol, asset_type, quantity, price, total, executed_at
		 FROM executions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []ExecutionRecord
	for rows.Next() {
		var r ExecutionRecord
		if err := rows.Scan(&r.ID, &r.OrderID, &r.Action, &r.Symbol, &r.AssetType,
			&r.Quantity, &r.Price, &r.Total, &r.ExecutedAt); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
