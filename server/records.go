package server

import (
	"database/sql"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"

	"github.com/chazu/ember/patch"
)

const hooksSchema = `
CREATE TABLE IF NOT EXISTS hook_records (
	sig    TEXT PRIMARY KEY,
	module TEXT NOT NULL,
	record BLOB NOT NULL
);`

// openHooksDB opens (or creates) the hook-record database with the
// write-ahead log and a busy timeout, then ensures the schema.
func openHooksDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("server: open %s: %w", path, err)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("server: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(hooksSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("server: create schema: %w", err)
	}
	return db, nil
}

// saveHookRecords upserts the full record set, one CBOR blob per
// method. Records are keyed by original signature, so re-saving after
// every cycle replaces rather than accumulates.
func saveHookRecords(db *sql.DB, records []patch.HookRecord) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("server: begin: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		blob, err := cbor.Marshal(rec)
		if err != nil {
			return fmt.Errorf("server: encode record %s: %w", rec.Sig, err)
		}
		_, err = tx.Exec(`
			INSERT INTO hook_records (sig, module, record) VALUES (?, ?, ?)
			ON CONFLICT(sig) DO UPDATE SET module = excluded.module, record = excluded.record
		`, rec.Sig, rec.Module, blob)
		if err != nil {
			return fmt.Errorf("server: upsert record %s: %w", rec.Sig, err)
		}
	}
	return tx.Commit()
}

// loadHookRecords reads every persisted record, sorted by signature.
func loadHookRecords(db *sql.DB) ([]patch.HookRecord, error) {
	rows, err := db.Query(`SELECT record FROM hook_records ORDER BY sig`)
	if err != nil {
		return nil, fmt.Errorf("server: query records: %w", err)
	}
	defer rows.Close()

	var records []patch.HookRecord
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("server: scan record: %w", err)
		}
		var rec patch.HookRecord
		if err := cbor.Unmarshal(blob, &rec); err != nil {
			return nil, fmt.Errorf("server: decode record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
