package store

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; chunk goroutines log concurrently
	db.SetMaxOpenConns(1)

	// Create events table
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS events(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL,
		level TEXT,
		code TEXT,
		msg TEXT,
		meta TEXT
	)`); err != nil {
		db.Close()
		return nil, err
	}

	// One row per remote chunk invocation; results themselves are not stored
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS invocations(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL,
		trace_id TEXT,
		req_id TEXT,
		worker_id TEXT,
		source TEXT,
		model TEXT,
		reply_to TEXT,
		item_ids TEXT,
		item_count INTEGER,
		params_json TEXT,
		dur_ms REAL,
		status TEXT,
		error TEXT
	)`); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

func (db *DB) Event(level, code, msg string, meta map[string]interface{}) error {
	m := ""
	if meta != nil {
		b, _ := json.Marshal(meta)
		m = string(b)
	}
	_, err := db.Exec(`INSERT INTO events(ts,level,code,msg,meta) VALUES(?,?,?,?,?)`,
		float64(time.Now().UnixNano())/1e9, level, code, msg, m)
	return err
}

// LogEvent writes a lifecycle event and only logs a failed write.
func (db *DB) LogEvent(level, code, msg string, meta map[string]interface{}) {
	if err := db.Event(level, code, msg, meta); err != nil {
		slog.Warn("Failed to record event", "code", code, "error", err)
	}
}

func (db *DB) Invocation(start time.Time, traceID, reqID, workerID, source, model, replyTo, itemIDs string,
	itemCount int, params string, dur time.Duration, status, errStr string) error {
	_, err := db.Exec(`INSERT INTO invocations(
		ts, trace_id, req_id, worker_id, source, model, reply_to, item_ids, item_count, params_json, dur_ms, status, error)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		float64(start.UnixNano())/1e9, traceID, reqID, workerID, source, model, replyTo, itemIDs, itemCount, params, float64(dur.Milliseconds()), status, errStr)
	return err
}
