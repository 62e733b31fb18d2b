package repository

import (
	"context"
	"time"

	"github.com/aigoflow/helix/internal/models"
	"github.com/aigoflow/helix/internal/store"
)

// SQLiteRepository implements Repository interface using SQLite
type SQLiteRepository struct {
	db             *store.DB
	invocationRepo InvocationRepositoryInterface
	eventRepo      EventRepositoryInterface
}

func NewSQLiteRepository(db *store.DB) Repository {
	return &SQLiteRepository{
		db:             db,
		invocationRepo: &SQLiteInvocationRepository{db: db},
		eventRepo:      &SQLiteEventRepository{db: db},
	}
}

func (r *SQLiteRepository) Invocation() InvocationRepositoryInterface {
	return r.invocationRepo
}

func (r *SQLiteRepository) Event() EventRepositoryInterface {
	return r.eventRepo
}

// SQLiteInvocationRepository handles chunk invocation logging
type SQLiteInvocationRepository struct {
	db *store.DB
}

func (r *SQLiteInvocationRepository) LogInvocation(ctx context.Context, inv *models.InvocationLog) error {
	return r.db.Invocation(
		inv.Timestamp,
		inv.TraceID,
		inv.ReqID,
		inv.WorkerID,
		inv.Source,
		inv.Model,
		inv.ReplyTo,
		inv.ItemIDs,
		inv.ItemCount,
		inv.ParamsJSON,
		time.Duration(inv.DurationMs)*time.Millisecond,
		inv.Status,
		inv.Error,
	)
}

func (r *SQLiteInvocationRepository) GetInvocationLogs(ctx context.Context, limit int) ([]*models.InvocationLog, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT ts,trace_id,req_id,worker_id,source,model,reply_to,item_ids,item_count,params_json,dur_ms,status,error FROM invocations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.InvocationLog
	for rows.Next() {
		var log models.InvocationLog
		var tsFloat, durFloat float64

		if err := rows.Scan(
			&tsFloat, &log.TraceID, &log.ReqID, &log.WorkerID, &log.Source, &log.Model,
			&log.ReplyTo, &log.ItemIDs, &log.ItemCount, &log.ParamsJSON,
			&durFloat, &log.Status, &log.Error,
		); err != nil {
			return nil, err
		}
		log.Timestamp = time.Unix(0, int64(tsFloat*1e9))
		log.DurationMs = int64(durFloat)
		logs = append(logs, &log)
	}

	return logs, rows.Err()
}

// SQLiteEventRepository handles event logging
type SQLiteEventRepository struct {
	db *store.DB
}

func (r *SQLiteEventRepository) LogEvent(ctx context.Context, level, code, msg string, meta map[string]interface{}) error {
	return r.db.Event(level, code, msg, meta)
}
