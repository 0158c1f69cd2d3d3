package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/rushteam/cropkit/core"
)

// PredictionLogSchema 是 prediction_log 表结构，NewPostgresRecorder 启动时确保存在。
const PredictionLogSchema = `
	CREATE TABLE IF NOT EXISTS prediction_log (
		id          UUID PRIMARY KEY,
		op          TEXT NOT NULL,
		request     JSONB NOT NULL,
		features    JSONB NOT NULL,
		result      TEXT NOT NULL,
		value       DOUBLE PRECISION NOT NULL,
		confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// DefaultQueueSize PostgresRecorder 默认的队列长度
const DefaultQueueSize = 1024

// insertTimeout 单次写入的超时
const insertTimeout = 5 * time.Second

// execer 是 PostgresRecorder 用到的 *sqlx.DB 方法子集
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresRecorder 将预测写入 PostgreSQL，每次预测一行。
// Record 只把事件放入队列，由后台 goroutine 写库；队列满时丢弃并打日志。
type PostgresRecorder struct {
	db   *sqlx.DB
	exec execer

	mu     sync.RWMutex
	closed bool
	queue  chan *core.PredictionEvent

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPostgresRecorder 连接数据库并确保 prediction_log 表存在。
func NewPostgresRecorder(ctx context.Context, dsn string) (*PostgresRecorder, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, PredictionLogSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create prediction_log: %w", err)
	}
	return NewPostgresRecorderWithDB(db), nil
}

// NewPostgresRecorderWithDB 使用已有连接创建记录器，Close 时关闭该连接。
func NewPostgresRecorderWithDB(db *sqlx.DB) *PostgresRecorder {
	r := newPostgresRecorder(db, DefaultQueueSize)
	r.db = db
	return r
}

func newPostgresRecorder(exec execer, queueSize int) *PostgresRecorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &PostgresRecorder{
		exec:  exec,
		queue: make(chan *core.PredictionEvent, queueSize),
	}
	r.wg.Add(1)
	go r.writeLoop()
	return r
}

// Record 异步记录一次预测（不阻塞）
func (r *PostgresRecorder) Record(ctx context.Context, event *core.PredictionEvent) error {
	if event == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil
	}
	select {
	case r.queue <- event:
	default:
		log.Printf("[feedback] prediction_log queue full, drop event %s", event.ID)
	}
	return nil
}

func (r *PostgresRecorder) writeLoop() {
	defer r.wg.Done()
	for event := range r.queue {
		if err := r.insert(event); err != nil {
			log.Printf("[feedback] insert prediction_log %s: %v", event.ID, err)
		}
	}
}

func (r *PostgresRecorder) insert(event *core.PredictionEvent) error {
	const query = `
		INSERT INTO prediction_log (
			id, op, request, features,
			result, value, confidence, recorded_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, to_timestamp($8)
		)`

	requestJSON, err := json.Marshal(event.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	featuresJSON, err := json.Marshal(event.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	_, err = r.exec.ExecContext(ctx, query,
		event.ID, event.Op, string(requestJSON), string(featuresJSON),
		event.Result, event.Value, event.Confidence, event.Timestamp,
	)
	return err
}

// Close 停止接收新事件，写完队列中剩余的事件后关闭连接。
func (r *PostgresRecorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()

		r.wg.Wait()
		if r.db != nil {
			err = r.db.Close()
		}
	})
	return err
}

var _ core.Recorder = (*PostgresRecorder)(nil)
