// Package cleanup は監査ログの保持期間を超えた行を削除するジョブを提供する。
// 認証イベントとチャット中継の記録を日次で削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays は監査ログの既定の保持日数。
const DefaultRetentionDays = 90

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// target は削除対象のテーブルと基準となる時刻カラム。
type target struct {
	table  string
	column string
}

var targets = []target{
	{table: "auth_events", column: "occurred_at"},
	{table: "chat_streams", column: "started_at"},
}

// CleanupJob は保持期間を超過した監査ログの削除ジョブ。
// 削除対象がなくてもエラーにならない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。retentionDaysが0以下の場合は既定値を使う。
func NewCleanupJob(db Executor, logger *slog.Logger, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: retentionDays,
	}
}

// Run は各テーブルから保持期間を超過した行を削除する。
// 途中のテーブルで失敗した場合はそこで中断してエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	interval := fmt.Sprintf("%d days", j.RetentionDays)

	var total int64
	for _, t := range targets {
		query := fmt.Sprintf(`DELETE FROM %s WHERE %s < now() - $1::interval`, t.table, t.column)
		result, err := j.db.ExecContext(ctx, query, interval)
		if err != nil {
			j.logger.Error("audit cleanup failed",
				slog.String("table", t.table),
				slog.String("error", err.Error()),
				slog.Int("retention_days", j.RetentionDays),
			)
			return fmt.Errorf("failed to clean up %s: %w", t.table, err)
		}

		deleted, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read deleted rows of %s: %w", t.table, err)
		}
		total += deleted
	}

	j.logger.Info("audit cleanup completed",
		slog.Int64("deleted_count", total),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、その後はintervalごとに実行する。ctxのキャンセルで戻る。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Warn("initial audit cleanup failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
