package cleanup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Job はスケジューラから実行されるジョブ。
type Job interface {
	Run(ctx context.Context) (int64, error)
}

// Scheduler はcron式に従ってジョブを定期実行する。
type Scheduler struct {
	cron   *cron.Cron
	job    Job
	logger *slog.Logger
}

// NewScheduler はspecのスケジュールでjobを実行するSchedulerを生成する。
// specは標準のcron式または"@every 1h"などの記述子を受け付ける。
func NewScheduler(spec string, job Job, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		job:    job,
		logger: logger,
	}

	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start はスケジューラを起動し、ctxがキャンセルされるまでブロックする。
// 起動直後に1回実行し、停止時は実行中のジョブの完了を待つ。
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("セッションクリーンアップスケジューラを開始しました")
	s.runOnce()

	s.cron.Start()
	<-ctx.Done()

	<-s.cron.Stop().Done()
	s.logger.Info("セッションクリーンアップスケジューラを停止しました")
}

func (s *Scheduler) runOnce() {
	// 個々の実行はスケジューラの停止と独立に完了させる
	if _, err := s.job.Run(context.Background()); err != nil {
		s.logger.Error("セッションクリーンアップに失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
