// Package jobs は期限切れセッションの定期掃除を提供します。
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/yourusername/sid-auth/internal/logger"
	"github.com/yourusername/sid-auth/internal/sessionstore"
)

// Manager は asynq のスケジューラーとサーバーで掃除タスクを回します。
type Manager struct {
	scheduler *asynq.Scheduler
	server    *asynq.Server
	mux       *asynq.ServeMux
	interval  time.Duration
	logger    *logger.Logger
}

// NewManager は Manager を初期化します。
func NewManager(redisURL string, interval time.Duration, sweeper sessionstore.Sweeper, log *logger.Logger) (*Manager, error) {
	if sweeper == nil {
		return nil, errors.New("sweeper is nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("invalid sweep interval: %s", interval)
	}
	if log == nil {
		log = logger.Nop()
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 1,
			Queues: map[string]int{
				queueMaintenance: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.Handle(TaskTypeSessionSweep, newSweepHandler(sweeper, log))

	return &Manager{
		scheduler: asynq.NewScheduler(opt, nil),
		server:    server,
		mux:       mux,
		interval:  interval,
		logger:    log,
	}, nil
}

// Start はスケジュール登録とワーカー起動を行います。
func (m *Manager) Start() error {
	task := asynq.NewTask(TaskTypeSessionSweep, nil)
	// 複数インスタンスから同時に積まれても 1 件にまとめる
	if _, err := m.scheduler.Register(
		fmt.Sprintf("@every %s", m.interval),
		task,
		asynq.Queue(queueMaintenance),
		asynq.MaxRetry(0),
		asynq.Unique(m.interval),
	); err != nil {
		return fmt.Errorf("failed to register sweep schedule: %w", err)
	}
	if err := m.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if err := m.server.Start(m.mux); err != nil {
		m.scheduler.Shutdown()
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	m.logger.Info().Dur("interval", m.interval).Msg("session sweep scheduled")
	return nil
}

// Shutdown はスケジューラーとサーバーを停止します。
func (m *Manager) Shutdown() {
	m.scheduler.Shutdown()
	m.server.Shutdown()
}

func newSweepHandler(sweeper sessionstore.Sweeper, log *logger.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		if task.Type() != TaskTypeSessionSweep {
			return fmt.Errorf("unexpected task type: %s", task.Type())
		}
		_, err := runSweep(ctx, sweeper, log)
		return err
	}
}
