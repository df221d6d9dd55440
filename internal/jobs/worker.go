package jobs

import (
	"context"
	"time"

	"github.com/yourusername/sid-auth/internal/logger"
	"github.com/yourusername/sid-auth/internal/sessionstore"
)

// runSweep は 1 回分の掃除を実行して結果をログに残します。
func runSweep(ctx context.Context, sweeper sessionstore.Sweeper, log *logger.Logger) (SweepResult, error) {
	started := time.Now()
	removed, err := sweeper.Sweep(ctx)
	result := SweepResult{Removed: removed, Duration: time.Since(started)}
	if err != nil {
		log.Error().Err(err).Msg("session sweep failed")
		return result, err
	}
	log.Info().
		Int64("removed", result.Removed).
		Dur("duration", result.Duration).
		Msg("session sweep finished")
	return result, nil
}

// RunTicker は Redis キューを使わない構成向けに、interval ごとに掃除を実行します。
// ctx がキャンセルされるまでブロックします。
func RunTicker(ctx context.Context, interval time.Duration, sweeper sessionstore.Sweeper, log *logger.Logger) {
	if log == nil {
		log = logger.Nop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = runSweep(ctx, sweeper, log)
		}
	}
}
