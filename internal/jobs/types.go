package jobs

import "time"

const (
	// TaskTypeSessionSweep は期限切れセッション掃除タスクの種別です。
	TaskTypeSessionSweep = "session:sweep"

	queueMaintenance = "maintenance"
)

// SweepResult は 1 回の掃除の結果です。
type SweepResult struct {
	Removed  int64         `json:"removed"`
	Duration time.Duration `json:"duration"`
}
