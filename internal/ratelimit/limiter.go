// Package ratelimit は固定ウィンドウ方式のレート制限を提供します。
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result は1回の判定結果です。
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
}

// Limiter はキーごとのリクエスト数を数えて許可/拒否を判定します。
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// 古いエントリの掃除を始める件数
const pruneThreshold = 1024

type windowState struct {
	count       int
	windowStart time.Time
}

// MemoryLimiter はプロセス内のメモリでウィンドウを管理します。
type MemoryLimiter struct {
	window time.Duration
	max    int
	now    func() time.Time

	lock     sync.Mutex
	counters map[string]*windowState
}

// NewMemoryLimiter は MemoryLimiter を作成します。
func NewMemoryLimiter(window time.Duration, max int) *MemoryLimiter {
	return &MemoryLimiter{
		window:   window,
		max:      max,
		now:      time.Now,
		counters: make(map[string]*windowState),
	}
}

// Allow はキーのカウンタを進めて判定します。
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	now := l.now()
	if len(l.counters) >= pruneThreshold {
		l.prune(now)
	}

	state, ok := l.counters[key]
	if !ok || now.Sub(state.windowStart) >= l.window {
		state = &windowState{windowStart: now}
		l.counters[key] = state
	}
	state.count++

	remaining := l.max - state.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:    state.count <= l.max,
		Limit:      l.max,
		Remaining:  remaining,
		ResetAfter: state.windowStart.Add(l.window).Sub(now),
	}, nil
}

func (l *MemoryLimiter) prune(now time.Time) {
	for key, state := range l.counters {
		if now.Sub(state.windowStart) >= l.window {
			delete(l.counters, key)
		}
	}
}
