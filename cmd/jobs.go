package cmd

import (
	"fmt"
	"sync"
	"time"

	"relay/interfaces"
)

const (
	watchdogSpec = "@every 5s"
	pruneSpec    = "@daily"
)

// schedulePrune は保持期間を過ぎた履歴を毎日削除するジョブを登録します。
func schedulePrune(s interfaces.Scheduler, history interfaces.HistoryStore, retention time.Duration, log interfaces.Logger) error {
	if retention <= 0 {
		return nil
	}
	prune := func() {
		n, err := history.Prune(time.Now().Add(-retention))
		if err != nil {
			log.Error("Failed to prune history", "error", err)
			return
		}
		if n > 0 {
			log.Info("Pruned history", "rows", n, "retention", retention.String())
		}
	}
	if _, err := s.AddFunc(pruneSpec, prune); err != nil {
		return fmt.Errorf("failed to schedule history prune: %w", err)
	}
	// 起動時にも一度実行する
	prune()
	return nil
}

// liveness は監視対象の状態です。
type liveness interface {
	Alive() bool
}

// scheduleWatchdog は5秒ごとに対象を確認し、停止を検出したら一度だけ onDown を呼びます。
func scheduleWatchdog(s interfaces.Scheduler, log interfaces.Logger, targets map[string]liveness, onDown func(name string)) error {
	var mu sync.Mutex
	reported := make(map[string]bool, len(targets))
	check := func() {
		mu.Lock()
		defer mu.Unlock()
		for name, t := range targets {
			if t.Alive() {
				reported[name] = false
				continue
			}
			if reported[name] {
				continue
			}
			reported[name] = true
			log.Error("Watchdog detected a stopped component", "component", name)
			onDown(name)
		}
	}
	if _, err := s.AddFunc(watchdogSpec, check); err != nil {
		return fmt.Errorf("failed to schedule watchdog: %w", err)
	}
	return nil
}
