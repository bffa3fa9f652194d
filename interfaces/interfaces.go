package interfaces

import (
	"context"
	"time"

	"relay/storage"

	"github.com/robfig/cron/v3"
)

// Logger は、アプリケーション全体で使用されるロガーのインターフェースを定義します。
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Fatal(msg string, args ...any)
}

// InputDriver は、デスクトップ入力のシミュレーションを行うインターフェースです。
type InputDriver interface {
	Write(ctx context.Context, text string) error
	Press(ctx context.Context, key string) error
	Click(ctx context.Context) error
	MoveTo(ctx context.Context, x, y int) error
}

// HistoryStore は、実行履歴を保存するストアのインターフェースです。
type HistoryStore interface {
	Close()
	RecordDispatch(rec storage.DispatchRecord) error
	RecordInference(rec storage.InferenceRecord) error
	Prune(before time.Time) (int64, error)
}

// Scheduler は、タスクのスケジューリング機能のインターフェースを定義します。
type Scheduler interface {
	Start()
	Stop() context.Context
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
}
