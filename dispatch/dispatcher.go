package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"relay/interfaces"

	"golang.org/x/time/rate"
)

const (
	// DefaultDelay は連続して実行されるアクション間の待ち時間です。
	DefaultDelay = 500 * time.Millisecond
	// エラー返信の最大文字数
	maxErrorReply = 400
)

// ExecContext はコマンドの呼び出し元です。返信とデスクトップ入力の両方を提供します。
type ExecContext interface {
	interfaces.InputDriver
	Reply(ctx context.Context, msg string) error
}

// Outcome はセグメントごとの結果です。
type Outcome int

const (
	Executed Outcome = iota
	Skipped
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Executed:
		return "executed"
	case Skipped:
		return "skipped"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result はセグメント1つ分の実行結果です。
type Result struct {
	Command Command
	Outcome Outcome
	Err     error
}

// Report は1回の Run の集計です。Err は中断の原因で、成功時は nil です。
type Report struct {
	Segments int
	Results  []Result
	Err      error
}

// Count は指定した結果のセグメント数を返します。
func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Dispatcher はコマンド文字列を解析して順番に実行します。
// 状態は持たないので、複数の呼び出しから同時に使えます。
type Dispatcher struct {
	log   interfaces.Logger
	delay time.Duration
}

// New は新しい Dispatcher を作成します。delay が 0 の場合は待ち時間なしで実行します。
func New(log interfaces.Logger, delay time.Duration) *Dispatcher {
	return &Dispatcher{log: log, delay: delay}
}

// pause は直前のアクションが終わった時点から delay だけ待ちます。
func (d *Dispatcher) pause(ctx context.Context) error {
	if d.delay <= 0 {
		return nil
	}
	// 初期トークンを使い切っておくと、Wait はちょうど delay 後に戻る
	pace := rate.NewLimiter(rate.Every(d.delay), 1)
	pace.Allow()
	return pace.Wait(ctx)
}

// Run は raw を解析して実行し、結果を ec に返信します。
// 最初のエラーで残りのセグメントは実行しません。
func (d *Dispatcher) Run(ctx context.Context, raw string, ec ExecContext) Report {
	batch := Parse(raw)
	report := Report{Segments: len(batch), Results: make([]Result, 0, len(batch))}
	executed := false

	for _, cmd := range batch {
		if !cmd.Action.Known() {
			report.Results = append(report.Results, Result{Command: cmd, Outcome: Skipped})
			d.reply(ctx, ec, fmt.Sprintf("❌ Unknown command: %s", cmd.Action))
			continue
		}

		var err error
		if executed {
			err = d.pause(ctx)
		}
		if err == nil {
			err = d.execute(ctx, cmd, ec)
		}
		if err != nil {
			report.Results = append(report.Results, Result{Command: cmd, Outcome: Aborted, Err: err})
			report.Err = err
			msg := "❌ Error: " + err.Error()
			d.log.Error("PC control error", "command", cmd.String(), "error", err)
			d.reply(ctx, ec, truncate(msg, maxErrorReply))
			return report
		}
		executed = true
		report.Results = append(report.Results, Result{Command: cmd, Outcome: Executed})
	}

	d.reply(ctx, ec, fmt.Sprintf("✅ Executed %d command(s)", report.Segments))
	return report
}

func (d *Dispatcher) execute(ctx context.Context, cmd Command, in interfaces.InputDriver) error {
	switch cmd.Action {
	case ActionWrite:
		return in.Write(ctx, cmd.Argument)
	case ActionEnter:
		return in.Press(ctx, "enter")
	case ActionClick:
		return in.Click(ctx)
	case ActionMove:
		x, y, err := ParseCoordinates(cmd.Argument)
		if err != nil {
			return err
		}
		return in.MoveTo(ctx, x, y)
	case ActionPress:
		return in.Press(ctx, strings.ToLower(cmd.Argument))
	}
	return fmt.Errorf("unsupported action %q", cmd.Action)
}

// 返信の失敗はバッチを止めない
func (d *Dispatcher) reply(ctx context.Context, ec ExecContext, msg string) {
	if err := ec.Reply(ctx, msg); err != nil {
		d.log.Warn("Failed to send reply", "error", err)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
