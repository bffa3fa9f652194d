// Package agent はLLMにブラウザを1手ずつ操作させ、自然言語のタスクを実行します。
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"relay/ai"
	"relay/interfaces"
)

var (
	// ErrStepLimit はステップ数の上限までにタスクが終わらなかったことを示します。
	ErrStepLimit = errors.New("agent reached the step limit before finishing the task")
	// ErrTooManyFailures は連続した失敗が上限を超えたことを示します。
	ErrTooManyFailures = errors.New("agent failed too many times in a row")
)

const (
	DefaultMaxSteps    = 25
	DefaultMaxFailures = 3

	// プロンプトに含める直近の履歴数とページ本文の最大文字数
	historyWindow = 10
	maxPageText   = 4000
	maxElements   = 150
)

// 実行できるアクション
const (
	ActionNavigate = "navigate"
	ActionClick    = "click"
	ActionType     = "type"
	ActionScroll   = "scroll"
	ActionBack     = "back"
	ActionDone     = "done"
)

// Element はページ上の操作可能な要素です。Index はクリックや入力の対象指定に使います。
type Element struct {
	Index int    `json:"index"`
	Tag   string `json:"tag"`
	Label string `json:"label"`
}

// Page はLLMに渡すページの要約です。
type Page struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Text     string    `json:"text"`
	Elements []Element `json:"elements"`
}

// Browser はエージェントが操作するブラウザです。
type Browser interface {
	Snapshot(ctx context.Context) (Page, error)
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, index int) error
	Type(ctx context.Context, index int, text string, submit bool) error
	Scroll(ctx context.Context, down bool) error
	Back(ctx context.Context) error
}

// LLM は次のアクションを決めるモデルです。*ai.Client が実装します。
type LLM interface {
	Generate(ctx context.Context, req ai.Request) (string, error)
}

// Action はLLMが返す1手です。
type Action struct {
	Action    string `json:"action"`
	URL       string `json:"url,omitempty"`
	Index     *int   `json:"index,omitempty"`
	Text      string `json:"text,omitempty"`
	Submit    bool   `json:"submit,omitempty"`
	Direction string `json:"direction,omitempty"`
	Answer    string `json:"answer,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (a Action) String() string {
	switch a.Action {
	case ActionNavigate:
		return "navigate " + a.URL
	case ActionClick:
		return fmt.Sprintf("click [%d]", *a.Index)
	case ActionType:
		return fmt.Sprintf("type [%d] %q submit=%t", *a.Index, a.Text, a.Submit)
	case ActionScroll:
		return "scroll " + a.Direction
	}
	return a.Action
}

// Step は実行済みの1手と、その結果です。
type Step struct {
	Number int
	Action Action
	Err    error
}

// Result はタスクの実行結果です。失敗時も途中までの履歴を含みます。
type Result struct {
	Answer string
	Steps  []Step
}

// Options はエージェントの上限設定です。0 以下はデフォルト値になります。
type Options struct {
	MaxSteps    int
	MaxFailures int
	// Model が空の場合はクライアントのデフォルトモデルを使います。
	Model string
}

type Agent struct {
	llm     LLM
	browser Browser
	log     interfaces.Logger
	opts    Options
}

func New(llm LLM, browser Browser, log interfaces.Logger, opts Options) *Agent {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	return &Agent{llm: llm, browser: browser, log: log, opts: opts}
}

// Run は task が完了するか、上限に達するまでブラウザを操作します。
func (a *Agent) Run(ctx context.Context, task string) (Result, error) {
	var res Result
	failures := 0

	for n := 1; n <= a.opts.MaxSteps; n++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		step := Step{Number: n}
		act, err := a.decide(ctx, task, res.Steps)
		var llmErr *llmError
		if errors.As(err, &llmErr) {
			return res, err
		}
		if err == nil {
			step.Action = act
			if act.Action == ActionDone {
				res.Steps = append(res.Steps, step)
				res.Answer = act.Answer
				a.log.Info("Agent finished the task", "steps", n)
				return res, nil
			}
			err = a.execute(ctx, act)
		}

		step.Err = err
		res.Steps = append(res.Steps, step)
		if err != nil {
			failures++
			a.log.Warn("Agent step failed", "step", n, "action", step.Action.Action, "error", err, "consecutive_failures", failures)
			if failures > a.opts.MaxFailures {
				return res, fmt.Errorf("%w (%d): %v", ErrTooManyFailures, failures, err)
			}
			continue
		}
		failures = 0
		a.log.Info("Agent step", "step", n, "action", act.String(), "reason", act.Reason)
	}
	return res, ErrStepLimit
}

// llmError はモデル呼び出し自体の失敗です。タスクを即座に中断します。
type llmError struct{ err error }

func (e *llmError) Error() string { return "LLM request failed: " + e.err.Error() }
func (e *llmError) Unwrap() error { return e.err }

func (a *Agent) decide(ctx context.Context, task string, history []Step) (Action, error) {
	page, err := a.browser.Snapshot(ctx)
	if err != nil {
		return Action{}, fmt.Errorf("failed to read the page: %w", err)
	}

	raw, err := a.llm.Generate(ctx, ai.Request{
		Model:       a.opts.Model,
		System:      systemPrompt,
		Prompt:      buildPrompt(task, page, history),
		Temperature: ai.Float32(0),
		JSON:        true,
	})
	if err != nil {
		return Action{}, &llmError{err: err}
	}
	return ParseAction(raw)
}

func (a *Agent) execute(ctx context.Context, act Action) error {
	switch act.Action {
	case ActionNavigate:
		return a.browser.Navigate(ctx, act.URL)
	case ActionClick:
		return a.browser.Click(ctx, *act.Index)
	case ActionType:
		return a.browser.Type(ctx, *act.Index, act.Text, act.Submit)
	case ActionScroll:
		return a.browser.Scroll(ctx, act.Direction != "up")
	case ActionBack:
		return a.browser.Back(ctx)
	}
	return fmt.Errorf("unsupported action %q", act.Action)
}

// ParseAction はLLMの応答からアクションを取り出して検証します。
// コードフェンスや前後の説明文が付いていても、最初の { から最後の } までを使います。
func ParseAction(raw string) (Action, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return Action{}, fmt.Errorf("no JSON object in model response: %q", truncate(raw, 200))
	}

	var act Action
	if err := json.Unmarshal([]byte(raw[start:end+1]), &act); err != nil {
		return Action{}, fmt.Errorf("invalid action JSON: %w", err)
	}
	act.Action = strings.ToLower(strings.TrimSpace(act.Action))

	switch act.Action {
	case ActionNavigate:
		if act.URL == "" {
			return act, errors.New("navigate requires url")
		}
		if !strings.Contains(act.URL, "://") {
			act.URL = "https://" + act.URL
		}
	case ActionClick, ActionType:
		if act.Index == nil || *act.Index < 0 {
			return act, fmt.Errorf("%s requires a non-negative index", act.Action)
		}
	case ActionScroll:
		act.Direction = strings.ToLower(act.Direction)
		if act.Direction != "up" {
			act.Direction = "down"
		}
	case ActionBack, ActionDone:
	default:
		return act, fmt.Errorf("unknown action %q", act.Action)
	}
	return act, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
