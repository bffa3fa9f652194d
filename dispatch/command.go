// Package dispatch はチャットから受け取ったカンマ区切りのコマンド文字列を
// デスクトップ入力アクションの列に変換し、順番に実行します。
package dispatch

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Action はコマンドの種類です。未知のアクションは小文字化した語がそのまま入ります。
type Action string

const (
	ActionWrite Action = "write"
	ActionEnter Action = "enter"
	ActionClick Action = "click"
	ActionMove  Action = "move"
	ActionPress Action = "press"
)

// Known は実行可能なアクションかどうかを返します。
func (a Action) Known() bool {
	switch a {
	case ActionWrite, ActionEnter, ActionClick, ActionMove, ActionPress:
		return true
	}
	return false
}

// Command は1セグメント分の (アクション, 引数) の組です。
type Command struct {
	Action   Action
	Argument string
}

func (c Command) String() string {
	if c.Argument == "" {
		return string(c.Action)
	}
	return string(c.Action) + " " + c.Argument
}

// Batch は1メッセージから解析されたコマンド列です。
type Batch []Command

// ParseError は引数の形式が不正なときのエラーです。
type ParseError struct {
	Action   Action
	Argument string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Action, e.Argument, e.Reason)
}

// Parse は生の文字列をカンマで分割し、空のセグメントを捨てて Batch を作ります。
func Parse(raw string) Batch {
	var batch Batch
	for _, segment := range strings.Split(raw, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		batch = append(batch, parseSegment(segment))
	}
	return batch
}

// 最初の空白の並びでアクションと引数に分ける
func parseSegment(segment string) Command {
	idx := strings.IndexFunc(segment, unicode.IsSpace)
	if idx < 0 {
		return Command{Action: Action(strings.ToLower(segment))}
	}
	return Command{
		Action:   Action(strings.ToLower(segment[:idx])),
		Argument: strings.TrimLeftFunc(segment[idx:], unicode.IsSpace),
	}
}

// ParseCoordinates は move の引数 "<x> <y>" を整数の組に変換します。
func ParseCoordinates(arg string) (int, int, error) {
	fields := strings.Fields(arg)
	if len(fields) != 2 {
		return 0, 0, &ParseError{Action: ActionMove, Argument: arg, Reason: fmt.Sprintf("expected 2 integers, got %d value(s)", len(fields))}
	}
	x, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, &ParseError{Action: ActionMove, Argument: arg, Reason: fmt.Sprintf("invalid x coordinate %q", fields[0])}
	}
	y, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, &ParseError{Action: ActionMove, Argument: arg, Reason: fmt.Sprintf("invalid y coordinate %q", fields[1])}
	}
	return x, y, nil
}
