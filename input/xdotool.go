// Package input は xdotool を使ってキーボードとマウスの入力をシミュレートします。
package input

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Runner は外部コマンドを実行する関数です。テストで差し替えます。
type Runner func(ctx context.Context, name string, args ...string) error

// ExecRunner は os/exec でコマンドを実行し、失敗時は標準エラー出力をエラーに含めます。
func ExecRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Xdotool は interfaces.InputDriver の xdotool 実装です。
type Xdotool struct {
	binary string
	run    Runner
}

// NewXdotool は新しい Xdotool ドライバを作成します。run が nil の場合は ExecRunner を使います。
func NewXdotool(binary string, run Runner) *Xdotool {
	if binary == "" {
		binary = "xdotool"
	}
	if run == nil {
		run = ExecRunner
	}
	return &Xdotool{binary: binary, run: run}
}

// Write は文字列をそのまま入力します。空文字列は何もしません。
func (x *Xdotool) Write(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return x.run(ctx, x.binary, "type", "--", text)
}

// Press は名前付きのキーを押します。"ctrl+c" のような組み合わせも受け付けます。
func (x *Xdotool) Press(ctx context.Context, key string) error {
	keysym, err := Keysym(key)
	if err != nil {
		return err
	}
	return x.run(ctx, x.binary, "key", "--", keysym)
}

// Click は現在のポインタ位置で左クリックします。
func (x *Xdotool) Click(ctx context.Context) error {
	return x.run(ctx, x.binary, "click", "1")
}

// MoveTo はポインタを絶対座標に移動します。
func (x *Xdotool) MoveTo(ctx context.Context, px, py int) error {
	if px < 0 || py < 0 {
		return fmt.Errorf("coordinates must not be negative: (%d, %d)", px, py)
	}
	return x.run(ctx, x.binary, "mousemove", "--sync", strconv.Itoa(px), strconv.Itoa(py))
}

// ErrEmptyKey はキー名が空のときのエラーです。
var ErrEmptyKey = errors.New("key name is empty")

// keyNames は小文字のキー名から X の keysym への対応表です。
var keyNames = map[string]string{
	"enter":       "Return",
	"return":      "Return",
	"tab":         "Tab",
	"space":       "space",
	"backspace":   "BackSpace",
	"esc":         "Escape",
	"escape":      "Escape",
	"delete":      "Delete",
	"del":         "Delete",
	"insert":      "Insert",
	"home":        "Home",
	"end":         "End",
	"pageup":      "Prior",
	"pgup":        "Prior",
	"pagedown":    "Next",
	"pgdn":        "Next",
	"up":          "Up",
	"down":        "Down",
	"left":        "Left",
	"right":       "Right",
	"ctrl":        "Control_L",
	"ctrlleft":    "Control_L",
	"ctrlright":   "Control_R",
	"shift":       "Shift_L",
	"shiftleft":   "Shift_L",
	"shiftright":  "Shift_R",
	"alt":         "Alt_L",
	"altleft":     "Alt_L",
	"altright":    "Alt_R",
	"win":         "Super_L",
	"super":       "Super_L",
	"capslock":    "Caps_Lock",
	"numlock":     "Num_Lock",
	"printscreen": "Print",
	"prtsc":       "Print",
	"pause":       "Pause",
	"volumeup":    "XF86AudioRaiseVolume",
	"volumedown":  "XF86AudioLowerVolume",
	"volumemute":  "XF86AudioMute",
	"playpause":   "XF86AudioPlay",
}

// Keysym はキー名を xdotool が受け付ける keysym に変換します。
func Keysym(key string) (string, error) {
	key = strings.TrimSpace(strings.ToLower(key))
	if key == "" {
		return "", ErrEmptyKey
	}
	if key == "+" {
		return "plus", nil
	}

	parts := strings.Split(key, "+")
	for i, part := range parts {
		if part == "" {
			return "", fmt.Errorf("invalid key combination %q", key)
		}
		parts[i] = keysymFor(part)
	}
	return strings.Join(parts, "+"), nil
}

func keysymFor(name string) string {
	if sym, ok := keyNames[name]; ok {
		return sym
	}
	// f1〜f24
	if len(name) > 1 && name[0] == 'f' {
		if n, err := strconv.Atoi(name[1:]); err == nil && n >= 1 && n <= 24 {
			return "F" + name[1:]
		}
	}
	return name
}
