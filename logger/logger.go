package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options はロガーの出力先とローテーション設定です。
type Options struct {
	File       string
	Level      string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// Logger は slog.Logger を interfaces.Logger として公開する薄いラッパーです。
type Logger struct {
	l    *slog.Logger
	file *lumberjack.Logger
}

// New はコンソールとローテーション付きファイルの両方に JSON で出力するロガーを作成します。
// File が空の場合はコンソールのみに出力します。
func New(opts Options) *Logger {
	var out io.Writer = os.Stdout
	var file *lumberjack.Logger
	if opts.File != "" {
		// ログローテーションの設定
		file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		}
		out = io.MultiWriter(os.Stdout, file)
	}

	l := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		AddSource: true,
		Level:     parseLevel(opts.Level),
	}))
	return &Logger{l: l, file: file}
}

// Discard はすべての出力を捨てるロガーです。テストで使います。
func Discard() *Logger {
	return FromSlog(slog.New(slog.DiscardHandler))
}

// FromSlog は既存の slog.Logger を包みます。
func FromSlog(l *slog.Logger) *Logger {
	return &Logger{l: l}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// Debugレベルのログを出力
func (g *Logger) Debug(msg string, args ...any) {
	g.l.Debug(msg, args...)
}

// Infoレベルのログを出力
// 例: log.Info("Botが起動しました", "version", "1.2.3")
func (g *Logger) Info(msg string, args ...any) {
	g.l.Info(msg, args...)
}

// Warnレベルのログを出力
func (g *Logger) Warn(msg string, args ...any) {
	g.l.Warn(msg, args...)
}

// Errorレベルのログを出力
// 例: log.Error("コマンドの実行に失敗", "error", err, "command", "pc")
func (g *Logger) Error(msg string, args ...any) {
	g.l.Error(msg, args...)
}

// Fatalレベルのログを出力（出力後にプログラムを終了）
func (g *Logger) Fatal(msg string, args ...any) {
	g.l.Error(msg, args...)
	g.Close()
	os.Exit(1)
}

// With は属性を付与した子ロガーを返します。ファイルは親と共有します。
func (g *Logger) With(args ...any) *Logger {
	return &Logger{l: g.l.With(args...), file: g.file}
}

// Close はログファイルを閉じます。
func (g *Logger) Close() error {
	if g.file == nil {
		return nil
	}
	return g.file.Close()
}
