// Package cmd はチャット操作ボット、推論サーバー、ブラウザエージェントの各サブコマンドを提供します。
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"relay/config"
	"relay/interfaces"
	"relay/logger"
	"relay/storage"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "relay",
	Short:         "Chat-driven desktop control, a tunnelled inference endpoint and a browser agent",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the CLI application.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default ./config.yaml)")
	rootCmd.AddCommand(botCmd, serveCmd, agentCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Options{
		File:       cfg.Log.File,
		Level:      cfg.Log.Level,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
}

// openHistory は履歴DBを開きます。storage.path が空なら保存しません。
func openHistory(cfg *config.Config, log interfaces.Logger) (interfaces.HistoryStore, error) {
	if cfg.Storage.Path == "" {
		return storage.NopStore{}, nil
	}
	store, err := storage.NewDBStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("履歴データベースを開けませんでした: %w", err)
	}
	log.Info("History database opened", "path", cfg.Storage.Path)
	return store, nil
}

// signalContext は SIGINT/SIGTERM でキャンセルされるコンテキストを返します。
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// errAborted はユーザーが対話メニューで終了を選んだことを示します。
var errAborted = errors.New("aborted by user")
