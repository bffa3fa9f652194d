package cmd

import (
	"errors"
	"fmt"

	"relay/bot"
	"relay/commands"
	"relay/config"
	"relay/dispatch"
	"relay/input"

	"github.com/pterm/pterm"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the chat bot that turns !pc messages into desktop input",
	RunE:  runBot,
}

func runBot(cmd *cobra.Command, args []string) error {
	if err := config.EnsureFile(configPath); err != nil {
		if errors.Is(err, config.ErrConfigCreated) {
			pterm.Warning.Printfln("設定ファイルのテンプレートを作成しました。chat.token と chat.channel を編集してから再起動してください。")
		}
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateChat(); err != nil {
		return fmt.Errorf("設定が不正です: %w", err)
	}

	log := newLogger(cfg)
	defer log.Close()

	history, err := openHistory(cfg, log)
	if err != nil {
		return err
	}
	defer history.Close()

	appCtx := &commands.AppContext{
		Log:        log,
		History:    history,
		Input:      input.NewXdotool(cfg.Input.Binary, nil),
		Dispatcher: dispatch.New(log.With("component", "dispatch"), cfg.Chat.ActionDelay),
	}
	router := commands.RegisterCommands(appCtx, cfg.Chat.Prefix, cfg.Chat.Command)

	b, err := bot.New(bot.Options{Token: cfg.Chat.Token, Channel: cfg.Chat.Channel}, log.With("component", "bot"), router)
	if err != nil {
		return err
	}

	scheduler := cron.New()
	if err := schedulePrune(scheduler, history, cfg.Storage.Retention, log); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	return b.Start(ctx)
}
