package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"relay/ai"
	"relay/config"
	"relay/interfaces"
	"relay/keychain"
	"relay/pipeline"
	"relay/servers"
	"relay/tunnel"

	"github.com/pterm/pterm"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

// 対話メニューで入力できる特別な値
const (
	menuClearCache = "clear_cache"
	menuQuit       = "quit"
)

var serveFlags struct {
	model           string
	trustRemoteCode bool
	noTunnel        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load a text-generation model and expose it as an authenticated /generate endpoint",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.model, "model", "", "model id to load (skips the interactive menu)")
	serveCmd.Flags().BoolVar(&serveFlags.trustRemoteCode, "trust-remote-code", false, "allow the model to run custom code when loading")
	serveCmd.Flags().BoolVar(&serveFlags.noTunnel, "no-tunnel", false, "serve on localhost only")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveFlags.noTunnel {
		cfg.Tunnel.Enabled = false
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("設定が不正です: %w", err)
	}

	log := newLogger(cfg)
	defer log.Close()

	history, err := openHistory(cfg, log)
	if err != nil {
		return err
	}
	defer history.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	loader, err := newLoader(ctx, cfg, log.With("component", "pipeline"))
	if err != nil {
		return err
	}

	pterm.DefaultHeader.Println("relay inference server")
	handle := pipeline.NewHandle(log)
	defer handle.Unload()

	model, err := chooseAndLoad(ctx, cfg, handle, loader)
	if errors.Is(err, errAborted) {
		pterm.Info.Println("終了します。")
		return nil
	}
	if err != nil {
		return err
	}

	return serve(ctx, cfg, log, handle, history, model)
}

// newLoader は server.backend に応じたモデルローダーを作ります。
func newLoader(ctx context.Context, cfg *config.Config, log interfaces.Logger) (pipeline.Loader, error) {
	switch cfg.Server.Backend {
	case "gemini":
		client, err := newAIClient(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return pipeline.NewGeminiLoader(client, log), nil
	default:
		return pipeline.NewOllamaLoader(cfg.Server.OllamaURL, log), nil
	}
}

// newAIClient は設定、キーチェーン、対話入力の順でAPIキーを解決してクライアントを作ります。
func newAIClient(ctx context.Context, cfg *config.Config, log interfaces.Logger) (*ai.Client, error) {
	km, err := keychain.Open()
	if err != nil {
		pterm.Warning.Printfln("キーチェーンを利用できません: %v", err)
		km = nil
	}
	key, source, err := keychain.Resolve(cfg.Google.APIKey, km, ptermPrompter{}, log)
	if err != nil {
		if key == "" {
			return nil, err
		}
		pterm.Warning.Println(err.Error())
	}
	pterm.Info.Printfln("Google API key loaded from %s", source)
	return ai.NewClient(ctx, ai.Options{APIKey: key, Model: cfg.Google.Model})
}

// chooseAndLoad は --model か対話メニューでモデルを選び、ロードに成功するまで繰り返します。
func chooseAndLoad(ctx context.Context, cfg *config.Config, handle *pipeline.Handle, loader pipeline.Loader) (string, error) {
	if serveFlags.model != "" {
		req := pipeline.LoadRequest{ModelID: serveFlags.model, TrustRemoteCode: serveFlags.trustRemoteCode}
		if err := loadWithSpinner(ctx, handle, loader, req); err != nil {
			return "", err
		}
		return req.ModelID, nil
	}

	prompt := ptermPrompter{}
	for {
		if err := ctx.Err(); err != nil {
			return "", errAborted
		}
		choice, err := prompt.Text(fmt.Sprintf("Model id to load (%s / %s)", menuClearCache, menuQuit))
		if err != nil {
			return "", err
		}
		choice = strings.TrimSpace(choice)

		switch strings.ToLower(choice) {
		case "", menuQuit, "exit":
			return "", errAborted
		case menuClearCache:
			clearCache(cfg.Server.CacheDir, prompt)
			continue
		}

		trust, err := prompt.Confirm(fmt.Sprintf("Trust remote code for %s?", choice))
		if err != nil {
			return "", err
		}
		req := pipeline.LoadRequest{ModelID: choice, TrustRemoteCode: trust}
		if err := loadWithSpinner(ctx, handle, loader, req); err != nil {
			again, _ := prompt.Confirm("Try another model?")
			if !again {
				return "", errAborted
			}
			continue
		}
		return choice, nil
	}
}

func loadWithSpinner(ctx context.Context, handle *pipeline.Handle, loader pipeline.Loader, req pipeline.LoadRequest) error {
	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Loading %s ...", req.ModelID))
	start := time.Now()
	err := handle.Load(ctx, loader, req)
	if spinner != nil {
		if err != nil {
			spinner.Fail(fmt.Sprintf("Failed to load %s: %v", req.ModelID, err))
		} else {
			spinner.Success(fmt.Sprintf("Loaded %s in %s", req.ModelID, time.Since(start).Round(time.Millisecond)))
		}
	}
	return err
}

func clearCache(dir string, prompt ptermPrompter) {
	ok, err := prompt.Confirm(fmt.Sprintf("Delete every cached model under %s?", dir))
	if err != nil || !ok {
		pterm.Info.Println("キャッシュの削除をキャンセルしました。")
		return
	}
	path, err := pipeline.ClearDiskCache(dir)
	switch {
	case errors.Is(err, pipeline.ErrCacheNotFound):
		pterm.Info.Printfln("キャッシュディレクトリがありません: %s", path)
	case err != nil:
		pterm.Error.Printfln("キャッシュの削除に失敗しました: %v", err)
	default:
		pterm.Success.Printfln("キャッシュを削除しました: %s", path)
	}
}

// serve はWebサーバーとトンネルを起動し、シグナルかサーバーの停止まで待ちます。
func serve(ctx context.Context, cfg *config.Config, log interfaces.Logger, handle *pipeline.Handle, history interfaces.HistoryStore, model string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	web := servers.NewWebServer(log, servers.WebServerOptions{
		Addr:       fmt.Sprintf(":%d", cfg.Server.Port),
		APIKey:     cfg.Server.APIKey,
		CORSOrigin: cfg.Server.CORSOrigin,
	}, handle, history)

	manager := servers.NewManager(log)
	manager.AddServer(web)

	var ngrok *tunnel.Ngrok
	if cfg.Tunnel.Enabled {
		ngrok = tunnel.NewNgrok(log, tunnel.Options{
			Binary:    cfg.Tunnel.Binary,
			AuthToken: cfg.Tunnel.AuthToken,
			APIAddr:   cfg.Tunnel.APIAddr,
		})
		if agent := ngrok.Agent(); agent != nil {
			manager.AddServer(agent)
		}
	}

	if err := manager.StartAll(); err != nil {
		return err
	}
	defer manager.StopAll()

	endpoint := fmt.Sprintf("http://localhost:%d/generate", cfg.Server.Port)
	if ngrok != nil {
		if err := ngrok.WaitReady(ctx); err != nil {
			return err
		}
		t, err := ngrok.Expose(ctx, cfg.Server.Port, tunnel.NameFor(model))
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer closeCancel()
			if err := ngrok.Close(closeCtx); err != nil {
				log.Warn("Failed to close ngrok tunnel", "error", err)
			}
		}()
		endpoint = t.Endpoint("/generate")
	}

	scheduler := cron.New()
	targets := map[string]liveness{web.Name(): web}
	if ngrok != nil {
		targets["ngrok"] = ngrok
	}
	if err := scheduleWatchdog(scheduler, log, targets, func(name string) {
		if name == web.Name() {
			cancel()
		}
	}); err != nil {
		return err
	}
	if err := schedulePrune(scheduler, history, cfg.Storage.Retention, log); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	pterm.DefaultBox.WithTitle("relay is serving").WithPadding(1).Println(strings.Join([]string{
		"Model:    " + model,
		"Endpoint: " + endpoint,
		"API key:  " + cfg.Server.APIKey,
		"",
		"Send POST requests with 'Authorization: Bearer <API key>'.",
		"Press Ctrl+C to stop.",
	}, "\n"))

	select {
	case <-ctx.Done():
	case <-web.Done():
	}
	if err := web.Err(); err != nil {
		return fmt.Errorf("web server stopped: %w", err)
	}
	pterm.Info.Println("シャットダウンしています...")
	return nil
}
