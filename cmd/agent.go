package cmd

import (
	"errors"
	"strings"

	"relay/agent"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var exampleTasks = []string{
	"What are the latest Hugging Face models? Open the models page, sort by trending and list the top 5 names with their likes.",
	"Find the current price of Bitcoin on CoinMarketCap and report it in USD.",
	"Summarize the main points of the Wikipedia page for 'Artificial Intelligence'.",
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run natural-language tasks in a browser driven by Gemini",
	RunE:  runAgent,
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	pterm.DefaultHeader.Println("relay browser agent")
	client, err := newAIClient(ctx, cfg, log)
	if err != nil {
		return err
	}

	spinner, _ := pterm.DefaultSpinner.Start("Checking model " + cfg.Google.Model + " ...")
	if err := client.Verify(ctx, cfg.Google.Model); err != nil {
		if spinner != nil {
			spinner.Fail(err.Error())
		}
		return err
	}
	if spinner != nil {
		spinner.Success("Using " + cfg.Google.Model)
	}

	chrome, err := agent.NewChrome(ctx, log.With("component", "browser"), agent.ChromeOptions{Headless: cfg.Agent.Headless})
	if err != nil {
		return err
	}
	defer chrome.Close()

	runner := agent.New(client, chrome, log, agent.Options{
		MaxSteps:    cfg.Agent.MaxSteps,
		MaxFailures: cfg.Agent.MaxFailures,
		Model:       cfg.Google.Model,
	})

	prompt := ptermPrompter{}
	for ctx.Err() == nil {
		pterm.Println()
		pterm.Info.Println("Example tasks:")
		items := make([]pterm.BulletListItem, 0, len(exampleTasks))
		for _, t := range exampleTasks {
			items = append(items, pterm.BulletListItem{Level: 0, Text: t})
		}
		_ = pterm.DefaultBulletList.WithItems(items).Render()

		task, err := prompt.Text("Task for the browser agent (Enter to quit)")
		if err != nil {
			return err
		}
		task = strings.TrimSpace(task)
		if task == "" {
			pterm.Info.Println("タスクが入力されなかったので終了します。")
			return nil
		}

		pterm.Info.Printfln("Starting task: %q", task)
		res, err := runner.Run(ctx, task)
		switch {
		case err == nil:
			pterm.DefaultBox.WithTitle("Answer").WithPadding(1).Println(res.Answer)
		case errors.Is(err, agent.ErrStepLimit):
			pterm.Warning.Printfln("Stopped after %d steps without finishing.", len(res.Steps))
		default:
			// エラーでもループは続ける
			pterm.Error.Printfln("Task failed after %d steps: %v", len(res.Steps), err)
		}
	}
	return nil
}
