// commands/help.go
package commands

import (
	"context"
	"fmt"
	"strings"
)

type HelpCommand struct {
	Router *Router
}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "コマンド一覧を表示します" }
func (c *HelpCommand) Usage() string       { return "Usage: help" }

func (c *HelpCommand) Handle(ctx context.Context, r Replier, m Message, _ string) {
	var b strings.Builder
	b.WriteString("利用可能なコマンド:\n")
	for _, cmd := range c.Router.Commands() {
		fmt.Fprintf(&b, "`%s%s` - %s\n", c.Router.Prefix(), cmd.Name(), cmd.Description())
	}
	// 返信に失敗してもここでは何もできない
	_ = r.Reply(ctx, m.ChannelID, strings.TrimRight(b.String(), "\n"))
}
