package commands

import (
	"context"
	"fmt"
	"time"

	"relay/dispatch"
	"relay/interfaces"
	"relay/storage"
)

// PCCommand はチャットからデスクトップ操作を実行します。
// 例: !pc write hello, enter, move 100 200, click
type PCCommand struct {
	prefix     string
	name       string
	Log        interfaces.Logger
	History    interfaces.HistoryStore
	Input      interfaces.InputDriver
	Dispatcher *dispatch.Dispatcher
}

func NewPCCommand(prefix, name string, appCtx *AppContext) *PCCommand {
	history := appCtx.History
	if history == nil {
		history = storage.NopStore{}
	}
	return &PCCommand{
		prefix:     prefix,
		name:       name,
		Log:        appCtx.Log,
		History:    history,
		Input:      appCtx.Input,
		Dispatcher: appCtx.Dispatcher,
	}
}

func (c *PCCommand) Name() string { return c.name }

func (c *PCCommand) Description() string {
	return "カンマ区切りのデスクトップ操作を順番に実行します"
}

func (c *PCCommand) Usage() string {
	return fmt.Sprintf("Usage: %s%s <write text | enter | click | move x y | press key>, ...", c.prefix, c.name)
}

func (c *PCCommand) Handle(ctx context.Context, r Replier, m Message, arg string) {
	if arg == "" {
		if err := r.Reply(ctx, m.ChannelID, c.Usage()); err != nil {
			c.Log.Warn("Failed to send usage", "channel", m.ChannelID, "error", err)
		}
		return
	}

	ec := &chatExecContext{InputDriver: c.Input, replier: r, channelID: m.ChannelID}
	report := c.Dispatcher.Run(ctx, arg, ec)

	rec := storage.DispatchRecord{
		ChannelID: m.ChannelID,
		Author:    m.Author,
		Raw:       arg,
		Segments:  report.Segments,
		Executed:  report.Count(dispatch.Executed),
		Skipped:   report.Count(dispatch.Skipped),
		CreatedAt: time.Now(),
	}
	if report.Err != nil {
		rec.Error = report.Err.Error()
	}
	if err := c.History.RecordDispatch(rec); err != nil {
		c.Log.Warn("Failed to record dispatch history", "channel", m.ChannelID, "error", err)
	}
}

// chatExecContext は返信先をチャンネルに固定した dispatch.ExecContext です。
type chatExecContext struct {
	interfaces.InputDriver
	replier   Replier
	channelID string
}

func (e *chatExecContext) Reply(ctx context.Context, msg string) error {
	return e.replier.Reply(ctx, e.channelID, msg)
}
