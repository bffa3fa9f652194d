package bot

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

// MessageSender は、チャンネルへのテキスト送信に必要な discordgo.Session のメソッドです。
type MessageSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// SessionReplier は commands.Replier を Discord のチャンネル送信で実装します。
type SessionReplier struct {
	sender MessageSender
}

func NewSessionReplier(sender MessageSender) *SessionReplier {
	return &SessionReplier{sender: sender}
}

func (r *SessionReplier) Reply(ctx context.Context, channelID, content string) error {
	_, err := r.sender.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	return err
}
