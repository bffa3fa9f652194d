// commands/command.go
package commands

import "context"

// Message はチャットから届いた1件のメッセージです。
type Message struct {
	ChannelID string
	AuthorID  string
	Author    string
	Content   string
}

// Replier はチャンネルにテキストを送信します。
type Replier interface {
	Reply(ctx context.Context, channelID, content string) error
}

// CommandHandler は、すべてのプレフィックスコマンドが実装すべきインターフェースです。
type CommandHandler interface {
	Name() string
	Description() string
	Usage() string
	// Handle は arg にコマンド名より後ろの文字列（前後の空白を除去済み）を受け取ります。
	Handle(ctx context.Context, r Replier, m Message, arg string)
}
