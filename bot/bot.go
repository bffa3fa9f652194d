package bot

import (
	"context"
	"fmt"

	"relay/commands"
	"relay/interfaces"

	"github.com/bwmarrin/discordgo"
)

// Options はボットの接続設定です。
type Options struct {
	Token string
	// Channel が空でなければ、そのチャンネル以外のメッセージは無視します。
	Channel string
}

// Bot はDiscordボットのコアな状態とロジックを管理します。
type Bot struct {
	Session *discordgo.Session
	log     interfaces.Logger
	router  *commands.Router
	replier commands.Replier
	channel string
}

// New は新しいBotインスタンスを作成します。
func New(opts Options, log interfaces.Logger, router *commands.Router) (*Bot, error) {
	dg, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("Discordセッションの作成に失敗しました: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	return &Bot{
		Session: dg,
		log:     log,
		router:  router,
		replier: NewSessionReplier(dg),
		channel: opts.Channel,
	}, nil
}

// Start はDiscordに接続し、ctx がキャンセルされるまでブロックします。
func (b *Bot) Start(ctx context.Context) error {
	b.Session.AddHandler(b.onReady)
	b.Session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		b.onMessageCreate(ctx, s, m)
	})

	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("Discordへの接続に失敗しました: %w", err)
	}
	defer b.Session.Close()

	b.log.Info("Discord Botが起動しました。Ctrl+Cで終了します。", "prefix", b.router.Prefix())
	<-ctx.Done()
	b.log.Info("Botをシャットダウンします...")
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info("Logged in", "user", r.User.String())
}

func (b *Bot) onMessageCreate(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	selfID := ""
	if s.State != nil && s.State.User != nil {
		selfID = s.State.User.ID
	}
	b.handleMessage(ctx, selfID, commands.Message{
		ChannelID: m.ChannelID,
		AuthorID:  m.Author.ID,
		Author:    m.Author.Username,
		Content:   m.Content,
	})
}

// handleMessage は自分自身の発言と対象外チャンネルを除いて、メッセージをルーターに渡します。
func (b *Bot) handleMessage(ctx context.Context, selfID string, m commands.Message) {
	if m.AuthorID == selfID {
		return
	}
	if b.channel != "" && m.ChannelID != b.channel {
		return
	}
	b.log.Info(fmt.Sprintf("%s: %s", m.Author, m.Content), "channel", m.ChannelID)
	b.router.Route(ctx, b.replier, m)
}
