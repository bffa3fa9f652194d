package commands

import (
	"context"
	"strings"
	"unicode"

	"relay/dispatch"
	"relay/interfaces"
)

// AppContext provides dependencies to commands.
type AppContext struct {
	Log        interfaces.Logger
	History    interfaces.HistoryStore
	Input      interfaces.InputDriver
	Dispatcher *dispatch.Dispatcher
}

// Router はメッセージの先頭のプレフィックスとコマンド名から CommandHandler を選びます。
type Router struct {
	prefix   string
	handlers map[string]CommandHandler
	order    []string
}

func NewRouter(prefix string) *Router {
	return &Router{prefix: prefix, handlers: make(map[string]CommandHandler)}
}

// Register はコマンドを登録します。同じ名前は後から登録したものが優先されます。
func (r *Router) Register(cmds ...CommandHandler) {
	for _, cmd := range cmds {
		if _, ok := r.handlers[cmd.Name()]; !ok {
			r.order = append(r.order, cmd.Name())
		}
		r.handlers[cmd.Name()] = cmd
	}
}

// Prefix returns the command prefix.
func (r *Router) Prefix() string {
	return r.prefix
}

// Commands は登録順にコマンドを返します。
func (r *Router) Commands() []CommandHandler {
	out := make([]CommandHandler, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.handlers[name])
	}
	return out
}

// Route はメッセージがコマンドであれば実行して true を返します。
func (r *Router) Route(ctx context.Context, rep Replier, m Message) bool {
	name, arg, ok := r.split(m.Content)
	if !ok {
		return false
	}
	cmd, ok := r.handlers[name]
	if !ok {
		return false
	}
	cmd.Handle(ctx, rep, m, arg)
	return true
}

// split は "<prefix><name> <arg>" を分解します。名前の直後は空白か終端でなければなりません。
func (r *Router) split(content string) (name, arg string, ok bool) {
	if r.prefix == "" || !strings.HasPrefix(content, r.prefix) {
		return "", "", false
	}
	rest := content[len(r.prefix):]
	i := strings.IndexFunc(rest, unicode.IsSpace)
	if i < 0 {
		return rest, "", rest != ""
	}
	return rest[:i], strings.TrimSpace(rest[i:]), i > 0
}

// RegisterCommands initializes the router with every chat command.
func RegisterCommands(appCtx *AppContext, prefix, pcName string) *Router {
	router := NewRouter(prefix)
	router.Register(
		NewPCCommand(prefix, pcName, appCtx),
		&HelpCommand{Router: router},
	)
	return router
}
