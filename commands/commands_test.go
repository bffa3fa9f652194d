package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"relay/dispatch"
	"relay/logger"
	"relay/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	channel string
	content string
}

type fakeReplier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeReplier) Reply(_ context.Context, channelID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{channelID, content})
	return nil
}

func (f *fakeReplier) contents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.content)
	}
	return out
}

type fakeInput struct {
	actions []string
	failOn  string
}

func (f *fakeInput) record(a string) error {
	if f.failOn != "" && a == f.failOn {
		return errors.New("input failed")
	}
	f.actions = append(f.actions, a)
	return nil
}

func (f *fakeInput) Write(_ context.Context, text string) error { return f.record("write:" + text) }
func (f *fakeInput) Press(_ context.Context, key string) error  { return f.record("press:" + key) }
func (f *fakeInput) Click(context.Context) error                { return f.record("click") }
func (f *fakeInput) MoveTo(_ context.Context, x, y int) error {
	return f.record(fmt.Sprintf("move:%d,%d", x, y))
}

type fakeHistory struct {
	storage.NopStore
	dispatches []storage.DispatchRecord
}

func (f *fakeHistory) RecordDispatch(rec storage.DispatchRecord) error {
	f.dispatches = append(f.dispatches, rec)
	return nil
}

func newTestRouter(in *fakeInput, history *fakeHistory) *Router {
	log := logger.Discard()
	return RegisterCommands(&AppContext{
		Log:        log,
		History:    history,
		Input:      in,
		Dispatcher: dispatch.New(log, 0),
	}, "!", "pc")
}

func TestRouteRunsPCCommand(t *testing.T) {
	in := &fakeInput{}
	history := &fakeHistory{}
	router := newTestRouter(in, history)
	rep := &fakeReplier{}

	handled := router.Route(context.Background(), rep, Message{
		ChannelID: "c1", Author: "alice", Content: "!pc write hi, enter, bogus, move 10 20, click",
	})
	require.True(t, handled)

	assert.Equal(t, []string{"write:hi", "press:enter", "move:10,20", "click"}, in.actions)
	assert.Equal(t, []string{"❌ Unknown command: bogus", "✅ Executed 5 command(s)"}, rep.contents())
	for _, s := range rep.sent {
		assert.Equal(t, "c1", s.channel)
	}

	require.Len(t, history.dispatches, 1)
	rec := history.dispatches[0]
	assert.Equal(t, "c1", rec.ChannelID)
	assert.Equal(t, "alice", rec.Author)
	assert.Equal(t, "write hi, enter, bogus, move 10 20, click", rec.Raw)
	assert.Equal(t, 5, rec.Segments)
	assert.Equal(t, 4, rec.Executed)
	assert.Equal(t, 1, rec.Skipped)
	assert.Empty(t, rec.Error)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestPCCommandRecordsAbort(t *testing.T) {
	in := &fakeInput{}
	history := &fakeHistory{}
	router := newTestRouter(in, history)
	rep := &fakeReplier{}

	router.Route(context.Background(), rep, Message{ChannelID: "c1", Content: "!pc click, move abc, click"})

	assert.Equal(t, []string{"click"}, in.actions)
	contents := rep.contents()
	require.Len(t, contents, 1)
	assert.Contains(t, contents[0], "❌ Error: ")

	require.Len(t, history.dispatches, 1)
	assert.Equal(t, 1, history.dispatches[0].Executed)
	assert.NotEmpty(t, history.dispatches[0].Error)
}

func TestPCCommandWithoutArgumentRepliesUsage(t *testing.T) {
	in := &fakeInput{}
	history := &fakeHistory{}
	router := newTestRouter(in, history)
	rep := &fakeReplier{}

	require.True(t, router.Route(context.Background(), rep, Message{ChannelID: "c1", Content: "!pc   "}))
	contents := rep.contents()
	require.Len(t, contents, 1)
	assert.Contains(t, contents[0], "Usage: !pc")
	assert.Empty(t, in.actions)
	assert.Empty(t, history.dispatches)
}

func TestRouteIgnoresNonCommands(t *testing.T) {
	router := newTestRouter(&fakeInput{}, &fakeHistory{})
	rep := &fakeReplier{}

	for _, content := range []string{"", "hello", "pc click", "!", "!pcclick", "!unknown click", "! pc click"} {
		assert.False(t, router.Route(context.Background(), rep, Message{Content: content}), content)
	}
	assert.Empty(t, rep.contents())
}

func TestRouteAcceptsNewlineSeparator(t *testing.T) {
	in := &fakeInput{}
	router := newTestRouter(in, &fakeHistory{})

	require.True(t, router.Route(context.Background(), &fakeReplier{}, Message{Content: "!pc\nclick"}))
	assert.Equal(t, []string{"click"}, in.actions)
}

func TestHelpListsCommands(t *testing.T) {
	router := newTestRouter(&fakeInput{}, &fakeHistory{})
	rep := &fakeReplier{}

	require.True(t, router.Route(context.Background(), rep, Message{ChannelID: "c9", Content: "!help"}))
	contents := rep.contents()
	require.Len(t, contents, 1)
	assert.Contains(t, contents[0], "`!pc`")
	assert.Contains(t, contents[0], "`!help`")
}

func TestRegisterReplacesSameName(t *testing.T) {
	router := NewRouter("?")
	first := &HelpCommand{Router: router}
	second := &HelpCommand{Router: router}
	router.Register(first, second)

	cmds := router.Commands()
	require.Len(t, cmds, 1)
	assert.Same(t, second, cmds[0])
}
