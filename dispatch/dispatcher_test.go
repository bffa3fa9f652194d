package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"relay/logger"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder は入力操作と返信を順番に記録する ExecContext です。
type recorder struct {
	mu      sync.Mutex
	calls   []string
	replies []string
	failOn  string
	hold    time.Duration
	stamps  []time.Time
	ends    []time.Time
}

func (r *recorder) record(call string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	r.stamps = append(r.stamps, time.Now())
	time.Sleep(r.hold)
	r.ends = append(r.ends, time.Now())
	if r.failOn != "" && strings.HasPrefix(call, r.failOn) {
		return errors.New("input backend unavailable")
	}
	return nil
}

func (r *recorder) Write(_ context.Context, text string) error { return r.record("write:" + text) }
func (r *recorder) Press(_ context.Context, key string) error  { return r.record("press:" + key) }
func (r *recorder) Click(context.Context) error                { return r.record("click") }
func (r *recorder) MoveTo(_ context.Context, x, y int) error {
	return r.record(fmt.Sprintf("move:%d,%d", x, y))
}

func (r *recorder) Reply(_ context.Context, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, msg)
	return nil
}

func newDispatcher() *Dispatcher {
	return New(logger.Discard(), 0)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Batch
	}{
		{
			name: "keeps order and drops empty segments",
			raw:  " write Hello World , ,enter,, CLICK ",
			want: Batch{
				{Action: ActionWrite, Argument: "Hello World"},
				{Action: ActionEnter},
				{Action: ActionClick},
			},
		},
		{
			name: "splits on first whitespace run",
			raw:  "move\t 10   20",
			want: Batch{{Action: ActionMove, Argument: "10   20"}},
		},
		{
			name: "argument case is preserved",
			raw:  "Press TAB",
			want: Batch{{Action: ActionPress, Argument: "TAB"}},
		},
		{
			name: "unknown actions are kept",
			raw:  "foo bar, write x",
			want: Batch{{Action: "foo", Argument: "bar"}, {Action: ActionWrite, Argument: "x"}},
		},
		{
			name: "empty input",
			raw:  " , ,",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Parse(tt.raw)); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.raw, diff)
			}
		})
	}
}

func TestParseCoordinates(t *testing.T) {
	x, y, err := ParseCoordinates("10 20")
	require.NoError(t, err)
	assert.Equal(t, 10, x)
	assert.Equal(t, 20, y)

	for _, arg := range []string{"abc", "", "1", "1 2 3", "1 b"} {
		_, _, err := ParseCoordinates(arg)
		var perr *ParseError
		assert.True(t, errors.As(err, &perr), "arg %q", arg)
	}
}

func TestRunExecutesInOrder(t *testing.T) {
	rec := &recorder{}
	report := newDispatcher().Run(context.Background(), "write hi, enter, click, move 10 20, press TAB", rec)

	require.NoError(t, report.Err)
	assert.Equal(t, []string{"write:hi", "press:enter", "click", "move:10,20", "press:tab"}, rec.calls)
	assert.Equal(t, 5, report.Segments)
	assert.Equal(t, 5, report.Count(Executed))
	assert.Equal(t, []string{"✅ Executed 5 command(s)"}, rec.replies)
}

func TestRunUnknownCommandDoesNotAbort(t *testing.T) {
	rec := &recorder{}
	report := newDispatcher().Run(context.Background(), "foo bar, write ok", rec)

	require.NoError(t, report.Err)
	assert.Equal(t, []string{"write:ok"}, rec.calls)
	assert.Equal(t, 1, report.Count(Skipped))
	assert.Equal(t, []string{"❌ Unknown command: foo", "✅ Executed 2 command(s)"}, rec.replies)
}

func TestRunMoveParseErrorAborts(t *testing.T) {
	rec := &recorder{}
	report := newDispatcher().Run(context.Background(), "write a, move abc, write b", rec)

	var perr *ParseError
	require.True(t, errors.As(report.Err, &perr))
	assert.Equal(t, []string{"write:a"}, rec.calls)
	assert.Equal(t, 1, report.Count(Executed))
	assert.Equal(t, 1, report.Count(Aborted))
	require.Len(t, rec.replies, 1)
	assert.True(t, strings.HasPrefix(rec.replies[0], "❌ Error: "))
}

func TestRunInputErrorAbortsAndTruncates(t *testing.T) {
	rec := &recorder{failOn: "write:"}
	long := strings.Repeat("x", 1000)
	report := newDispatcher().Run(context.Background(), "click, write "+long+", enter", rec)

	require.Error(t, report.Err)
	assert.Equal(t, []string{"click", "write:" + long}, rec.calls)
	require.Len(t, rec.replies, 1)
	assert.LessOrEqual(t, len([]rune(rec.replies[0])), maxErrorReply)
}

func TestRunErrorDoesNotLeakIntoNextInvocation(t *testing.T) {
	d := newDispatcher()
	rec := &recorder{}
	first := d.Run(context.Background(), "move 1", rec)
	require.Error(t, first.Err)

	second := d.Run(context.Background(), "move 1 2", rec)
	require.NoError(t, second.Err)
	assert.Equal(t, []string{"move:1,2"}, rec.calls)
}

func TestRunPacesExecutedActions(t *testing.T) {
	rec := &recorder{}
	d := New(logger.Discard(), 30*time.Millisecond)

	report := d.Run(context.Background(), "click, nope, click, click", rec)
	require.NoError(t, report.Err)
	require.Len(t, rec.stamps, 3)
	for i := 1; i < len(rec.stamps); i++ {
		gap := rec.stamps[i].Sub(rec.ends[i-1])
		assert.GreaterOrEqual(t, gap, 25*time.Millisecond, "gap %d", i)
	}
}

func TestRunPacesFromEndOfSlowAction(t *testing.T) {
	rec := &recorder{hold: 80 * time.Millisecond}
	d := New(logger.Discard(), 50*time.Millisecond)

	report := d.Run(context.Background(), "write a long text, click", rec)
	require.NoError(t, report.Err)
	require.Len(t, rec.stamps, 2)
	gap := rec.stamps[1].Sub(rec.ends[0])
	assert.GreaterOrEqual(t, gap, 45*time.Millisecond)
}

func TestRunDoesNotPauseAfterLastAction(t *testing.T) {
	rec := &recorder{}
	d := New(logger.Discard(), 200*time.Millisecond)

	start := time.Now()
	report := d.Run(context.Background(), "click", rec)
	require.NoError(t, report.Err)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestRunCancelledContextAborts(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := New(logger.Discard(), time.Second).Run(ctx, "click, click", rec)
	require.Error(t, report.Err)
	assert.Less(t, len(rec.calls), 2)
}
