package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kit "github.com/scturtle/turtlebot/internal/transport"
)

type sent struct {
	ChatID int64
	Text   string
}

type recorder struct {
	mu   sync.Mutex
	msgs []sent
	ch   chan sent
}

func newRecorder() *recorder { return &recorder{ch: make(chan sent, 64)} }

func (r *recorder) Push(chatID int64, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, sent{chatID, text})
	r.mu.Unlock()
	select {
	case r.ch <- sent{chatID, text}:
	default:
	}
	return nil
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Text)
	}
	return out
}

func (r *recorder) last(t *testing.T) string {
	t.Helper()
	got := r.texts()
	require.NotEmpty(t, got)
	return got[len(got)-1]
}

func msg(chatID int64, text string) *kit.Message {
	return &kit.Message{ChatID: chatID, FromID: chatID, Text: text}
}

func TestCommandWord(t *testing.T) {
	tests := []struct {
		in   string
		word string
		args []string
	}{
		{"/sub http://a", "/sub", []string{"http://a"}},
		{"  /f   10 ", "/f", []string{"10"}},
		{"/rss@turtle_bot", "/rss", []string{}},
		{"", "", nil},
		{"hello there", "hello", []string{"there"}},
	}
	for _, tt := range tests {
		word, args := commandWord(tt.in)
		require.Equal(t, tt.word, word, tt.in)
		if tt.args == nil {
			require.Empty(t, args)
		} else {
			require.Equal(t, tt.args, args, tt.in)
		}
	}
}

func TestHandleRoutesAndAnswersUnknown(t *testing.T) {
	out := newRecorder()
	d := NewDispatcher(out, 0, nilLogger())

	var gotText string
	d.Register(Command{Name: "/ping", Aliases: []string{"/p"}, Handle: func(ctx context.Context, req *Request) error {
		gotText = req.Text
		req.Reply("pong " + req.Arg(0) + req.Arg(5))
		return nil
	}})

	d.Handle(context.Background(), msg(7, "/ping x y"))
	require.Equal(t, "/ping x y", gotText)
	require.Equal(t, "pong x", out.last(t))

	d.Handle(context.Background(), msg(7, "/p"))
	require.Equal(t, "pong ", out.last(t))

	d.Handle(context.Background(), msg(7, "/nope"))
	require.Equal(t, UnknownReply, out.last(t))

	d.Handle(context.Background(), msg(7, "   "))
	require.Len(t, out.texts(), 3)
}

func TestMasterFilter(t *testing.T) {
	out := newRecorder()
	d := NewDispatcher(out, 42, nilLogger())
	d.Register(Command{Name: "/ping", Handle: func(ctx context.Context, req *Request) error {
		req.Reply("pong")
		return nil
	}})

	d.Handle(context.Background(), msg(7, "/ping"))
	d.Handle(context.Background(), msg(7, "/unknown"))
	require.Empty(t, out.texts())

	d.Handle(context.Background(), msg(42, "/ping"))
	require.Equal(t, []string{"pong"}, out.texts())

	d.SetMaster(7)
	d.Handle(context.Background(), msg(7, "/ping"))
	require.Len(t, out.texts(), 2)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	out := newRecorder()
	d := NewDispatcher(out, 0, nilLogger())
	d.Register(Command{Name: "/boom", Handle: func(ctx context.Context, req *Request) error {
		panic("kaboom")
	}})
	require.NotPanics(t, func() { d.Handle(context.Background(), msg(1, "/boom")) })
}

func TestHandlerGetsTimeout(t *testing.T) {
	out := newRecorder()
	d := NewDispatcher(out, 0, nilLogger())
	d.Register(Command{Name: "/slow", Timeout: 20 * time.Millisecond, Handle: func(ctx context.Context, req *Request) error {
		<-ctx.Done()
		req.Reply(ctx.Err().Error())
		return ctx.Err()
	}})
	d.Handle(context.Background(), msg(1, "/slow"))
	require.Equal(t, context.DeadlineExceeded.Error(), out.last(t))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) error {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	h := Chain(func(ctx context.Context, req *Request) error {
		order = append(order, "h")
		return errors.New("x")
	}, mw("a"), mw("b"))
	require.Error(t, h(context.Background(), &Request{}))
	require.Equal(t, []string{"a", "b", "h"}, order)
}

func TestRunDispatchesUpdates(t *testing.T) {
	out := newRecorder()
	d := NewDispatcher(out, 0, nilLogger())
	d.Register(Command{Name: "/ping", Handle: func(ctx context.Context, req *Request) error {
		req.Reply("pong")
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 2)
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, updates) }()

	updates <- kit.Update{Message: msg(3, "/ping")}
	select {
	case s := <-out.ch:
		require.Equal(t, int64(3), s.ChatID)
		require.Equal(t, "pong", s.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestMenuCommands(t *testing.T) {
	d := NewDispatcher(newRecorder(), 0, nilLogger())
	d.Register(
		Command{Name: "/b", Description: "bee", Handle: func(context.Context, *Request) error { return nil }},
		Command{Name: "/a", Description: "ay", Handle: func(context.Context, *Request) error { return nil }},
		Command{Name: "bad", Handle: func(context.Context, *Request) error { return nil }},
	)
	require.Equal(t, []kit.BotCommand{
		{Command: "b", Description: "bee"},
		{Command: "a", Description: "ay"},
	}, d.MenuCommands())
}
