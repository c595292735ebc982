// Package transport holds the chat-platform-neutral types the router and
// notifier work with.
package transport

import "context"

// Update is one inbound text message (new or edited).
type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	Edited       bool
}

type ChatTarget struct {
	ChatID int64
}

// ParseMarkdown asks the adapter for its markdown-like rendering mode.
const ParseMarkdown = "markdown"

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// DefaultSendOptions renders links as markdown and suppresses previews.
func DefaultSendOptions() *SendOptions {
	return &SendOptions{ParseMode: ParseMarkdown, DisablePreview: true}
}

// Sender delivers text. It reports success or failure only.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
}

// Adapter is a full chat transport: an inbound poll loop plus a Sender.
type Adapter interface {
	Sender
	// Start begins polling and delivers updates to out until Stop.
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand is one entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
