// Package transport holds the chat-platform types shared by the Telegram
// adapter, the command router and the notifier.
package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// Update is a text message or an inline-button press. Exactly one of
// Message and Callback is set, matching Kind.
type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// Message is an incoming text message. Commands start with "/".
type Message struct {
	ChatID       int64
	ThreadID     int // forum topic, 0 outside forums
	FromID       int64
	FromUsername string
	Text         string
}

// Callback is a button press. Data is the Button.Data that was sent.
type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

// ChatTarget is where a message goes. Reminders and reports go to the chat
// they were created in; the log sink may target a forum topic.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// MessageRef identifies a sent message.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Keyboard       Keyboard // inline keyboard attached to the first chunk
}

// Button is an inline keyboard button. Data is delivered back as Callback.Data.
type Button struct {
	Text string
	Data string
}

// Keyboard is an inline keyboard, one slice per row.
type Keyboard [][]Button

// Notification is a message queued for asynchronous delivery. Source names
// what produced it, usually a trigger tag such as "r1:start".
type Notification struct {
	Target  ChatTarget
	Source  string
	Text    string
	Options *SendOptions
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
