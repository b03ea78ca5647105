package router

import (
	"context"
	"runtime"
	"sync"
	"time"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

// Replies sent by the router itself.
const (
	MsgUnknownCommand = "Comando desconocido. Prueba /help"
	MsgUnauthorized   = "No tienes permiso para este comando."
	MsgBusy           = "Estoy ocupado, inténtalo de nuevo en unos segundos."
	MsgFailed         = "Algo salió mal. Inténtalo de nuevo más tarde."
)

// SectionGeneral collects commands registered without a section.
const SectionGeneral = "General"

// Command is one slash command. Route and aliases must match [a-z0-9_]{1,32},
// the set Telegram accepts in its command menu.
type Command struct {
	Route       string
	Aliases     []string
	Section     string // help heading, e.g. "Recordatorios"
	Description string
	Usage       string
	Example     string
	Access      Access

	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackAccess controls who can trigger an inline-button callback.
// The zero value is owner-only; user-facing buttons opt in to everyone.
type CallbackAccess int

const (
	CallbackAccessOwnerOnly CallbackAccess = iota
	CallbackAccessEveryone
)

// CallbackRoute handles callback data of the form "<namespace>:<action>[:payload]".
type CallbackRoute struct {
	Namespace   string
	Action      string
	Description string
	Access      CallbackAccess
	Timeout     time.Duration
	Handle      CallbackHandlerFunc
}

func (r CallbackRoute) key() string { return r.Namespace + ":" + r.Action }

// Request is what a handler sees of one update.
type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string // route, or "cb:<namespace>:<action>"
	Args         []string
	Payload      string // callback payload

	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger
	Owners  []int64
}

// Reply sends text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string, kb kit.Keyboard) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true, Keyboard: kb})
	return err
}

// IsOwner reports whether the sender is a configured owner.
func (r *Request) IsOwner() bool { return isOwner(r.FromID, r.Owners) }

type Options struct {
	Owners    []int64
	Workers   int
	QueueSize int
	HelpTitle string
}

// CommandManager routes chat updates to commands and callback routes.
type CommandManager struct {
	mu        sync.RWMutex
	reg       *registry
	callbacks map[string]CallbackRoute // "<namespace>:<action>"
	owners    []int64
	helpTitle string

	log     logx.Logger
	adapter kit.Adapter
	workers int

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, opt Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	if opt.Workers <= 0 {
		opt.Workers = max(runtime.NumCPU(), 2)
	}
	if opt.HelpTitle == "" {
		opt.HelpTitle = "Comandos disponibles"
	}
	return &CommandManager{
		reg:       &registry{byName: map[string]*Command{}},
		callbacks: map[string]CallbackRoute{},
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		owners:    append([]int64(nil), opt.Owners...),
		helpTitle: opt.HelpTitle,
		workers:   opt.Workers,
		jobs:      make(chan func(), opt.QueueSize),
	}
}

// Supervisor returns the dispatcher's supervisor, or nil when it is not running.
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// SetOwners updates the owner list. Safe during hot reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) snapshot() (*registry, []int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reg, append([]int64(nil), m.owners...)
}

// SetRegistry installs commands and callback routes, adds /help, and pushes
// the command menu to the adapter when it supports it. Commands with a name
// Telegram would refuse are skipped with a warning. ctx bounds the menu update.
func (m *CommandManager) SetRegistry(ctx context.Context, cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds, Command{
		Route:       "help",
		Aliases:     []string{"ayuda"},
		Section:     SectionGeneral,
		Description: "muestra la ayuda",
		Usage:       "/help [comando]",
		Example:     "/help recordar",
		Handle: func(ctx context.Context, req *Request) error {
			text := m.helpText(req.Args, req.IsOwner())
			_, err := req.Adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
			return err
		},
	})

	reg, skipped := newRegistry(cmds)
	for _, name := range skipped {
		m.log.Warn("command skipped", logx.String("name", name))
	}

	cb := make(map[string]CallbackRoute, len(cbs))
	for _, r := range cbs {
		if r.Namespace == "" || r.Action == "" || r.Handle == nil {
			m.log.Warn("callback route skipped", logx.String("key", r.key()))
			continue
		}
		cb[r.key()] = r
	}

	m.mu.Lock()
	m.reg = reg
	m.callbacks = cb
	m.mu.Unlock()

	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := reg.menu()
	go func() {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(cctx, menu); err != nil {
			m.log.Warn("menu update failed", logx.Err(err))
		}
	}()
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
