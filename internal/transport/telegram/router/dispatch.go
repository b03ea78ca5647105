package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// DispatchLoop routes updates until ctx ends or updates is closed. Handlers
// run on a bounded worker pool; when it is saturated the user is told to
// retry instead of the loop blocking.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("queue", cap(m.jobs)))

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			return m.work(c, idx)
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	var once sync.Once
	defer func() {
		once.Do(func() {
			m.setSupervisor(sup, false)
			close(m.jobs)
		})
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			switch up.Kind {
			case kit.UpdateMessage:
				m.routeMessage(ctx, up)
			case kit.UpdateCallback:
				m.routeCallback(ctx, up)
			}
		}
	}
}

func (m *CommandManager) work(ctx context.Context, idx int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-m.jobs:
			if !ok {
				return nil
			}
			m.runJob(idx, job)
		}
	}
}

func (m *CommandManager) runJob(idx int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

// enqueue hands fn to the workers. False when the queue is full or closed.
func (m *CommandManager) enqueue(fn func()) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

func (m *CommandManager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}

	reg, owners := m.snapshot()
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	cmd, ok := reg.lookup(parts[0])
	if !ok {
		m.reply(ctx, chat, MsgUnknownCommand)
		return
	}
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, owners) {
		m.reply(ctx, chat, MsgUnauthorized)
		return
	}

	args, flags, bools := parseFlags(parts[1:])
	req := m.newRequest(up, chat, msg.FromID, cmd.Route, owners)
	req.FromUsername = msg.FromUsername
	req.Args, req.Flags, req.BoolFlags = args, flags, bools

	h := handlerChain(cmd.Handle, cmd.Timeout)
	if !m.enqueue(func() { _ = h(ctx, req) }) {
		m.reply(ctx, chat, MsgBusy)
	}
}

func (m *CommandManager) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	parts := strings.SplitN(strings.TrimSpace(cb.Data), ":", 3)
	if len(parts) < 2 {
		return
	}
	m.mu.RLock()
	route, ok := m.callbacks[parts[0]+":"+parts[1]]
	owners := append([]int64(nil), m.owners...)
	m.mu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	if route.Access == CallbackAccessOwnerOnly && !isOwner(cb.FromID, owners) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, MsgUnauthorized)
		return
	}

	payload := ""
	if len(parts) == 3 {
		payload = parts[2]
	}
	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := m.newRequest(up, chat, cb.FromID, "cb:"+route.key(), owners)
	req.Payload = payload

	h := handlerChain(func(c context.Context, r *Request) error { return route.Handle(c, r, payload) }, route.Timeout)
	if !m.enqueue(func() {
		_ = h(ctx, req)
		// stops the client's loading spinner
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
	}) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, MsgBusy)
	}
}

func (m *CommandManager) newRequest(up kit.Update, chat kit.ChatTarget, from int64, command string, owners []int64) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: command,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.ChatID(chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", command),
			logx.String("kind", string(up.Kind)),
		),
		Owners: owners,
	}
}

func (m *CommandManager) reply(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := m.adapter.SendText(ctx, to, text, nil); err != nil {
		m.log.Debug("router reply failed", logx.Err(err))
	}
}
