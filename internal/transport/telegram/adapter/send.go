package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "remindbot/internal/transport"
)

// textLimit stays under Telegram's 4096 character cap.
const textLimit = 4000

// SendText sends text, split into several messages when it is too long. The
// keyboard goes on the first one. The returned ref is the first message.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		so := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		if i == 0 && len(opt.Keyboard) > 0 {
			so.ReplyMarkup = inlineMarkup(opt.Keyboard)
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			return first, classify(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// AnswerCallback stops the button's loading spinner, showing text as a toast
// when it is not empty.
func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify(a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text}))
}

// splitText cuts s into chunks of at most limit runes at line breaks. Reminder
// lists and help pages are one item per line, so HTML tags never straddle a
// cut unless a single line is longer than limit.
func splitText(s string, limit int) []string {
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}
	var (
		out []string
		cur []string
		n   int // runes in cur, separators included
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.TrimRight(strings.Join(cur, "\n"), "\n"))
			cur, n = cur[:0], 0
		}
	}
	for _, line := range strings.Split(s, "\n") {
		rs := []rune(line)
		for len(rs) > limit {
			flush()
			out = append(out, string(rs[:limit]))
			rs = rs[limit:]
		}
		if len(cur) == 0 && len(rs) == 0 {
			continue
		}
		if len(cur) > 0 && n+1+len(rs) > limit {
			flush()
		}
		if len(cur) > 0 {
			n++
		}
		cur = append(cur, string(rs))
		n += len(rs)
	}
	flush()
	return out
}

func inlineMarkup(kb kit.Keyboard) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(kb))
	for _, r := range kb {
		btns := make([]tele.Btn, 0, len(r))
		for _, b := range r {
			btns = append(btns, tele.Btn{Text: b.Text, Data: b.Data})
		}
		rows = append(rows, rm.Row(btns...))
	}
	rm.Inline(rows...)
	return rm
}

// classify marks errors no retry can fix with kit.ErrPermanent and carries
// Telegram's flood wait as kit.RateLimited.
func classify(err error) error {
	var flood tele.FloodError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &flood):
		return kit.RateLimited(err, time.Duration(flood.RetryAfter)*time.Second)
	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrKickedFromGroup),
		errors.Is(err, tele.ErrKickedFromSuperGroup):
		return fmt.Errorf("%w: %w", kit.ErrPermanent, err)
	default:
		return err
	}
}
