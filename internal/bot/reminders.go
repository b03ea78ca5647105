package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
	"remindbot/internal/tzoffset"
	logx "remindbot/pkg/logx"
)

const (
	msgWelcome          = "¡Hola! Bienvenido al bot de recordatorios.\nRegístrate con /register y usa /help para ver los comandos disponibles."
	msgRegisterUsage    = "Indica un apodo: /register <apodo>"
	msgBadNickname      = "El apodo contiene caracteres no permitidos."
	msgRegisterLimited  = "Demasiados intentos de registro. Espera un minuto."
	msgNoReminders      = "No tienes recordatorios."
	msgNoRemindersToDel = "No tienes recordatorios para eliminar."
	msgPickReminder     = "Selecciona el recordatorio que deseas eliminar:"
	msgReminderDeleted  = "Recordatorio eliminado."
	msgReminderGone     = "Ese recordatorio ya no existe."
	msgDeleteFailed     = "No se pudo eliminar el recordatorio."
	msgBadIndex         = "Número de recordatorio no válido."
	msgBadZone          = "Zona horaria no válida. Usa el formato UTC+N o consulta /zonas."
	msgBadStart         = "Fecha de inicio no válida. Usa --inicio \"AAAA-MM-DD HH:MM\"."
	msgBadEnd           = "Fecha de fin no válida. Usa --fin \"AAAA-MM-DD HH:MM\"."
	msgEndBeforeStart   = "La fecha de fin debe ser posterior al inicio."
	msgBadFrequency     = "Frecuencia no válida. Usa diaria, semanal, cada_x_dias o cada_x_horas."
	msgBadEvery         = "Esa frecuencia necesita --cada N con un entero positivo."
	msgCreateFailed     = "No se pudo crear el recordatorio."
)

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, msgWelcome, nil)
}

func (b *Bot) cmdRegister(ctx context.Context, req *router.Request) error {
	if !b.allowRegister(req.FromID) {
		return req.Reply(ctx, msgRegisterLimited, nil)
	}
	nick := strings.TrimSpace(strings.Join(req.Args, " "))
	if nick == "" && strings.TrimSpace(req.FromUsername) == "" {
		return req.Reply(ctx, msgRegisterUsage, nil)
	}
	if nick != "" && !reminder.ValidNickname(nick) {
		return req.Reply(ctx, msgBadNickname, nil)
	}
	u, err := b.svc.RegisterUser(ctx, reminder.User{
		ID:       req.FromID,
		ChatID:   req.Chat.ChatID,
		Username: req.FromUsername,
		Nickname: nick,
	})
	if errors.Is(err, reminder.ErrInvalidInput) {
		return req.Reply(ctx, msgBadNickname, nil)
	}
	if err != nil {
		return err
	}
	return req.Reply(ctx, "Registrado exitosamente como: "+u.DisplayName(), nil)
}

// cmdRemind parses /recordar "título" --inicio ... and creates the reminder.
func (b *Bot) cmdRemind(ctx context.Context, req *router.Request) error {
	if _, ok, err := b.requireUser(ctx, req); !ok {
		return err
	}
	r, problem := b.parseReminder(req)
	if problem != "" {
		return req.Reply(ctx, problem, nil)
	}

	r, tags, err := b.svc.CreateReminder(ctx, r)
	if errors.Is(err, reminder.ErrInvalidInput) {
		b.log.Debug("reminder rejected", logx.Err(err))
		return req.Reply(ctx, msgCreateFailed, nil)
	}
	if err != nil && r.ID == "" {
		return err
	}
	if err != nil {
		// Saved but not armed. A restart re-arms whatever is still ahead.
		b.log.Warn("reminder saved without triggers", logx.String("id", r.ID), logx.Err(err))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Recordatorio creado: %s\n", r.Title)
	fmt.Fprintf(&sb, "Inicio: %s (%s)\n", r.StartLocal(), r.StartZone)
	if r.Recurrence.Kind != reminder.KindNone {
		fmt.Fprintf(&sb, "Frecuencia: %s\n", r.Recurrence)
	}
	if r.End != nil {
		fmt.Fprintf(&sb, "Fin: %s (%s)\n", tzoffset.FormatLocal(r.End, r.EndZone), r.EndZone)
	}
	if len(tags) == 0 && err == nil {
		sb.WriteString("Aviso: todas sus fechas ya han pasado, no se enviará nada.")
	}
	return req.Reply(ctx, strings.TrimRight(sb.String(), "\n"), nil)
}

// parseReminder builds a reminder from the request. A non-empty problem is
// the reply to send instead.
func (b *Bot) parseReminder(req *router.Request) (reminder.Reminder, string) {
	title := strings.TrimSpace(strings.Join(req.Args, " "))
	startRaw := strings.TrimSpace(req.Flags["inicio"])
	if title == "" || startRaw == "" {
		return reminder.Reminder{}, "Uso: " + b.usage("recordar")
	}

	zoneRaw := strings.TrimSpace(req.Flags["zona"])
	if zoneRaw == "" {
		zoneRaw = "UTC+0"
	}
	if !tzoffset.ValidOffset(zoneRaw) {
		return reminder.Reminder{}, msgBadZone
	}
	zone := tzoffset.ParseOffset(zoneRaw)

	startWall, err := time.Parse(tzoffset.LayoutMinute, startRaw)
	if err != nil {
		return reminder.Reminder{}, msgBadStart
	}

	kind, err := reminder.ParseKind(req.Flags["frecuencia"])
	if err != nil {
		return reminder.Reminder{}, msgBadFrequency
	}
	rec := reminder.Recurrence{Kind: kind}
	if kind.NeedsN() {
		n, err := strconv.Atoi(strings.TrimSpace(req.Flags["cada"]))
		if err != nil || n < 1 {
			return reminder.Reminder{}, msgBadEvery
		}
		rec.N = n
	}

	r := reminder.Reminder{
		OwnerID:     req.FromID,
		ChatID:      req.Chat.ChatID,
		Title:       title,
		Description: strings.TrimSpace(req.Flags["desc"]),
		Start:       tzoffset.LocalDateTime{Wall: startWall, Offset: zone},
		StartZone:   zone,
		Recurrence:  rec,
	}

	if endRaw := strings.TrimSpace(req.Flags["fin"]); endRaw != "" {
		endZone := zone
		if z := strings.TrimSpace(req.Flags["zona_fin"]); z != "" {
			if !tzoffset.ValidOffset(z) {
				return reminder.Reminder{}, msgBadZone
			}
			endZone = tzoffset.ParseOffset(z)
		}
		endWall, err := time.Parse(tzoffset.LayoutMinute, endRaw)
		if err != nil {
			return reminder.Reminder{}, msgBadEnd
		}
		r.End = tzoffset.LocalDateTime{Wall: endWall, Offset: endZone}
		r.EndZone = endZone
		if !r.End.ToUTC().After(r.Start.ToUTC()) {
			return reminder.Reminder{}, msgEndBeforeStart
		}
	}
	return r, ""
}

func (b *Bot) cmdListReminders(ctx context.Context, req *router.Request) error {
	if _, ok, err := b.requireUser(ctx, req); !ok {
		return err
	}
	list, err := b.svc.ListReminders(ctx, req.FromID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return req.Reply(ctx, msgNoReminders, nil)
	}
	var sb strings.Builder
	sb.WriteString("Tus recordatorios:\n\n")
	kb := make(kit.Keyboard, 0, len(list))
	for i, r := range list {
		sb.WriteString(reminder.ListLine(i+1, r))
		sb.WriteString("\n")
		kb = append(kb, []kit.Button{{
			Text: fmt.Sprintf("🗑 %d) %s", i+1, shorten(r.Title, 40)),
			Data: "rem:del:" + r.ID,
		}})
	}
	sb.WriteString("\n" + msgPickReminder)
	return req.Reply(ctx, sb.String(), kb)
}

func (b *Bot) cmdDeleteReminder(ctx context.Context, req *router.Request) error {
	if _, ok, err := b.requireUser(ctx, req); !ok {
		return err
	}
	list, err := b.svc.ListReminders(ctx, req.FromID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return req.Reply(ctx, msgNoRemindersToDel, nil)
	}
	i, ok := pickIndex(req.Args, len(list))
	if !ok {
		return req.Reply(ctx, msgBadIndex, nil)
	}
	return b.deleteReminder(ctx, req, list[i].ID)
}

func (b *Bot) cbDeleteReminder(ctx context.Context, req *router.Request, payload string) error {
	id := strings.TrimSpace(payload)
	if id == "" {
		return req.Reply(ctx, msgBadIndex, nil)
	}
	return b.deleteReminder(ctx, req, id)
}

func (b *Bot) deleteReminder(ctx context.Context, req *router.Request, id string) error {
	err := b.svc.DeleteReminder(ctx, req.FromID, id)
	switch {
	case err == nil:
		return req.Reply(ctx, msgReminderDeleted, nil)
	case errors.Is(err, reminder.ErrNotFound):
		return req.Reply(ctx, msgReminderGone, nil)
	default:
		b.log.Warn("delete reminder failed", logx.String("id", id), logx.Err(err))
		return req.Reply(ctx, msgDeleteFailed, nil)
	}
}

func (b *Bot) usage(route string) string {
	for _, c := range b.Commands() {
		if c.Route == route {
			return c.Usage
		}
	}
	return "/" + route
}

// pickIndex reads a 1-based list position from args[0].
func pickIndex(args []string, n int) (int, bool) {
	if len(args) == 0 {
		return 0, false
	}
	i, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i - 1, true
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
