package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
	"remindbot/internal/tzoffset"
	"remindbot/internal/weather"
	logx "remindbot/pkg/logx"
)

const (
	msgWeatherUsage      = "Indica una provincia: /clima <provincia>"
	msgUnknownProvince   = "Provincia no encontrada. Usa /provincias para ver la lista."
	msgBadClock          = "Formato incorrecto, usa HH:MM (24h)."
	msgNoSubscriptions   = "No tienes recordatorios de clima."
	msgPickSubscription  = "Selecciona el recordatorio de clima que deseas eliminar:"
	msgSubscriptionGone  = "Ese recordatorio de clima ya no existe."
	msgSubscriptionDel   = "Recordatorio de clima eliminado."
	msgSubscriptionEdit  = "¡Recordatorio actualizado con la nueva hora!"
	msgSubscriptionFail  = "No se pudo actualizar el recordatorio de clima."
	msgSubscribeFail     = "No se pudo crear el recordatorio de clima."
	msgBadSubscriptionNo = "Número de recordatorio de clima no válido."
)

func (b *Bot) cmdWeather(ctx context.Context, req *router.Request) error {
	if _, ok, err := b.requireUser(ctx, req); !ok {
		return err
	}
	name := strings.TrimSpace(strings.Join(req.Args, " "))
	if name == "" {
		return req.Reply(ctx, msgWeatherUsage, nil)
	}
	p, ok := weather.Lookup(name)
	if !ok {
		return req.Reply(ctx, msgUnknownProvince, nil)
	}
	text, err := b.weather.CurrentText(ctx, p.Name)
	if err != nil {
		b.log.Warn("current weather failed", logx.String("province", p.Name), logx.Err(err))
	}
	return req.Reply(ctx, text, nil)
}

// parseDaily reads the trailing "<HH:MM> <UTC±N>" pair of args. rest is
// whatever came before it.
func parseDaily(args []string) (rest []string, at tzoffset.LocalTime, problem string) {
	if len(args) < 2 {
		return nil, tzoffset.LocalTime{}, msgBadClock
	}
	zoneRaw := args[len(args)-1]
	clockRaw := args[len(args)-2]
	h, m, err := tzoffset.ParseClock(clockRaw)
	if err != nil {
		return nil, tzoffset.LocalTime{}, msgBadClock
	}
	if !tzoffset.ValidOffset(zoneRaw) {
		return nil, tzoffset.LocalTime{}, msgBadZone
	}
	return args[:len(args)-2], tzoffset.LocalTime{Hour: h, Minute: m, Offset: tzoffset.ParseOffset(zoneRaw)}, ""
}

func (b *Bot) cmdSubscribe(ctx context.Context, req *router.Request) error {
	u, ok, err := b.requireUser(ctx, req)
	if !ok {
		return err
	}
	rest, at, problem := parseDaily(req.Args)
	if problem != "" {
		return req.Reply(ctx, problem+"\nUso: "+b.usage("suscribir"), nil)
	}
	name := strings.TrimSpace(strings.Join(rest, " "))
	if name == "" {
		return req.Reply(ctx, "Uso: "+b.usage("suscribir"), nil)
	}
	p, ok := weather.Lookup(name)
	if !ok {
		return req.Reply(ctx, msgUnknownProvince, nil)
	}

	sub, err := b.svc.Subscribe(ctx, reminder.Subscription{
		OwnerID:     req.FromID,
		ChatID:      req.Chat.ChatID,
		DisplayName: u.DisplayName(),
		Province:    p.Name,
		At:          at,
	})
	if errors.Is(err, reminder.ErrInvalidInput) || (err != nil && sub.ID == "") {
		b.log.Warn("subscribe failed", logx.String("province", p.Name), logx.Err(err))
		return req.Reply(ctx, msgSubscribeFail, nil)
	}
	if err != nil {
		b.log.Warn("subscription saved without trigger", logx.String("id", sub.ID), logx.Err(err))
	}
	return req.Reply(ctx, fmt.Sprintf("Recibirás el clima de %s cada día a las %02d:%02d (%s).", sub.Province, at.Hour, at.Minute, at.Offset), nil)
}

func (b *Bot) cmdListSubscriptions(ctx context.Context, req *router.Request) error {
	if _, ok, err := b.requireUser(ctx, req); !ok {
		return err
	}
	list, err := b.svc.ListSubscriptions(ctx, req.FromID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return req.Reply(ctx, msgNoSubscriptions, nil)
	}
	var sb strings.Builder
	sb.WriteString("Tus recordatorios de clima:\n\n")
	kb := make(kit.Keyboard, 0, len(list))
	for i, s := range list {
		sb.WriteString(reminder.SubscriptionLine(i+1, s))
		sb.WriteString("\n")
		kb = append(kb, []kit.Button{{
			Text: fmt.Sprintf("🗑 %d) %s %02d:%02d", i+1, s.Province, s.At.Hour, s.At.Minute),
			Data: "wx:del:" + s.ID,
		}})
	}
	sb.WriteString("\n" + msgPickSubscription)
	return req.Reply(ctx, sb.String(), kb)
}

func (b *Bot) cmdEditSubscription(ctx context.Context, req *router.Request) error {
	if _, ok, err := b.requireUser(ctx, req); !ok {
		return err
	}
	list, err := b.svc.ListSubscriptions(ctx, req.FromID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return req.Reply(ctx, msgNoSubscriptions, nil)
	}
	rest, at, problem := parseDaily(req.Args)
	if problem != "" {
		return req.Reply(ctx, problem+"\nUso: "+b.usage("editar_clima"), nil)
	}
	i, ok := pickIndex(rest, len(list))
	if !ok || len(rest) != 1 {
		return req.Reply(ctx, msgBadSubscriptionNo, nil)
	}

	sub, err := b.svc.EditSubscription(ctx, req.FromID, list[i].ID, at)
	switch {
	case err == nil:
		return req.Reply(ctx, msgSubscriptionEdit, nil)
	case sub.ID != "":
		b.log.Warn("subscription edited without trigger", logx.String("id", sub.ID), logx.Err(err))
		return req.Reply(ctx, msgSubscriptionEdit, nil)
	case errors.Is(err, reminder.ErrNotFound):
		return req.Reply(ctx, msgSubscriptionGone, nil)
	default:
		b.log.Warn("edit subscription failed", logx.String("id", list[i].ID), logx.Err(err))
		return req.Reply(ctx, msgSubscriptionFail, nil)
	}
}

func (b *Bot) cbDeleteSubscription(ctx context.Context, req *router.Request, payload string) error {
	id := strings.TrimSpace(payload)
	err := b.svc.DeleteSubscription(ctx, req.FromID, id)
	switch {
	case err == nil:
		return req.Reply(ctx, msgSubscriptionDel, nil)
	case errors.Is(err, reminder.ErrNotFound):
		return req.Reply(ctx, msgSubscriptionGone, nil)
	default:
		b.log.Warn("delete subscription failed", logx.String("id", id), logx.Err(err))
		return req.Reply(ctx, msgDeleteFailed, nil)
	}
}

func (b *Bot) cmdProvinces(ctx context.Context, req *router.Request) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Provincias disponibles (%d):\n", weather.ProvinceCount())
	for _, r := range weather.Regions() {
		fmt.Fprintf(&sb, "\n%s %s: %s", r.Flag, r.Name, strings.Join(r.Provinces, ", "))
	}
	return req.Reply(ctx, sb.String(), nil)
}
