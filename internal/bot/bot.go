// Package bot holds the chat commands: registration, reminders, weather
// subscriptions and the time-zone helpers.
package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"golang.org/x/time/rate"

	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	"remindbot/internal/task/engine"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

// CurrentWeather renders the current conditions for a province.
// weather.Client implements it.
type CurrentWeather interface {
	CurrentText(ctx context.Context, province string) (string, error)
}

// Status is the runtime view shown by /estado.
type Status struct {
	Uptime   time.Duration
	Storage  string
	Triggers int
	Engine   engine.Snapshot
	Notifier notifier.Stats
}

type Deps struct {
	Reminders *reminder.Service
	Weather   CurrentWeather
	Clock     clock.Clock
	Log       logx.Logger
	Status    func() Status
}

// Bot turns chat requests into reminder.Service calls.
type Bot struct {
	svc     *reminder.Service
	weather CurrentWeather
	clk     clock.Clock
	log     logx.Logger
	status  func() Status

	regMu      sync.Mutex
	regLimits  map[int64]*rate.Limiter
	regPerMin  int
	regLastGC  time.Time
	regIdleTTL time.Duration
}

func New(d Deps) *Bot {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{
		svc:        d.Reminders,
		weather:    d.Weather,
		clk:        d.Clock,
		log:        log.With(logx.String("comp", "bot")),
		status:     d.Status,
		regLimits:  map[int64]*rate.Limiter{},
		regPerMin:  3,
		regIdleTTL: 10 * time.Minute,
	}
}

const (
	sectionReminders = "Recordatorios"
	sectionWeather   = "Clima"
	sectionAdmin     = "Administración"
)

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "start",
			Section:     router.SectionGeneral,
			Description: "mensaje de bienvenida",
			Usage:       "/start",
			Handle:      b.cmdStart,
		},
		{
			Route:       "register",
			Section:     router.SectionGeneral,
			Aliases:     []string{"registro"},
			Description: "regístrate con un apodo",
			Usage:       "/register [apodo]",
			Example:     "/register ana_88",
			Handle:      b.cmdRegister,
		},
		{
			Route:       "recordar",
			Section:     sectionReminders,
			Aliases:     []string{"r"},
			Description: "crea un recordatorio",
			Usage:       `/recordar "título" --inicio "AAAA-MM-DD HH:MM" [--zona UTC+1] [--desc "..."] [--frecuencia diaria|semanal|cada_x_dias|cada_x_horas] [--cada N] [--fin "AAAA-MM-DD HH:MM"]`,
			Example:     `/recordar "Regar plantas" --inicio "2025-01-02 10:00" --zona UTC+1 --frecuencia diaria`,
			Handle:      b.cmdRemind,
		},
		{
			Route:       "recordatorios",
			Section:     sectionReminders,
			Description: "lista tus recordatorios",
			Usage:       "/recordatorios",
			Handle:      b.cmdListReminders,
		},
		{
			Route:       "borrar",
			Section:     sectionReminders,
			Description: "elimina un recordatorio por número",
			Usage:       "/borrar <n>",
			Example:     "/borrar 2",
			Handle:      b.cmdDeleteReminder,
		},
		{
			Route:       "clima",
			Section:     sectionWeather,
			Description: "clima actual de una provincia",
			Usage:       "/clima <provincia>",
			Example:     "/clima Sevilla",
			Handle:      b.cmdWeather,
		},
		{
			Route:       "suscribir",
			Section:     sectionWeather,
			Description: "recibe el clima cada día a una hora",
			Usage:       "/suscribir <provincia> <HH:MM> <UTC±N>",
			Example:     "/suscribir Sevilla 08:00 UTC+1",
			Handle:      b.cmdSubscribe,
		},
		{
			Route:       "suscripciones",
			Section:     sectionWeather,
			Description: "lista tus recordatorios de clima",
			Usage:       "/suscripciones",
			Handle:      b.cmdListSubscriptions,
		},
		{
			Route:       "editar_clima",
			Section:     sectionWeather,
			Description: "cambia la hora de un recordatorio de clima",
			Usage:       "/editar_clima <n> <HH:MM> <UTC±N>",
			Example:     "/editar_clima 1 07:30 UTC+1",
			Handle:      b.cmdEditSubscription,
		},
		{
			Route:       "provincias",
			Section:     sectionWeather,
			Description: "provincias disponibles",
			Usage:       "/provincias",
			Handle:      b.cmdProvinces,
		},
		{
			Route:       "zonas",
			Section:     router.SectionGeneral,
			Description: "zonas horarias",
			Usage:       "/zonas",
			Handle:      b.cmdZones,
		},
		{
			Route:       "estado",
			Section:     sectionAdmin,
			Description: "estado del bot",
			Usage:       "/estado",
			Access:      router.AccessOwnerOnly,
			Handle:      b.cmdStatus,
		},
	}
}

func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{
			Namespace:   "rem",
			Action:      "del",
			Description: "borra un recordatorio",
			Access:      router.CallbackAccessEveryone,
			Handle:      b.cbDeleteReminder,
		},
		{
			Namespace:   "wx",
			Action:      "del",
			Description: "borra un recordatorio de clima",
			Access:      router.CallbackAccessEveryone,
			Handle:      b.cbDeleteSubscription,
		},
		{
			Namespace:   "zone",
			Action:      "show",
			Description: "hora actual en una zona",
			Access:      router.CallbackAccessEveryone,
			Handle:      b.cbShowZone,
		},
	}
}

// requireUser replies with the registration hint when the sender is unknown.
// ok is false when the handler should stop.
func (b *Bot) requireUser(ctx context.Context, req *router.Request) (reminder.User, bool, error) {
	u, err := b.svc.User(ctx, req.FromID)
	if errors.Is(err, reminder.ErrNotRegistered) {
		return reminder.User{}, false, req.Reply(ctx, reminder.MsgNotRegistered, nil)
	}
	if err != nil {
		return reminder.User{}, false, err
	}
	return u, true, nil
}

// allowRegister rate limits /register per sender.
func (b *Bot) allowRegister(id int64) bool {
	b.regMu.Lock()
	defer b.regMu.Unlock()

	now := b.clk.Now()
	if now.Sub(b.regLastGC) > b.regIdleTTL {
		for k, l := range b.regLimits {
			if l.TokensAt(now) >= float64(b.regPerMin) {
				delete(b.regLimits, k)
			}
		}
		b.regLastGC = now
	}
	l, ok := b.regLimits[id]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(b.regPerMin)), b.regPerMin)
		b.regLimits[id] = l
	}
	return l.AllowN(now, 1)
}
