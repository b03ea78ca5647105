package reminder

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jmhodges/clock"

	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	"remindbot/internal/tzoffset"
	logx "remindbot/pkg/logx"
)

// Scheduler is the trigger registry. scheduler.Service implements it.
type Scheduler interface {
	Replace(id string, specs []scheduler.Spec) ([]string, error)
	Cancel(id string) int
}

// Notifier delivers rendered messages. notifier.Service implements it.
type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// WeatherSource renders the daily weather report for a subscription.
type WeatherSource interface {
	Report(ctx context.Context, province, name string, at tzoffset.LocalTime) (string, error)
}

type Deps struct {
	Store     storage.Store
	Scheduler Scheduler
	Notifier  Notifier
	Weather   WeatherSource
	Clock     clock.Clock
	Log       logx.Logger
	Bus       eventbus.Bus

	// TriggerTimeout bounds each fired job; 0 leaves the scheduler default.
	TriggerTimeout time.Duration
}

// Service owns reminder and subscription documents and keeps their triggers
// in step with them.
type Service struct {
	store   storage.Store
	sched   Scheduler
	notify  Notifier
	weather WeatherSource
	clk     clock.Clock
	log     logx.Logger
	bus     eventbus.Bus
	timeout time.Duration
}

func New(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:   d.Store,
		sched:   d.Scheduler,
		notify:  d.Notifier,
		weather: d.Weather,
		clk:     d.Clock,
		log:     log.With(logx.String("comp", "reminder")),
		bus:     d.Bus,
		timeout: d.TriggerTimeout,
	}
}

var nicknameRe = regexp.MustCompile(`^[A-Za-z0-9_]{2,15}$`)

// ValidNickname reports whether s can be used as a nickname.
func ValidNickname(s string) bool { return nicknameRe.MatchString(s) }

// RegisterUser creates or updates u.
func (s *Service) RegisterUser(ctx context.Context, u User) (User, error) {
	u.Nickname = strings.TrimSpace(u.Nickname)
	u.Username = strings.TrimSpace(u.Username)
	if u.Nickname != "" && !ValidNickname(u.Nickname) {
		return User{}, fmt.Errorf("%w: nickname must be 2-15 characters of letters, digits or _", ErrInvalidInput)
	}
	if u.Nickname == "" && u.Username == "" {
		return User{}, fmt.Errorf("%w: nickname required when the account has no username", ErrInvalidInput)
	}
	if u.ChatID == 0 {
		u.ChatID = u.ID
	}
	if old, err := s.store.GetUser(ctx, u.ID); err == nil {
		u.CreatedAt = old.CreatedAt
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.clk.Now().UTC()
	}
	if err := s.store.UpsertUser(ctx, storage.UserRecord(u)); err != nil {
		return User{}, fmt.Errorf("register user %d: %w", u.ID, err)
	}
	return u, nil
}

// User returns the registered user id or ErrNotRegistered.
func (s *Service) User(ctx context.Context, id int64) (User, error) {
	rec, err := s.store.GetUser(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return User{}, ErrNotRegistered
	}
	if err != nil {
		return User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	return User(rec), nil
}

// CreateReminder persists r and arms its triggers. The returned reminder
// carries the assigned ID; tags lists the armed triggers (possibly none when
// every instant is already past).
func (s *Service) CreateReminder(ctx context.Context, r Reminder) (Reminder, []string, error) {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return Reminder{}, nil, fmt.Errorf("%w: empty title", ErrInvalidInput)
	}
	if strings.TrimSpace(r.Description) == "" {
		r.Description = DefaultDescription
	}
	if r.Start == nil {
		return Reminder{}, nil, fmt.Errorf("%w: missing start", ErrInvalidInput)
	}
	if err := r.Recurrence.Validate(); err != nil {
		return Reminder{}, nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if r.End != nil && !r.End.ToUTC().After(r.Start.ToUTC()) {
		return Reminder{}, nil, fmt.Errorf("%w: end must be after start", ErrInvalidInput)
	}
	if r.ChatID == 0 {
		r.ChatID = r.OwnerID
	}
	r.CreatedAt = s.clk.Now().UTC()

	id, err := s.store.CreateReminder(ctx, r.Record())
	if err != nil {
		return Reminder{}, nil, fmt.Errorf("create reminder: %w", err)
	}
	r.ID = id

	tags, err := s.armReminder(r)
	if err != nil {
		return r, nil, err
	}
	s.log.Info("reminder created", logx.String("id", id), logx.Int64("owner", r.OwnerID), logx.Int("triggers", len(tags)))
	return r, tags, nil
}

// ListReminders returns the owner's reminders in creation order. Documents
// that fail to decode are logged and left out.
func (s *Service) ListReminders(ctx context.Context, owner int64) ([]Reminder, error) {
	recs, err := s.store.ListRemindersByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	out := make([]Reminder, 0, len(recs))
	for _, rec := range recs {
		r, err := DecodeReminder(rec)
		if err != nil {
			s.log.Warn("reminder skipped", logx.String("id", rec.ID), logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// DeleteReminder removes the document first and only then its triggers.
// A persistence error or a missing document leaves the triggers alone.
func (s *Service) DeleteReminder(ctx context.Context, owner int64, id string) error {
	n, err := s.store.DeleteReminder(ctx, owner, id)
	if err != nil {
		return fmt.Errorf("delete reminder %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	c := s.sched.Cancel(id)
	s.log.Info("reminder deleted", logx.String("id", id), logx.Int("cancelled", c))
	return nil
}

// Subscribe persists a daily weather subscription and arms it.
func (s *Service) Subscribe(ctx context.Context, sub Subscription) (Subscription, error) {
	sub.Province = strings.TrimSpace(sub.Province)
	if sub.Province == "" {
		return Subscription{}, fmt.Errorf("%w: missing province", ErrInvalidInput)
	}
	if err := sub.At.Validate(); err != nil {
		return Subscription{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if sub.ChatID == 0 {
		sub.ChatID = sub.OwnerID
	}
	sub.CreatedAt = s.clk.Now().UTC()

	id, err := s.store.CreateSubscription(ctx, sub.Record())
	if err != nil {
		return Subscription{}, fmt.Errorf("create subscription: %w", err)
	}
	sub.ID = id
	if _, err := s.armSubscription(sub); err != nil {
		return sub, err
	}
	s.log.Info("subscription created", logx.String("id", id), logx.String("province", sub.Province), logx.String("at", sub.At.String()))
	return sub, nil
}

func (s *Service) ListSubscriptions(ctx context.Context, owner int64) ([]Subscription, error) {
	recs, err := s.store.ListSubscriptionsByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	out := make([]Subscription, 0, len(recs))
	for _, rec := range recs {
		sub, err := DecodeSubscription(rec)
		if err != nil {
			s.log.Warn("subscription skipped", logx.String("id", rec.ID), logx.Err(err))
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

// EditSubscription persists the new time, re-reads the document and replaces
// the subscription's trigger under the same ID. On a persistence failure the
// live trigger is kept.
func (s *Service) EditSubscription(ctx context.Context, owner int64, id string, at tzoffset.LocalTime) (Subscription, error) {
	if err := at.Validate(); err != nil {
		return Subscription{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	n, err := s.store.UpdateSubscriptionTime(ctx, owner, id, at.Hour, at.Minute, at.Offset.String())
	if err != nil {
		return Subscription{}, fmt.Errorf("update subscription %s: %w", id, err)
	}
	if n == 0 {
		return Subscription{}, ErrNotFound
	}
	rec, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return Subscription{}, fmt.Errorf("reload subscription %s: %w", id, err)
	}
	sub, err := DecodeSubscription(rec)
	if err != nil {
		return Subscription{}, err
	}
	if _, err := s.armSubscription(sub); err != nil {
		return sub, err
	}
	s.log.Info("subscription edited", logx.String("id", id), logx.String("at", sub.At.String()))
	return sub, nil
}

func (s *Service) DeleteSubscription(ctx context.Context, owner int64, id string) error {
	n, err := s.store.DeleteSubscription(ctx, owner, id)
	if err != nil {
		return fmt.Errorf("delete subscription %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	c := s.sched.Cancel(id)
	s.log.Info("subscription deleted", logx.String("id", id), logx.Int("cancelled", c))
	return nil
}

func (s *Service) armReminder(r Reminder) ([]string, error) {
	arms := PlanReminder(r, s.clk.Now())
	specs := make([]scheduler.Spec, 0, len(arms))
	for _, a := range arms {
		specs = append(specs, s.spec(r.ID, r.ChatID, a, s.reminderJob(r, a.Role)))
	}
	tags, err := s.sched.Replace(r.ID, specs)
	if err != nil {
		return nil, fmt.Errorf("schedule reminder %s: %w", r.ID, err)
	}
	return tags, nil
}

func (s *Service) armSubscription(sub Subscription) ([]string, error) {
	arms := PlanSubscription(sub, s.clk.Now())
	specs := make([]scheduler.Spec, 0, len(arms))
	for _, a := range arms {
		specs = append(specs, s.spec(sub.ID, sub.ChatID, a, s.weatherJob(sub)))
	}
	tags, err := s.sched.Replace(sub.ID, specs)
	if err != nil {
		return nil, fmt.Errorf("schedule subscription %s: %w", sub.ID, err)
	}
	return tags, nil
}

func (s *Service) spec(id string, chatID int64, a Arm, run func(context.Context) error) scheduler.Spec {
	return scheduler.Spec{
		ID:           id,
		Role:         a.Role,
		Recipient:    chatID,
		At:           a.At,
		Every:        a.Every,
		Timeout:      s.timeout,
		CancelOnFire: a.CancelOnFire,
		Run:          run,
	}
}

func (s *Service) reminderJob(r Reminder, role scheduler.Role) func(context.Context) error {
	text := TriggerText(r, role)
	return func(ctx context.Context) error {
		return s.send(ctx, r.ChatID, scheduler.Tag(r.ID, role), text)
	}
}

func (s *Service) weatherJob(sub Subscription) func(context.Context) error {
	return func(ctx context.Context) error {
		if s.weather == nil {
			return engine.NoRetry(errors.New("weather source not configured"))
		}
		text, err := s.weather.Report(ctx, sub.Province, sub.DisplayName, sub.At)
		if err != nil {
			return fmt.Errorf("weather report %s: %w", sub.ID, err)
		}
		return s.send(ctx, sub.ChatID, scheduler.Tag(sub.ID, scheduler.RoleDaily), text)
	}
}

func (s *Service) send(ctx context.Context, chatID int64, source, text string) error {
	if s.notify == nil {
		return engine.NoRetry(errors.New("notifier not configured"))
	}
	err := s.notify.Notify(ctx, kit.Notification{
		Target: kit.ChatTarget{ChatID: chatID},
		Source: source,
		Text:   text,
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, notifier.ErrDisabled) || errors.Is(err, notifier.ErrStopped) {
		return engine.NoRetry(err)
	}
	return err
}
