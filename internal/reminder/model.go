package reminder

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/storage"
	"remindbot/internal/tzoffset"
)

var (
	ErrNotFound        = errors.New("reminder: not found")
	ErrInvalidDocument = errors.New("reminder: invalid document")
	ErrInvalidInput    = errors.New("reminder: invalid input")
	ErrNotRegistered   = errors.New("reminder: user not registered")
)

const DefaultDescription = "Sin descripción"

type User struct {
	ID        int64
	ChatID    int64
	Username  string
	Nickname  string
	CreatedAt time.Time
}

// DisplayName is the nickname, falling back to the username.
func (u User) DisplayName() string {
	if n := strings.TrimSpace(u.Nickname); n != "" {
		return n
	}
	return strings.TrimSpace(u.Username)
}

type Reminder struct {
	ID          string
	OwnerID     int64
	ChatID      int64
	Title       string
	Description string

	Start     tzoffset.Moment
	StartZone tzoffset.Offset
	End       tzoffset.Moment // nil when open-ended
	EndZone   tzoffset.Offset

	Recurrence Recurrence
	CreatedAt  time.Time
}

// StartLocal renders the start in the reminder's own zone.
func (r Reminder) StartLocal() string { return tzoffset.FormatLocal(r.Start, r.StartZone) }

type Subscription struct {
	ID          string
	OwnerID     int64
	ChatID      int64
	DisplayName string
	Province    string
	At          tzoffset.LocalTime
	CreatedAt   time.Time
}

func invalid(id, field string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s: field %s", ErrInvalidDocument, id, field)
	}
	return fmt.Errorf("%w: %s: field %s: %w", ErrInvalidDocument, id, field, err)
}

// DecodeReminder validates a stored document. Every failure wraps
// ErrInvalidDocument; unknown recurrence tags also wrap ErrUnknownRecurrence.
func DecodeReminder(rec storage.ReminderRecord) (Reminder, error) {
	r := Reminder{
		ID:          rec.ID,
		OwnerID:     rec.OwnerID,
		ChatID:      rec.ChatID,
		Title:       rec.Title,
		Description: rec.Description,
		StartZone:   tzoffset.ParseOffset(rec.StartZone),
		EndZone:     tzoffset.ParseOffset(rec.EndZone),
		CreatedAt:   rec.CreatedAt,
	}
	if strings.TrimSpace(r.ID) == "" {
		return Reminder{}, invalid("?", "id", nil)
	}
	if r.Description == "" {
		r.Description = DefaultDescription
	}
	if r.ChatID == 0 {
		r.ChatID = r.OwnerID
	}

	start, err := tzoffset.ParseMoment(rec.Start, rec.StartZone)
	if err != nil {
		return Reminder{}, invalid(r.ID, "start", err)
	}
	if start == nil {
		return Reminder{}, invalid(r.ID, "start", errors.New("missing"))
	}
	r.Start = start

	if rec.End != "" {
		zone := rec.EndZone
		if strings.TrimSpace(zone) == "" {
			zone = rec.StartZone
			r.EndZone = r.StartZone
		}
		end, err := tzoffset.ParseMoment(rec.End, zone)
		if err != nil {
			return Reminder{}, invalid(r.ID, "end", err)
		}
		r.End = end
	}

	kind, err := ParseKind(rec.Recurrence)
	if err != nil {
		return Reminder{}, invalid(r.ID, "recurrence", err)
	}
	r.Recurrence = Recurrence{Kind: kind, N: rec.RecurrenceN}
	if err := r.Recurrence.Validate(); err != nil {
		return Reminder{}, invalid(r.ID, "recurrence_n", err)
	}
	return r, nil
}

// Record converts r back to its stored form. Start and End keep their
// wall-clock spelling when they are local.
func (r Reminder) Record() storage.ReminderRecord {
	rec := storage.ReminderRecord{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		ChatID:      r.ChatID,
		Title:       r.Title,
		Description: r.Description,
		StartZone:   r.StartZone.String(),
		Recurrence:  r.Recurrence.Kind.String(),
		RecurrenceN: r.Recurrence.N,
		CreatedAt:   r.CreatedAt,
	}
	rec.Start = encodeMoment(r.Start)
	if r.End != nil {
		rec.End = encodeMoment(r.End)
		rec.EndZone = r.EndZone.String()
	}
	return rec
}

func encodeMoment(m tzoffset.Moment) string {
	switch v := m.(type) {
	case tzoffset.LocalDateTime:
		return v.Wall.Format(tzoffset.LayoutMinute)
	case tzoffset.Instant:
		return v.At.UTC().Format(time.RFC3339)
	default:
		return ""
	}
}

func DecodeSubscription(rec storage.SubscriptionRecord) (Subscription, error) {
	s := Subscription{
		ID:          rec.ID,
		OwnerID:     rec.OwnerID,
		ChatID:      rec.ChatID,
		DisplayName: rec.DisplayName,
		Province:    rec.Province,
		At: tzoffset.LocalTime{
			Hour:   rec.Hour,
			Minute: rec.Minute,
			Offset: tzoffset.ParseOffset(rec.Zone),
		},
		CreatedAt: rec.CreatedAt,
	}
	if strings.TrimSpace(s.ID) == "" {
		return Subscription{}, invalid("?", "id", nil)
	}
	if strings.TrimSpace(s.Province) == "" {
		return Subscription{}, invalid(s.ID, "province", errors.New("missing"))
	}
	if err := s.At.Validate(); err != nil {
		return Subscription{}, invalid(s.ID, "hour/minute", err)
	}
	if s.ChatID == 0 {
		s.ChatID = s.OwnerID
	}
	return s, nil
}

func (s Subscription) Record() storage.SubscriptionRecord {
	return storage.SubscriptionRecord{
		ID:          s.ID,
		OwnerID:     s.OwnerID,
		ChatID:      s.ChatID,
		DisplayName: s.DisplayName,
		Province:    s.Province,
		Hour:        s.At.Hour,
		Minute:      s.At.Minute,
		Zone:        s.At.Offset.String(),
		CreatedAt:   s.CreatedAt,
	}
}
