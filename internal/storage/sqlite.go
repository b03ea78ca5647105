package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log, pruneEvery: 500}, nil
}

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertUser(ctx context.Context, u UserRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, chat_id, username, nickname, created_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET chat_id=excluded.chat_id, username=excluded.username, nickname=excluded.nickname`,
		u.ID, u.ChatID, nullStr(u.Username), u.Nickname, stamp(u.CreatedAt).Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetUser(ctx context.Context, id int64) (UserRecord, error) {
	var (
		u        UserRecord
		username sql.NullString
		created  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, username, nickname, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.ChatID, &username, &u.Nickname, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, ErrNotFound
	}
	if err != nil {
		return UserRecord{}, err
	}
	u.Username = username.String
	u.CreatedAt = parseStamp(created)
	return u, nil
}

const reminderCols = `id, owner_id, chat_id, title, description, start, start_zone, end_at, end_zone, recurrence, recurrence_n, created_at`

func (s *sqliteStore) CreateReminder(ctx context.Context, r ReminderRecord) (string, error) {
	if strings.TrimSpace(r.ID) == "" {
		r.ID = newID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(`+reminderCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.OwnerID, r.ChatID, r.Title, nullStr(r.Description),
		nullStr(r.Start), nullStr(r.StartZone), nullStr(r.End), nullStr(r.EndZone),
		nullStr(r.Recurrence), r.RecurrenceN, stamp(r.CreatedAt).Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (s *sqliteStore) GetReminder(ctx context.Context, id string) (ReminderRecord, error) {
	rows, err := s.queryReminders(ctx, `WHERE id = ?`, id)
	if err != nil {
		return ReminderRecord{}, err
	}
	if len(rows) == 0 {
		return ReminderRecord{}, ErrNotFound
	}
	return rows[0], nil
}

func (s *sqliteStore) ListReminders(ctx context.Context) ([]ReminderRecord, error) {
	return s.queryReminders(ctx, ``)
}

func (s *sqliteStore) ListRemindersByOwner(ctx context.Context, owner int64) ([]ReminderRecord, error) {
	return s.queryReminders(ctx, `WHERE owner_id = ?`, owner)
}

func (s *sqliteStore) queryReminders(ctx context.Context, where string, args ...any) ([]ReminderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reminderCols+` FROM reminders `+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReminderRecord
	for rows.Next() {
		var (
			r                             ReminderRecord
			desc, start, sz, end, ez, rec sql.NullString
			created                       string
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.ChatID, &r.Title, &desc, &start, &sz, &end, &ez, &rec, &r.RecurrenceN, &created); err != nil {
			return nil, err
		}
		r.Description, r.Start, r.StartZone = desc.String, start.String, sz.String
		r.End, r.EndZone, r.Recurrence = end.String, ez.String, rec.String
		r.CreatedAt = parseStamp(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteReminder(ctx context.Context, owner int64, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ? AND owner_id = ?`, id, owner)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const subscriptionCols = `id, owner_id, chat_id, display_name, province, hour, minute, zone, created_at`

func (s *sqliteStore) CreateSubscription(ctx context.Context, sub SubscriptionRecord) (string, error) {
	if strings.TrimSpace(sub.ID) == "" {
		sub.ID = newID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(`+subscriptionCols+`) VALUES(?,?,?,?,?,?,?,?,?)`,
		sub.ID, sub.OwnerID, sub.ChatID, nullStr(sub.DisplayName), sub.Province,
		sub.Hour, sub.Minute, nullStr(sub.Zone), stamp(sub.CreatedAt).Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", err
	}
	return sub.ID, nil
}

func (s *sqliteStore) GetSubscription(ctx context.Context, id string) (SubscriptionRecord, error) {
	rows, err := s.querySubscriptions(ctx, `WHERE id = ?`, id)
	if err != nil {
		return SubscriptionRecord{}, err
	}
	if len(rows) == 0 {
		return SubscriptionRecord{}, ErrNotFound
	}
	return rows[0], nil
}

func (s *sqliteStore) ListSubscriptions(ctx context.Context) ([]SubscriptionRecord, error) {
	return s.querySubscriptions(ctx, ``)
}

func (s *sqliteStore) ListSubscriptionsByOwner(ctx context.Context, owner int64) ([]SubscriptionRecord, error) {
	return s.querySubscriptions(ctx, `WHERE owner_id = ?`, owner)
}

func (s *sqliteStore) querySubscriptions(ctx context.Context, where string, args ...any) ([]SubscriptionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+subscriptionCols+` FROM subscriptions `+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubscriptionRecord
	for rows.Next() {
		var (
			r          SubscriptionRecord
			name, zone sql.NullString
			created    string
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.ChatID, &name, &r.Province, &r.Hour, &r.Minute, &zone, &created); err != nil {
			return nil, err
		}
		r.DisplayName, r.Zone = name.String, zone.String
		r.CreatedAt = parseStamp(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateSubscriptionTime(ctx context.Context, owner int64, id string, hour, minute int, zone string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET hour = ?, minute = ?, zone = ? WHERE id = ? AND owner_id = ?`,
		hour, minute, nullStr(zone), id, owner,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) DeleteSubscription(ctx context.Context, owner int64, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ? AND owner_id = ?`, id, owner)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, _ = s.db.ExecContext(pctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func parseStamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
