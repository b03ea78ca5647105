package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "remindbot/pkg/logx"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

type pgStore struct {
	db  *pgxpool.Pool
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	if err := runPostgresMigrations(dsn); err != nil {
		return nil, err
	}

	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	log.Info("postgres store opened", logx.Int("max_conns", int(pool.Config().MaxConns)))
	return &pgStore{db: pool, log: log}, nil
}

// runPostgresMigrations applies the embedded schema. Up to date is not an error.
func runPostgresMigrations(dsn string) error {
	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func (s *pgStore) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *pgStore) Close() error {
	s.db.Close()
	return nil
}

func (s *pgStore) UpsertUser(ctx context.Context, u UserRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, chat_id, username, nickname, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET chat_id = EXCLUDED.chat_id, username = EXCLUDED.username, nickname = EXCLUDED.nickname`,
		u.ID, u.ChatID, nullStr(u.Username), u.Nickname, stamp(u.CreatedAt),
	)
	return err
}

func (s *pgStore) GetUser(ctx context.Context, id int64) (UserRecord, error) {
	var (
		u        UserRecord
		username *string
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, chat_id, username, nickname, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.ChatID, &username, &u.Nickname, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserRecord{}, ErrNotFound
	}
	if err != nil {
		return UserRecord{}, err
	}
	u.Username = deref(username)
	return u, nil
}

func (s *pgStore) CreateReminder(ctx context.Context, r ReminderRecord) (string, error) {
	if strings.TrimSpace(r.ID) == "" {
		r.ID = newID()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO reminders (`+reminderCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.OwnerID, r.ChatID, r.Title, nullStr(r.Description),
		nullStr(r.Start), nullStr(r.StartZone), nullStr(r.End), nullStr(r.EndZone),
		nullStr(r.Recurrence), r.RecurrenceN, stamp(r.CreatedAt),
	)
	if err != nil {
		return "", pgErr(err)
	}
	return r.ID, nil
}

func (s *pgStore) GetReminder(ctx context.Context, id string) (ReminderRecord, error) {
	rows, err := s.queryReminders(ctx, `WHERE id = $1`, id)
	if err != nil {
		return ReminderRecord{}, err
	}
	if len(rows) == 0 {
		return ReminderRecord{}, ErrNotFound
	}
	return rows[0], nil
}

func (s *pgStore) ListReminders(ctx context.Context) ([]ReminderRecord, error) {
	return s.queryReminders(ctx, ``)
}

func (s *pgStore) ListRemindersByOwner(ctx context.Context, owner int64) ([]ReminderRecord, error) {
	return s.queryReminders(ctx, `WHERE owner_id = $1`, owner)
}

func (s *pgStore) queryReminders(ctx context.Context, where string, args ...any) ([]ReminderRecord, error) {
	rows, err := s.db.Query(ctx, `SELECT `+reminderCols+` FROM reminders `+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ReminderRecord, 0, 8)
	for rows.Next() {
		var (
			r                             ReminderRecord
			desc, start, sz, end, ez, rec *string
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.ChatID, &r.Title, &desc, &start, &sz, &end, &ez, &rec, &r.RecurrenceN, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Description, r.Start, r.StartZone = deref(desc), deref(start), deref(sz)
		r.End, r.EndZone, r.Recurrence = deref(end), deref(ez), deref(rec)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgStore) DeleteReminder(ctx context.Context, owner int64, id string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM reminders WHERE id = $1 AND owner_id = $2`, id, owner)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *pgStore) CreateSubscription(ctx context.Context, sub SubscriptionRecord) (string, error) {
	if strings.TrimSpace(sub.ID) == "" {
		sub.ID = newID()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO subscriptions (`+subscriptionCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sub.ID, sub.OwnerID, sub.ChatID, nullStr(sub.DisplayName), sub.Province,
		sub.Hour, sub.Minute, nullStr(sub.Zone), stamp(sub.CreatedAt),
	)
	if err != nil {
		return "", pgErr(err)
	}
	return sub.ID, nil
}

func (s *pgStore) GetSubscription(ctx context.Context, id string) (SubscriptionRecord, error) {
	rows, err := s.querySubscriptions(ctx, `WHERE id = $1`, id)
	if err != nil {
		return SubscriptionRecord{}, err
	}
	if len(rows) == 0 {
		return SubscriptionRecord{}, ErrNotFound
	}
	return rows[0], nil
}

func (s *pgStore) ListSubscriptions(ctx context.Context) ([]SubscriptionRecord, error) {
	return s.querySubscriptions(ctx, ``)
}

func (s *pgStore) ListSubscriptionsByOwner(ctx context.Context, owner int64) ([]SubscriptionRecord, error) {
	return s.querySubscriptions(ctx, `WHERE owner_id = $1`, owner)
}

func (s *pgStore) querySubscriptions(ctx context.Context, where string, args ...any) ([]SubscriptionRecord, error) {
	rows, err := s.db.Query(ctx, `SELECT `+subscriptionCols+` FROM subscriptions `+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SubscriptionRecord, 0, 8)
	for rows.Next() {
		var (
			r          SubscriptionRecord
			name, zone *string
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.ChatID, &name, &r.Province, &r.Hour, &r.Minute, &zone, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.DisplayName, r.Zone = deref(name), deref(zone)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgStore) UpdateSubscriptionTime(ctx context.Context, owner int64, id string, hour, minute int, zone string) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE subscriptions SET hour = $1, minute = $2, zone = $3 WHERE id = $4 AND owner_id = $5`,
		hour, minute, nullStr(zone), id, owner,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *pgStore) DeleteSubscription(ctx context.Context, owner int64, id string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1 AND owner_id = $2`, id, owner)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *pgStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO dedup (key, until) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET until = EXCLUDED.until`,
		key, until.UTC(),
	)
	return err
}

func (s *pgStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var until time.Time
	err := s.db.QueryRow(ctx, `SELECT until FROM dedup WHERE key = $1`, key).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return until, true, nil
}

func pgErr(err error) error {
	var pe *pgconn.PgError
	if errors.As(err, &pe) && pe.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pe.ConstraintName)
	}
	return err
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
