package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	logx "remindbot/pkg/logx"
)

// fileStore is memStore plus a JSON snapshot rewritten after every change.
// Writes go to a temp file and are renamed into place.
type fileStore struct {
	*memStore
	path string
	log  logx.Logger
}

type fileSnapshot struct {
	Seq           uint64                                `json:"seq"`
	Users         map[int64]UserRecord                  `json:"users"`
	Reminders     map[string]memRow[ReminderRecord]     `json:"reminders"`
	Subscriptions map[string]memRow[SubscriptionRecord] `json:"subscriptions"`
	Dedup         map[string]int64                      `json:"dedup"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	fs := &fileStore{memStore: newMemStore(), path: path, log: log}
	if err := fs.load(); err != nil {
		return nil, err
	}
	fs.onChange = fs.save
	log.Info("file store opened",
		logx.String("path", path),
		logx.Int("reminders", len(fs.rems)),
		logx.Int("subscriptions", len(fs.subs)),
	)
	return fs, nil
}

func (s *fileStore) load() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var snap fileSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	s.seq = snap.Seq
	for k, v := range snap.Users {
		s.users[k] = v
	}
	for k, v := range snap.Reminders {
		s.rems[k] = v
	}
	for k, v := range snap.Subscriptions {
		s.subs[k] = v
	}
	for k, v := range snap.Dedup {
		s.dedup[k] = v
	}
	return nil
}

// save runs with memStore.mu held.
func (s *fileStore) save() error {
	b, err := json.Marshal(fileSnapshot{
		Seq:           s.seq,
		Users:         s.users,
		Reminders:     s.rems,
		Subscriptions: s.subs,
		Dedup:         s.dedup,
	})
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Warn("snapshot rename failed", logx.String("path", s.path), logx.Err(err))
		return err
	}
	return nil
}
