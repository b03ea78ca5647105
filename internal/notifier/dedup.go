package notifier

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// dedupKey identifies a delivery: the same trigger sending the same text to
// the same chat. A restart re-arming a trigger that already fired produces
// the same key, which is what the window is for.
func dedupKey(n kit.Notification) string {
	if n.Target.ChatID == 0 {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(strconv.FormatInt(n.Target.ChatID, 10)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(n.Source))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(n.Text))
	return strconv.FormatUint(h.Sum64(), 16)
}

// suppressor remembers recent deliveries until their window passes. With a
// store it also consults and records the persisted suppress-until instant.
type suppressor struct {
	clk clock.Clock
	log logx.Logger

	mu    sync.Mutex
	until map[string]time.Time

	store  storage.DedupStore
	writes chan dedupWrite
}

type dedupWrite struct {
	key   string
	until time.Time
}

func newSuppressor(clk clock.Clock, log logx.Logger) *suppressor {
	return &suppressor{clk: clk, log: log, until: map[string]time.Time{}}
}

// allow reports whether key may be sent now and, if so, opens its window.
func (d *suppressor) allow(ctx context.Context, key string, window time.Duration, maxEntries int) bool {
	now := d.clk.Now()

	d.mu.Lock()
	if u, ok := d.until[key]; ok && now.Before(u) {
		d.mu.Unlock()
		return false
	}
	st, writes := d.store, d.writes
	d.mu.Unlock()

	if st != nil {
		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		u, ok, err := st.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(u) {
			d.mu.Lock()
			d.until[key] = u
			d.mu.Unlock()
			return false
		}
	}

	u := now.Add(window)
	d.mu.Lock()
	d.until[key] = u
	d.pruneLocked(now, maxEntries)
	d.mu.Unlock()

	if writes != nil {
		select {
		case writes <- dedupWrite{key: key, until: u}:
		default:
		}
	}
	return true
}

// pruneLocked drops expired entries, then the soonest to expire until the map
// fits maxEntries.
func (d *suppressor) pruneLocked(now time.Time, maxEntries int) {
	for k, u := range d.until {
		if !now.Before(u) {
			delete(d.until, k)
		}
	}
	for maxEntries > 0 && len(d.until) > maxEntries {
		var (
			oldest string
			at     time.Time
		)
		for k, u := range d.until {
			if oldest == "" || u.Before(at) {
				oldest, at = k, u
			}
		}
		delete(d.until, oldest)
	}
}

func (d *suppressor) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.until)
}

// persist enables the store and returns the channel persistLoop drains.
func (d *suppressor) persist(st storage.DedupStore) chan dedupWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store, d.writes = st, make(chan dedupWrite, 1024)
	return d.writes
}

// detach disables the store and hands back the write channel for closing.
func (d *suppressor) detach() chan dedupWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := d.writes
	d.store, d.writes = nil, nil
	return w
}

func (d *suppressor) persistLoop(ctx context.Context, ch <-chan dedupWrite, st storage.DedupStore) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := st.PutDedup(cctx, w.key, w.until); err != nil {
				d.log.Debug("dedup persist failed", logx.Err(err))
			}
			cancel()
		}
	}
}
