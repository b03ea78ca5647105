package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

func TestCollectorObserve(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, func() int { return 3 })

	events := []eventbus.Event{
		{Type: eventbus.TriggerArmed, Data: scheduler.TriggerEvent{Role: scheduler.RoleStart}},
		{Type: eventbus.TriggerArmed, Data: scheduler.TriggerEvent{Role: scheduler.RoleRepeat}},
		{Type: eventbus.TriggerFired, Data: scheduler.TriggerEvent{Role: scheduler.RoleStart}},
		{Type: eventbus.TriggerCancelled, Data: scheduler.TriggerEvent{Role: scheduler.RoleRepeat}},
		{Type: eventbus.ReprogramDocument, Data: reminder.ReprogramEvent{Kind: reminder.DocReminder, Result: reminder.ResultInvalid}},
		{Type: eventbus.TaskFinished, Data: engine.TaskEvent{Duration: 20 * time.Millisecond}},
		{Type: eventbus.TaskFailed, Data: engine.TaskEvent{}},
		{Type: eventbus.TaskDropped, Data: engine.TaskEvent{}},
		{Type: eventbus.NotifierSent, Data: notifier.NotificationEvent{}},
		{Type: eventbus.NotifierSent, Data: notifier.NotificationEvent{}},
		{Type: "unknown.event"},
	}
	for _, e := range events {
		c.Observe(e)
	}

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"armed start", testutil.ToFloat64(c.armed.WithLabelValues("start")), 1},
		{"armed repeat", testutil.ToFloat64(c.armed.WithLabelValues("repeat")), 1},
		{"fired start", testutil.ToFloat64(c.fired.WithLabelValues("start")), 1},
		{"cancelled", testutil.ToFloat64(c.cancelled), 1},
		{"reprogram invalid", testutil.ToFloat64(c.reprogram.WithLabelValues("reminder", "invalid")), 1},
		{"tasks ok", testutil.ToFloat64(c.tasks.WithLabelValues("ok")), 1},
		{"tasks failed", testutil.ToFloat64(c.tasks.WithLabelValues("failed")), 1},
		{"tasks dropped", testutil.ToFloat64(c.tasks.WithLabelValues("dropped")), 1},
		{"notifications sent", testutil.ToFloat64(c.notifications.WithLabelValues("sent")), 2},
	}
	for _, ck := range checks {
		if ck.got != ck.want {
			t.Fatalf("%s = %v, want %v", ck.name, ck.got, ck.want)
		}
	}
}

func TestCollectorRunConsumesBus(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, nil)
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx, bus)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for testutil.ToFloat64(c.cancelled) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("collector never observed the event")
		}
		// Publish until the subscription is in place.
		bus.Publish(eventbus.Event{Type: eventbus.TriggerCancelled})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}

func newOps(t *testing.T, cfg ServerConfig, health error) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, func() int { return 2 })
	c.Observe(eventbus.Event{Type: eventbus.TriggerArmed, Data: scheduler.TriggerEvent{Role: scheduler.RoleDaily}})
	s := NewServer(cfg, Sources{
		Gatherer: reg,
		Health:   func(context.Context) error { return health },
		Triggers: func() any {
			return []scheduler.Trigger{{Tag: "abc:daily", ID: "abc", Role: scheduler.RoleDaily}}
		},
	}, logx.Nop())
	return s.Routes(cfg)
}

func get(t *testing.T, h http.Handler, target string, header map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	body, _ := io.ReadAll(w.Result().Body)
	return w.Code, string(body)
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	h := newOps(t, ServerConfig{}, nil)

	code, body := get(t, h, "/metrics", nil)
	if code != http.StatusOK || !strings.Contains(body, `remindbot_triggers_armed_total{role="daily"} 1`) || !strings.Contains(body, "remindbot_triggers_live 2") {
		t.Fatalf("/metrics = %d\n%s", code, body)
	}
	if code, body := get(t, h, "/healthz", nil); code != http.StatusOK || body != "ok" {
		t.Fatalf("/healthz = %d %q", code, body)
	}
	if code, body := get(t, h, "/triggers", nil); code != http.StatusOK || !strings.Contains(body, `"abc:daily"`) {
		t.Fatalf("/triggers = %d %q", code, body)
	}
	if code, _ := get(t, h, "/debug/pprof/", nil); code != http.StatusNotFound {
		t.Fatalf("/debug/pprof/ without pprof = %d, want 404", code)
	}
}

func TestRoutesUnhealthy(t *testing.T) {
	t.Parallel()
	h := newOps(t, ServerConfig{}, errors.New("db down"))
	if code, body := get(t, h, "/healthz", nil); code != http.StatusServiceUnavailable || !strings.Contains(body, "db down") {
		t.Fatalf("/healthz = %d %q", code, body)
	}
}

func TestRoutesToken(t *testing.T) {
	t.Parallel()
	h := newOps(t, ServerConfig{Token: "s3cret"}, nil)
	if code, _ := get(t, h, "/healthz", nil); code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", code)
	}
	if code, _ := get(t, h, "/healthz?token=nope", nil); code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d, want 401", code)
	}
	if code, _ := get(t, h, "/healthz?token=s3cret", nil); code != http.StatusOK {
		t.Fatalf("query token = %d, want 200", code)
	}
	if code, _ := get(t, h, "/healthz", map[string]string{"Authorization": "Bearer s3cret"}); code != http.StatusOK {
		t.Fatalf("bearer token = %d, want 200", code)
	}
}

func TestServerStartStop(t *testing.T) {
	t.Parallel()
	s := NewServer(ServerConfig{Enabled: true, Addr: "127.0.0.1:0"}, Sources{Gatherer: prometheus.NewRegistry()}, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never bound")
		}
		time.Sleep(10 * time.Millisecond)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	if s.Addr() != "" {
		t.Fatalf("Addr after Stop = %q", s.Addr())
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:9090": true,
		"[::1]:9090":     true,
		":9090":          false,
		"0.0.0.0:9090":   false,
		"bad":            false,
	}
	for in, want := range tests {
		if got := isLoopbackAddr(in); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", in, got, want)
		}
	}
}
