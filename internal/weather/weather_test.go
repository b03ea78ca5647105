package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"remindbot/internal/task/engine"
	"remindbot/internal/tzoffset"
	logx "remindbot/pkg/logx"
)

func TestCatalog(t *testing.T) {
	t.Parallel()
	if got := len(Regions()); got != 19 {
		t.Fatalf("len(Regions()) = %d, want 19", got)
	}
	if got := ProvinceCount(); got != 52 {
		t.Fatalf("ProvinceCount() = %d, want 52", got)
	}
	if first := Regions()[0].Name; first != "Andalucía" {
		t.Fatalf("first region = %q, want Andalucía", first)
	}

	tests := []struct {
		in, want string
		ok       bool
	}{
		{"Cádiz", "Cádiz", true},
		{"cadiz", "Cádiz", true},
		{"  CASTELLON ", "Castellón", true},
		{"santa cruz  de tenerife", "Santa Cruz de Tenerife", true},
		{"A Coruña", "La Coruña", true},
		{"Gipuzkoa", "Guipúzcoa", true},
		{"Lisboa", "", false},
	}
	for _, tt := range tests {
		p, ok := Lookup(tt.in)
		if ok != tt.ok || p.Name != tt.want {
			t.Fatalf("Lookup(%q) = %q,%v, want %q,%v", tt.in, p.Name, ok, tt.want, tt.ok)
		}
	}
}

const currentJSON = `{"main":{"temp":7.46},"weather":[{"description":"nubes dispersas"}],"wind":{"speed":9.2},"clouds":{"all":85}}`

// 2025-01-02 in UTC+1: entries at 23:00Z on the 1st and 00:00Z..21:00Z on the 2nd.
const forecastJSON = `{"list":[
 {"dt":1735772400,"main":{"temp":3.0}},
 {"dt":1735776000,"main":{"temp":4.5}},
 {"dt":1735812000,"main":{"temp":26.1}},
 {"dt":1735858800,"main":{"temp":-1.0}}
]}`

func newTestClient(t *testing.T, h http.HandlerFunc, now time.Time) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	clk := clock.NewFake()
	clk.Set(now)
	return NewClient(Config{APIKey: "k", BaseURL: srv.URL, RatePerSec: 100, Burst: 10}, clk, logx.Nop())
}

func TestReport(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "Cádiz,ES" || q.Get("units") != "metric" || q.Get("lang") != "es" || q.Get("appid") != "k" {
			t.Errorf("query = %v", q)
		}
		switch r.URL.Path {
		case "/weather":
			_, _ = w.Write([]byte(currentJSON))
		case "/forecast":
			_, _ = w.Write([]byte(forecastJSON))
		default:
			http.NotFound(w, r)
		}
	}, time.Date(2025, 1, 2, 7, 0, 0, 0, time.UTC))

	got, err := c.Report(context.Background(), "Cádiz", "ana", tzoffset.LocalTime{Hour: 8, Offset: 1})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	want := strings.Join([]string{
		"¡Buenos días, ana!",
		"Este es el clima que hará hoy en Cádiz:",
		"Temperatura mínima: 3.0°C",
		"Temperatura actual: 7.5°C",
		"Temperatura máxima: 26.1°C",
		"Condición: Nubes dispersas",
		"Viento: 9.2 m/s",
		"Nubes: 85%",
		"Hoy hará algo de frío, ¡abrígate bien!",
		"Hace bastante calor, ¡toca piscina!",
		"Cuidado con el viento...",
		"Podría llover, no vendría mal un paraguas.",
	}, "\n")
	if got != want {
		t.Fatalf("Report =\n%s\nwant\n%s", got, want)
	}
}

func TestReportDegradesOnPartialFailure(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/forecast" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(currentJSON))
	}, time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC))

	got, err := c.Report(context.Background(), "Madrid", "ana", tzoffset.LocalTime{Hour: 16, Offset: 1})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	want := "¡Hola, ana!\nEste es el clima que hará hoy en Madrid:\n" + MsgIncomplete
	if got != want {
		t.Fatalf("Report = %q, want %q", got, want)
	}
}

func TestReportRateLimited(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}, time.Date(2025, 1, 2, 7, 0, 0, 0, time.UTC))

	_, err := c.Report(context.Background(), "Madrid", "ana", tzoffset.LocalTime{Hour: 8})
	if d, ok := engine.RetryDelay(err); !ok || d != 30*time.Second {
		t.Fatalf("Report err = %v, want retry-after 30s", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestReportWithoutKey(t *testing.T) {
	t.Parallel()
	c := NewClient(Config{}, clock.NewFake(), logx.Nop())
	if _, err := c.Report(context.Background(), "Madrid", "ana", tzoffset.LocalTime{}); !engine.IsNoRetry(err) {
		t.Fatalf("Report err = %v, want no-retry", err)
	}
	if txt, err := c.CurrentText(context.Background(), "Madrid"); !errors.Is(err, ErrNoAPIKey) || txt != MsgUnavailable {
		t.Fatalf("CurrentText = %q, %v", txt, err)
	}
}

func TestCurrentText(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(currentJSON))
	}, time.Now())
	got, err := c.CurrentText(context.Background(), "Sevilla")
	if err != nil || got != "Clima en Sevilla: 7.5°C, nubes dispersas" {
		t.Fatalf("CurrentText = %q, %v", got, err)
	}
}

func TestDayRangeUsesLocalDate(t *testing.T) {
	t.Parallel()
	list := []ForecastEntry{
		{At: time.Date(2025, 1, 1, 22, 0, 0, 0, time.UTC), Temp: 1},
		{At: time.Date(2025, 1, 2, 2, 0, 0, 0, time.UTC), Temp: 5},
		{At: time.Date(2025, 1, 2, 4, 0, 0, 0, time.UTC), Temp: 9},
	}
	now := time.Date(2025, 1, 1, 23, 30, 0, 0, time.UTC)

	// UTC-3: the 04:00Z entry is already Jan 2nd locally.
	lo, hi, ok := DayRange(list, now, -3)
	if !ok || lo != 1 || hi != 5 {
		t.Fatalf("DayRange(UTC-3) = %v,%v,%v, want 1,5,true", lo, hi, ok)
	}
	// UTC+3: now is Jan 2nd 02:30 local; 22:00Z is Jan 2nd 01:00 local.
	lo, hi, ok = DayRange(list, now, 3)
	if !ok || lo != 1 || hi != 9 {
		t.Fatalf("DayRange(UTC+3) = %v,%v,%v, want 1,9,true", lo, hi, ok)
	}
	if _, _, ok := DayRange(nil, now, 0); ok {
		t.Fatal("DayRange(nil) reported a range")
	}
}
