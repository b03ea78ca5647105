package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmhodges/clock"
	"golang.org/x/time/rate"

	"remindbot/internal/task/engine"
	"remindbot/internal/tzoffset"
	logx "remindbot/pkg/logx"
)

const (
	DefaultBaseURL   = "https://api.openweathermap.org/data/2.5"
	defaultRetryWait = time.Minute
	maxBody          = 1 << 20
)

// ErrNoAPIKey is returned when the client was built without a key.
var ErrNoAPIKey = errors.New("weather: api key not configured")

type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

// StatusError is a non-200 answer from the API.
type StatusError struct {
	Code       int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("weather: api status %d", e.Code)
}

// Conditions is the current weather.
type Conditions struct {
	Temp        float64
	Description string
	Wind        float64
	Clouds      int
}

// ForecastEntry is one 3-hourly forecast point.
type ForecastEntry struct {
	At   time.Time
	Temp float64
}

type Client struct {
	http    *http.Client
	base    string
	key     string
	limiter *rate.Limiter
	clk     clock.Clock
	log     logx.Logger
}

func NewClient(cfg Config, clk clock.Clock, log logx.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 2
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		key:     cfg.APIKey,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		clk:     clk,
		log:     log.With(logx.String("comp", "weather")),
	}
}

// SetRate changes the outbound request rate.
func (c *Client) SetRate(perSec float64, burst int) {
	if perSec <= 0 || burst <= 0 {
		return
	}
	c.limiter.SetLimit(rate.Limit(perSec))
	c.limiter.SetBurst(burst)
}

type currentResponse struct {
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Clouds struct {
		All int `json:"all"`
	} `json:"clouds"`
}

type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp float64 `json:"temp"`
		} `json:"main"`
	} `json:"list"`
}

// Current fetches the current conditions for a province.
func (c *Client) Current(ctx context.Context, province string) (Conditions, error) {
	var body currentResponse
	if err := c.get(ctx, "weather", province, &body); err != nil {
		return Conditions{}, err
	}
	out := Conditions{
		Temp:   body.Main.Temp,
		Wind:   body.Wind.Speed,
		Clouds: body.Clouds.All,
	}
	if len(body.Weather) > 0 {
		out.Description = body.Weather[0].Description
	}
	return out, nil
}

// Forecast fetches the 5-day forecast for a province.
func (c *Client) Forecast(ctx context.Context, province string) ([]ForecastEntry, error) {
	var body forecastResponse
	if err := c.get(ctx, "forecast", province, &body); err != nil {
		return nil, err
	}
	out := make([]ForecastEntry, 0, len(body.List))
	for _, it := range body.List {
		out = append(out, ForecastEntry{At: time.Unix(it.Dt, 0).UTC(), Temp: it.Main.Temp})
	}
	return out, nil
}

// CurrentText is the one-line answer for an on-demand query.
func (c *Client) CurrentText(ctx context.Context, province string) (string, error) {
	cur, err := c.Current(ctx, province)
	if err != nil {
		return MsgUnavailable, err
	}
	return fmt.Sprintf("Clima en %s: %s°C, %s", province, formatTemp(cur.Temp), cur.Description), nil
}

// Report renders the daily report for a subscriber. Partial upstream
// failures degrade the text; a 429 is returned so the job is retried later.
func (c *Client) Report(ctx context.Context, province, name string, at tzoffset.LocalTime) (string, error) {
	now := c.clk.Now()
	cur, curErr := c.Current(ctx, province)
	list, fcErr := c.Forecast(ctx, province)

	for _, err := range []error{curErr, fcErr} {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusTooManyRequests {
			return "", engine.RetryAfter(err, se.RetryAfter)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if errors.Is(curErr, ErrNoAPIKey) {
		return "", engine.NoRetry(curErr)
	}

	d := ReportData{
		Name:      name,
		Province:  province,
		LocalHour: now.In(at.Offset.Location()).Hour(),
	}
	if curErr == nil {
		d.Current = &cur
	} else {
		c.log.Warn("current weather unavailable", logx.String("province", province), logx.Err(curErr))
	}
	if fcErr == nil {
		d.Min, d.Max, d.HasRange = DayRange(list, now, at.Offset)
	} else {
		c.log.Warn("forecast unavailable", logx.String("province", province), logx.Err(fcErr))
	}
	return FormatReport(d), nil
}

// DayRange returns min and max forecast temperatures on the local calendar
// day that contains now.
func DayRange(list []ForecastEntry, now time.Time, off tzoffset.Offset) (lo, hi float64, ok bool) {
	loc := off.Location()
	y, m, d := now.In(loc).Date()
	for _, it := range list {
		iy, im, id := it.At.In(loc).Date()
		if iy != y || im != m || id != d {
			continue
		}
		if !ok {
			lo, hi, ok = it.Temp, it.Temp, true
			continue
		}
		lo = min(lo, it.Temp)
		hi = max(hi, it.Temp)
	}
	return lo, hi, ok
}

func (c *Client) get(ctx context.Context, path, province string, out any) error {
	if c.key == "" {
		return ErrNoAPIKey
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	q := url.Values{}
	q.Set("q", province+",ES")
	q.Set("appid", c.key)
	q.Set("units", "metric")
	q.Set("lang", "es")
	endpoint := c.base + "/" + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("weather: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "remindbot/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("weather: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		se := &StatusError{Code: resp.StatusCode}
		if resp.StatusCode == http.StatusTooManyRequests {
			se.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return se
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		return fmt.Errorf("weather: decode %s: %w", path, err)
	}
	return nil
}

func parseRetryAfter(v string) time.Duration {
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return defaultRetryWait
}
