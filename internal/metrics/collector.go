// Package metrics turns lifecycle events into Prometheus series and serves
// the operational HTTP endpoints.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
)

type Collector struct {
	armed         *prometheus.CounterVec
	fired         *prometheus.CounterVec
	cancelled     prometheus.Counter
	reprogram     *prometheus.CounterVec
	tasks         *prometheus.CounterVec
	taskDuration  prometheus.Histogram
	notifications *prometheus.CounterVec
}

// NewCollector registers the remindbot series on reg. live reports the
// number of armed triggers; nil leaves the gauge out.
func NewCollector(reg prometheus.Registerer, live func() int) *Collector {
	c := &Collector{
		armed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remindbot_triggers_armed_total",
			Help: "Triggers armed, by role.",
		}, []string{"role"}),
		fired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remindbot_triggers_fired_total",
			Help: "Triggers fired, by role.",
		}, []string{"role"}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remindbot_triggers_cancelled_total",
			Help: "Triggers cancelled before or between fires.",
		}),
		reprogram: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remindbot_reprogram_documents_total",
			Help: "Documents visited by startup reprogramming.",
		}, []string{"kind", "result"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remindbot_tasks_total",
			Help: "Trigger jobs by outcome.",
		}, []string{"result"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "remindbot_task_duration_seconds",
			Help:    "Trigger job run time.",
			Buckets: prometheus.DefBuckets,
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remindbot_notifications_total",
			Help: "Notifications by outcome.",
		}, []string{"result"}),
	}
	reg.MustRegister(c.armed, c.fired, c.cancelled, c.reprogram, c.tasks, c.taskDuration, c.notifications)
	if live != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "remindbot_triggers_live",
			Help: "Triggers currently armed.",
		}, func() float64 { return float64(live()) }))
	}
	return c
}

// Run consumes bus events until ctx ends.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(512)
	defer unsub()
	return c.Consume(ctx, ch)
}

// Consume records events from an existing subscription until ctx ends or ch
// is closed.
func (c *Collector) Consume(ctx context.Context, ch <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(e)
		}
	}
}

// Observe records one event. Unknown types are ignored.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TriggerArmed:
		if ev, ok := e.Data.(scheduler.TriggerEvent); ok {
			c.armed.WithLabelValues(string(ev.Role)).Inc()
		}
	case eventbus.TriggerFired:
		if ev, ok := e.Data.(scheduler.TriggerEvent); ok {
			c.fired.WithLabelValues(string(ev.Role)).Inc()
		}
	case eventbus.TriggerCancelled:
		c.cancelled.Inc()

	case eventbus.ReprogramDocument:
		if ev, ok := e.Data.(reminder.ReprogramEvent); ok {
			c.reprogram.WithLabelValues(ev.Kind, ev.Result).Inc()
		}

	case eventbus.TaskFinished, eventbus.TaskFailed:
		c.tasks.WithLabelValues(taskResult(e.Type)).Inc()
		if ev, ok := e.Data.(engine.TaskEvent); ok && ev.Duration > 0 {
			c.taskDuration.Observe(ev.Duration.Seconds())
		}
	case eventbus.TaskSkipped, eventbus.TaskDropped:
		c.tasks.WithLabelValues(taskResult(e.Type)).Inc()

	case eventbus.NotifierQueued, eventbus.NotifierSent, eventbus.NotifierFailed,
		eventbus.NotifierDeduped, eventbus.NotifierDropped:
		if _, ok := e.Data.(notifier.NotificationEvent); ok {
			c.notifications.WithLabelValues(notificationResult(e.Type)).Inc()
		}
	}
}

func taskResult(typ string) string {
	switch typ {
	case eventbus.TaskFinished:
		return "ok"
	case eventbus.TaskFailed:
		return "failed"
	case eventbus.TaskSkipped:
		return "skipped"
	default:
		return "dropped"
	}
}

func notificationResult(typ string) string {
	switch typ {
	case eventbus.NotifierQueued:
		return "queued"
	case eventbus.NotifierSent:
		return "sent"
	case eventbus.NotifierFailed:
		return "failed"
	case eventbus.NotifierDeduped:
		return "deduped"
	default:
		return "dropped"
	}
}
