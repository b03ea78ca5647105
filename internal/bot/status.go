package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/transport/telegram/router"
)

// cmdStatus renders plain text so Telegram never rejects it for markup.
func (b *Bot) cmdStatus(ctx context.Context, req *router.Request) error {
	if b.status == nil {
		return req.Reply(ctx, "Estado no disponible.", nil)
	}
	return req.Reply(ctx, formatStatus(b.status()), nil)
}

func formatStatus(st Status) string {
	state := "En marcha"
	if !st.Engine.Enabled || !st.Notifier.Running {
		state = "Degradado"
	}
	lines := []string{
		"Estado: " + state,
		"Activo desde hace: " + st.Uptime.Truncate(time.Second).String(),
		"Almacenamiento: " + st.Storage,
		fmt.Sprintf("Disparadores vivos: %d", st.Triggers),
		fmt.Sprintf("Motor: %d trabajadores, cola %d/%d, en curso %d, descartadas %d",
			st.Engine.Workers, st.Engine.QueueLen, st.Engine.QueueCap, st.Engine.InFlight, st.Engine.Dropped),
		fmt.Sprintf("Notificador: cola %d/%d, dedup %d, enviados recientes %d",
			st.Notifier.QueueLen, st.Notifier.QueueCap, st.Notifier.Dedup, st.Notifier.History),
	}
	if n := len(st.Engine.History); n > 0 {
		last := st.Engine.History[n-1]
		lines = append(lines, "Última tarea: "+describeTask(last.Name, last.Error))
	}
	return strings.Join(lines, "\n")
}

func describeTask(name, errText string) string {
	if errText == "" {
		return name + " (ok)"
	}
	return name + " (error: " + errText + ")"
}
