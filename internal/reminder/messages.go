package reminder

import (
	"fmt"

	"remindbot/internal/task/scheduler"
)

const MsgNotRegistered = "Primero debes registrarte con /register."

// TriggerText renders the message sent when a reminder trigger fires.
func TriggerText(r Reminder, role scheduler.Role) string {
	switch role {
	case scheduler.RoleStart:
		return fmt.Sprintf("¡Empieza tu recordatorio!\n\nTítulo: %s\n%s", r.Title, r.Description)
	case scheduler.RoleRepeat:
		return fmt.Sprintf("¡Recuerda cumplir con tu recordatorio!\n\nTítulo: %s\n%s", r.Title, r.Description)
	case scheduler.RoleEnd:
		return fmt.Sprintf("¡Finaliza el recordatorio!\nTítulo: %s", r.Title)
	default:
		return r.Title
	}
}

// ListLine renders one entry of /recordatorios.
func ListLine(i int, r Reminder) string {
	return fmt.Sprintf("%d) %s - %s (Inicio: %s)", i, r.Title, r.Description, r.StartLocal())
}

// SubscriptionLine renders one entry of /suscripciones.
func SubscriptionLine(i int, s Subscription) string {
	return fmt.Sprintf("%d) %s a las %02d:%02d (%s)", i, s.Province, s.At.Hour, s.At.Minute, s.At.Offset)
}
