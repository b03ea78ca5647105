package router

import (
	"html"
	"strings"
)

// helpText renders /help in Telegram HTML. With no args it lists commands by
// section; with a command name it shows usage and an example. Owner-only
// commands do not exist for other users.
func (m *CommandManager) helpText(args []string, owner bool) string {
	reg, _ := m.snapshot()
	if len(args) == 0 {
		return m.helpIndex(reg, owner)
	}
	c, ok := reg.lookup(args[0])
	if !ok || (c.Access == AccessOwnerOnly && !owner) {
		return "❓ <b>Comando desconocido</b>\nEscribe <code>/help</code> para ver la lista de comandos."
	}
	return helpCommand(c)
}

func (m *CommandManager) helpIndex(reg *registry, owner bool) string {
	var sb strings.Builder
	sb.WriteString("📚 <b>" + html.EscapeString(m.helpTitle) + "</b>\n")

	names, by := reg.sections(owner)
	for _, sec := range names {
		sb.WriteString("\n<b>" + html.EscapeString(sec) + "</b>\n")
		for _, c := range by[sec] {
			sb.WriteString("• <code>/" + c.Route + "</code>")
			if c.Access == AccessOwnerOnly {
				sb.WriteString(" 🔒")
			}
			if d := strings.TrimSpace(c.Description); d != "" {
				sb.WriteString(": " + html.EscapeString(d))
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nEscribe <code>/help &lt;comando&gt;</code> para ver cómo usarlo.\n")
	sb.WriteString("Las zonas horarias se escriben como <code>UTC+1</code> o <code>UTC-3</code>; consulta /zonas.")
	return sb.String()
}

func helpCommand(c *Command) string {
	lines := []string{"📚 <b>/" + c.Route + "</b>"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines[0] += ": " + html.EscapeString(d)
	}
	if c.Access == AccessOwnerOnly {
		lines = append(lines, "🔒 <i>Solo administradores</i>")
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>Uso</b>", "<code>"+html.EscapeString(u)+"</code>")
	}
	if e := strings.TrimSpace(c.Example); e != "" {
		lines = append(lines, "", "<b>Ejemplo</b>", "<code>"+html.EscapeString(e)+"</code>")
	}
	if len(c.Aliases) > 0 {
		lines = append(lines, "", "<b>Atajos</b>: /"+strings.Join(c.Aliases, ", /"))
	}
	return strings.Join(lines, "\n")
}
