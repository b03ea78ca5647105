package router

import (
	"regexp"
	"strings"

	kit "remindbot/internal/transport"
)

var commandName = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

// registry is the flat command table. order keeps registration order, which
// is the order of help sections and of the Telegram menu.
type registry struct {
	order  []*Command
	byName map[string]*Command // routes and aliases
}

func newRegistry(cmds []Command) (*registry, []string) {
	reg := &registry{byName: map[string]*Command{}}
	var skipped []string
	for i := range cmds {
		c := cmds[i]
		c.Route = strings.ToLower(strings.TrimSpace(c.Route))
		if !commandName.MatchString(c.Route) || c.Handle == nil || reg.byName[c.Route] != nil {
			skipped = append(skipped, c.Route)
			continue
		}
		if c.Section == "" {
			c.Section = SectionGeneral
		}
		aliases := c.Aliases[:0:0]
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if !commandName.MatchString(a) || reg.byName[a] != nil {
				skipped = append(skipped, c.Route+" alias "+a)
				continue
			}
			aliases = append(aliases, a)
		}
		c.Aliases = aliases

		cp := &c
		reg.order = append(reg.order, cp)
		reg.byName[c.Route] = cp
		for _, a := range aliases {
			reg.byName[a] = cp
		}
	}
	return reg, skipped
}

// lookup resolves "/word" or "/word@botname" to a command.
func (r *registry) lookup(word string) (*Command, bool) {
	word = strings.ToLower(strings.TrimPrefix(word, "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	c, ok := r.byName[word]
	return c, ok
}

// sections groups visible commands by section in first-seen order.
func (r *registry) sections(owner bool) ([]string, map[string][]*Command) {
	var names []string
	by := map[string][]*Command{}
	for _, c := range r.order {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		if _, ok := by[c.Section]; !ok {
			names = append(names, c.Section)
		}
		by[c.Section] = append(by[c.Section], c)
	}
	return names, by
}

// menu lists the commands every user may run. Telegram shows one menu to all
// chats, so owner-only commands stay out of it.
func (r *registry) menu() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(r.order))
	for _, c := range r.order {
		if c.Access == AccessOwnerOnly {
			continue
		}
		desc := strings.Join(strings.Fields(c.Description), " ")
		if desc == "" {
			desc = c.Route
		}
		if rs := []rune(desc); len(rs) > 256 {
			desc = string(rs[:256])
		}
		out = append(out, kit.BotCommand{Command: c.Route, Description: desc})
		if len(out) == 100 {
			break
		}
	}
	return out
}
