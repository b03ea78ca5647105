package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
	"remindbot/internal/tzoffset"
)

// zone is one entry of the /zonas keyboard.
type zone struct {
	Offset  tzoffset.Offset
	Country string
	Flag    string
}

var zones = []zone{
	{-7, "México", "🇲🇽"},
	{-6, "El Salvador", "🇸🇻"},
	{-5, "Colombia", "🇨🇴"},
	{-4, "Bermudas", "🇧🇲"},
	{-3, "Argentina", "🇦🇷"},
	{-2, "Groenlandia", "🇬🇱"},
	{-1, "Cabo Verde", "🇨🇻"},
	{0, "Irlanda", "🇮🇪"},
	{1, "España", "🇪🇸"},
	{2, "Egipto", "🇪🇬"},
	{3, "Arabia Saudí", "🇸🇦"},
	{4, "Abu Dabi", "🇦🇪"},
	{5, "Kazajistán", "🇰🇿"},
	{6, "Uzbekistán", "🇺🇿"},
	{7, "Indonesia", "🇮🇩"},
	{8, "Hong Kong", "🇭🇰"},
	{9, "Corea del Sur", "🇰🇷"},
	{10, "Papúa Nueva Guinea", "🇵🇬"},
	{11, "Australia", "🇦🇺"},
}

const zonesPerRow = 3

func zoneKeyboard() kit.Keyboard {
	kb := make(kit.Keyboard, 0, (len(zones)+zonesPerRow-1)/zonesPerRow)
	var row []kit.Button
	for _, z := range zones {
		row = append(row, kit.Button{
			Text: fmt.Sprintf("%s (%s)", z.Flag, z.Offset),
			Data: "zone:show:" + z.Offset.String(),
		})
		if len(row) == zonesPerRow {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	return kb
}

func (b *Bot) cmdZones(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, "Selecciona tu zona horaria:", zoneKeyboard())
}

func (b *Bot) cbShowZone(ctx context.Context, req *router.Request, payload string) error {
	raw := strings.TrimSpace(payload)
	if !tzoffset.ValidOffset(raw) {
		return req.Reply(ctx, msgBadZone, nil)
	}
	return req.Reply(ctx, zoneText(tzoffset.ParseOffset(raw), b.clk.Now()), nil)
}

func zoneText(off tzoffset.Offset, now time.Time) string {
	local := now.In(off.Location()).Format("15:04")
	for _, z := range zones {
		if z.Offset == off {
			return fmt.Sprintf("%s %s (%s): son las %s.\nUsa %s en --zona y en /suscribir.", z.Flag, z.Country, off, local, off)
		}
	}
	return fmt.Sprintf("%s: son las %s.\nUsa %s en --zona y en /suscribir.", off, local, off)
}
