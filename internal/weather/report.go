package weather

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MsgUnavailable = "No se pudo obtener el clima en este momento."
	MsgIncomplete  = "No se pudo obtener toda la información."
)

// ReportData is everything the daily report shows. Current is nil and
// HasRange false when the upstream call failed.
type ReportData struct {
	Name      string
	Province  string
	LocalHour int
	Current   *Conditions
	Min, Max  float64
	HasRange  bool
}

func FormatReport(d ReportData) string {
	var b strings.Builder
	if d.LocalHour < 12 {
		fmt.Fprintf(&b, "¡Buenos días, %s!\n", d.Name)
	} else {
		fmt.Fprintf(&b, "¡Hola, %s!\n", d.Name)
	}
	fmt.Fprintf(&b, "Este es el clima que hará hoy en %s:\n", d.Province)

	if d.Current == nil || !d.HasRange {
		b.WriteString(MsgIncomplete)
		return b.String()
	}
	cur := d.Current
	fmt.Fprintf(&b, "Temperatura mínima: %s°C\n", formatTemp(d.Min))
	fmt.Fprintf(&b, "Temperatura actual: %s°C\n", formatTemp(cur.Temp))
	fmt.Fprintf(&b, "Temperatura máxima: %s°C\n", formatTemp(d.Max))
	fmt.Fprintf(&b, "Condición: %s\n", capitalize(cur.Description))
	fmt.Fprintf(&b, "Viento: %s m/s\n", formatTemp(cur.Wind))
	fmt.Fprintf(&b, "Nubes: %d%%\n", cur.Clouds)

	if d.Min < 10 {
		b.WriteString("Hoy hará algo de frío, ¡abrígate bien!\n")
	}
	if d.Max > 25 {
		b.WriteString("Hace bastante calor, ¡toca piscina!\n")
	}
	if cur.Wind > 8 {
		b.WriteString("Cuidado con el viento...\n")
	}
	if cur.Clouds > 80 {
		b.WriteString("Podría llover, no vendría mal un paraguas.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTemp(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func capitalize(s string) string {
	s = strings.TrimSpace(s)
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[n:])
}
