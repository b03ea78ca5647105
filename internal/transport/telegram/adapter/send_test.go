package adapter

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "remindbot/internal/transport"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("hola", 10); len(got) != 1 || got[0] != "hola" {
		t.Fatalf("short text = %q", got)
	}

	lines := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		lines = append(lines, fmt.Sprintf("%02d) recordatorio", i))
	}
	text := strings.Join(lines, "\n")
	chunks := splitText(text, 100)
	if len(chunks) < 2 {
		t.Fatalf("len(chunks) = %d, want > 1", len(chunks))
	}
	for _, c := range chunks {
		if n := len([]rune(c)); n > 100 {
			t.Fatalf("chunk of %d runes exceeds limit", n)
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %q has edge newlines", c)
		}
	}
	if strings.Join(chunks, "\n") != text {
		t.Fatal("chunks do not reassemble the text")
	}
}

func TestSplitKeepsHTMLLinesWhole(t *testing.T) {
	t.Parallel()
	text := "📚 <b>Recordatorios</b>\n• <code>/recordar</code>: crea un recordatorio\n\n• <code>/borrar</code>: borra uno"
	chunks := splitText(text, 50)
	want := []string{"📚 <b>Recordatorios</b>", "• <code>/recordar</code>: crea un recordatorio", "• <code>/borrar</code>: borra uno"}
	if len(chunks) != len(want) {
		t.Fatalf("chunks = %q, want %q", chunks, want)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Fatalf("chunks[%d] = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestSplitKeepsRunes(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("ñ", 25)
	chunks := splitText(text, 10)
	if len(chunks) != 3 || chunks[2] != strings.Repeat("ñ", 5) {
		t.Fatalf("chunks = %q", chunks)
	}
}

func TestInlineMarkup(t *testing.T) {
	t.Parallel()
	rm := inlineMarkup(kit.Keyboard{
		{{Text: "Borrar 1", Data: "rem:del:a"}},
		{{Text: "UTC-1", Data: "zone:show:UTC-1"}, {Text: "UTC+0", Data: "zone:show:UTC+0"}},
	})
	if len(rm.InlineKeyboard) != 2 || len(rm.InlineKeyboard[1]) != 2 {
		t.Fatalf("keyboard = %+v", rm.InlineKeyboard)
	}
	if got := rm.InlineKeyboard[0][0].Data; got != "rem:del:a" {
		t.Fatalf("data = %q, want rem:del:a", got)
	}
	if len(inlineMarkup(nil).InlineKeyboard) != 0 {
		t.Fatal("empty keyboard should have no rows")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	if err := classify(tele.ErrBlockedByUser); !errors.Is(err, kit.ErrPermanent) || !errors.Is(err, tele.ErrBlockedByUser) {
		t.Fatalf("classify(blocked) = %v", err)
	}
	transient := errors.New("connection reset")
	if err := classify(transient); errors.Is(err, kit.ErrPermanent) {
		t.Fatalf("classify(transient) = %v", err)
	}
	flood := tele.FloodError{RetryAfter: 3}
	err := classify(flood)
	if d, ok := kit.RetryAfter(err); !ok || d != 3*time.Second {
		t.Fatalf("RetryAfter(classify(flood)) = %v, %v; want 3s", d, ok)
	}
	if errors.Is(err, kit.ErrPermanent) {
		t.Fatal("flood wait classified as permanent")
	}
	if classify(nil) != nil {
		t.Fatal("classify(nil) != nil")
	}
}
