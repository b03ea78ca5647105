package router

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"unicode"
)

// tokenizeCommandLine splits on whitespace, honoring "double" quotes and
// backslash escapes inside them. Telegram clients often
// turn quotes into typographic ones; those count too.
func tokenizeCommandLine(s string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote rune
		has   bool
		esc   bool
	)
	flush := func() {
		if has {
			out = append(out, cur.String())
		}
		cur.Reset()
		has = false
	}
	for _, r := range s {
		switch {
		case esc:
			cur.WriteRune(r)
			esc = false
		case quote != 0:
			switch {
			case r == '\\' && quote == '"':
				esc = true
			case closesQuote(quote, r):
				quote = 0
			default:
				cur.WriteRune(r)
			}
		case r == '"' || r == '“' || r == '«':
			quote = r
			has = true
		case unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(r)
			has = true
		}
	}
	flush()
	return out
}

func closesQuote(open, r rune) bool {
	switch open {
	case '“':
		return r == '”' || r == '“'
	case '«':
		return r == '»'
	default:
		return r == open
	}
}

// parseFlags separates positional args from --key value, --key=value and
// bare --switch flags. A lone "--" ends flag parsing. Telegram turns "--"
// into an em dash on some clients, so "—key" is accepted as well.
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			pos = append(pos, args[i+1:]...)
			break
		}
		name, ok := flagName(a)
		if !ok {
			pos = append(pos, a)
			continue
		}
		if k, v, found := strings.Cut(name, "="); found {
			flags[strings.ToLower(k)] = v
			continue
		}
		name = strings.ToLower(name)
		if i+1 < len(args) {
			if _, next := flagName(args[i+1]); !next && args[i+1] != "--" {
				flags[name] = args[i+1]
				i++
				continue
			}
		}
		bools[name] = true
	}
	return pos, flags, bools
}

func flagName(a string) (string, bool) {
	for _, p := range []string{"--", "—"} {
		if strings.HasPrefix(a, p) && len(a) > len(p) {
			return a[len(p):], true
		}
	}
	return "", false
}

func newReqID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "000000000000"
	}
	return hex.EncodeToString(b[:])
}
