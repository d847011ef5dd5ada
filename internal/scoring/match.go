package scoring

import (
	"strings"
	"unicode"
)

// normalizeChoice lowercases and collapses internal whitespace.
func normalizeChoice(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

func normalizeShort(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Match reports whether v answers k correctly. Essays never match.
func Match(k QuestionKey, v Value) bool {
	switch k.Type {
	case SingleChoice:
		return matchAny(normalizeChoice, k.CorrectAnswers, v)
	case ShortAnswer:
		return matchAny(normalizeShort, k.CorrectAnswers, v)
	case MultiSelect:
		return sameSet(k.CorrectAnswers, v.Strings())
	default:
		return false
	}
}

func matchAny(norm func(string) string, keys []string, v Value) bool {
	if v.IsList() {
		if len(v.Items()) != 1 {
			return false
		}
		v = Text(v.Items()[0])
	}
	got := norm(v.Text())
	if got == "" {
		return false
	}
	for _, k := range keys {
		if norm(k) == got {
			return true
		}
	}
	return false
}

func sameSet(want, got []string) bool {
	w := toSet(want)
	g := toSet(got)
	if len(w) == 0 || len(w) != len(g) {
		return false
	}
	for k := range w {
		if _, ok := g[k]; !ok {
			return false
		}
	}
	return true
}

func toSet(xs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		if n := normalizeShort(x); n != "" {
			out[n] = struct{}{}
		}
	}
	return out
}
