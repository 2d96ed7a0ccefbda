package protocol

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Farewell is sent back when the other side ends the conversation.
const Farewell = "Au revoir !"

var exitKeywords = []string{
	"quit", "exit", "au revoir", "aurevoir", "à plus", "a plus",
	"bye", "goodbye", "ciao", "salut", "tchao", "bye bye",
	"à bientôt", "a bientot", "adieu", "fin",
}

var exitSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(exitKeywords))
	for _, k := range exitKeywords {
		m[Fold(k)] = struct{}{}
	}
	return m
}()

// Fold trims, lower-cases and strips combining accents, so that
// "  À Bientôt " and "a bientot" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

// IsExitKeyword reports whether text, once folded, ends a conversation.
func IsExitKeyword(text string) bool {
	_, ok := exitSet[Fold(text)]
	return ok
}

// ExitKeywords returns the recognised keywords in display form.
func ExitKeywords() []string {
	return append([]string(nil), exitKeywords...)
}
