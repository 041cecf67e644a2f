package util

import "strings"

// minActionableLength is the threshold below which a short, keyword-free
// string is treated as non-actionable chatter.
const minActionableLength = 12

// actionableKeywords is a fixed keyword set (including common translated
// counterparts) whose presence marks an objective as coding work rather
// than a greeting or idle chat.
var actionableKeywords = []string{
	"fix", "build", "implement", "debug", "test", "add", "refactor",
	"create", "write", "update", "remove", "delete", "optimize",
	"deploy", "migrate", "review", "investigate", "resolve",
	// translated counterparts
	"corrige", "implementa", "depura", "construye", "arreglar",
	"réparer", "implémenter", "déboguer", "construire",
	"reparieren", "implementieren", "debuggen", "erstellen",
}

var pureGreetings = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true,
	"thanks": true, "thank you": true, "ok": true, "okay": true,
	"good morning": true, "good evening": true,
}

// IsActionableObjective is a pure function: it returns false for pure
// greetings or very short non-path-like strings, and true when any of the
// fixed keyword set appears (case-insensitive).
func IsActionableObjective(objective string) bool {
	trimmed := strings.TrimSpace(objective)
	lower := strings.ToLower(trimmed)

	if pureGreetings[lower] {
		return false
	}

	for _, kw := range actionableKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}

	if len(trimmed) < minActionableLength {
		return looksLikePath(trimmed)
	}

	return true
}

func looksLikePath(s string) bool {
	return strings.ContainsAny(s, "/\\.") && !strings.Contains(s, " ")
}
