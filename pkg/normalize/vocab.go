package normalize

// sensitiveVocab is the dictionary that gates leetspeak decoding and
// separator collapsing. A substitution is only accepted when the rewritten
// token lands on one of these words; anything else is presumed to be
// ordinary text. Keep this list in sync with the attack verbs and nouns the
// pattern catalog matches on.
var sensitiveVocab = map[string]struct{}{}

func init() {
	words := []string{
		// Instruction override
		"ignore", "disregard", "forget", "override", "bypass", "skip", "cancel",
		"disable", "remove", "previous", "preceding", "above", "prior",
		"earlier", "original", "instruction", "instructions", "guideline",
		"guidelines", "rule", "rules", "constraint", "constraints", "policy",
		"policies", "system", "prompt", "prompts", "context", "directive",
		"directives",
		// Jailbreak / role manipulation
		"jailbreak", "pretend", "roleplay", "imagine", "character", "persona",
		"restriction", "restrictions", "limitation", "limitations",
		"boundaries", "safeguard", "safeguards", "unrestricted", "uncensored",
		"developer", "administrator", "admin", "operator", "sudo", "root",
		// Extraction / exfiltration
		"reveal", "expose", "disclose", "extract", "output", "print", "leak",
		"password", "passwords", "secret", "secrets", "credential",
		"credentials", "token", "tokens", "apikey", "key", "keys",
		// Execution
		"execute", "exec", "eval", "command", "commands", "script", "shell",
		"terminal", "delete", "destroy", "wipe",
	}
	for _, w := range words {
		sensitiveVocab[w] = struct{}{}
	}
}

// isSensitiveWord reports whether the (already lowercased) word is in the
// gating dictionary.
func isSensitiveWord(w string) bool {
	_, ok := sensitiveVocab[w]
	return ok
}
