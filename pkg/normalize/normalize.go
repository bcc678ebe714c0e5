// Package normalize canonicalizes adversarially obfuscated text so that
// downstream detectors see the plain form of an attack. The pipeline runs in
// a fixed order: invisible-character stripping, confusable folding,
// vocabulary-gated leetspeak decoding, vocabulary-gated separator collapsing,
// and a final lowercase pass. The original text is preserved for audit
// display; only the canonical copy is used for matching.
//
// The pipeline is idempotent: Normalize(Normalize(x).Canonical).Canonical ==
// Normalize(x).Canonical. It is O(n) in input length and never fails on
// malformed input - invalid byte sequences become a counted placeholder.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Transformation names a single canonicalization step that fired.
type Transformation string

const (
	TransformReplaceInvalid    Transformation = "replace_invalid"
	TransformStripInvisible    Transformation = "strip_invisible"
	TransformFoldConfusable    Transformation = "fold_confusable"
	TransformDecodeLeetspeak   Transformation = "decode_leetspeak"
	TransformCollapseSeparator Transformation = "collapse_separator"
	TransformLowercase         Transformation = "lowercase"
)

// Result holds the original text alongside its canonical matching form and
// the list of transformations that changed it. A Result belongs to exactly
// one evaluation request and is never shared.
type Result struct {
	Original     string
	Canonical    string
	Applied      []Transformation
	InvalidRunes int
}

// WasTransformed reports whether any step beyond lowercasing changed the text.
// Detectors use this to weight obfuscated inputs more aggressively.
func (r *Result) WasTransformed() bool {
	for _, t := range r.Applied {
		if t != TransformLowercase {
			return true
		}
	}
	return false
}

// leetMap maps digit/symbol substitutions to the letters they imitate.
// Substitution is only applied where the resulting token matches the
// sensitive vocabulary; blind substitution would corrupt ordinary text
// ("Turn 1" is not "Turn I").
var leetMap = map[rune]rune{
	'0': 'o', '1': 'i', '3': 'e', '4': 'a', '5': 's', '6': 'g', '7': 't', '8': 'b', '9': 'g',
	'@': 'a', '$': 's', '!': 'i', '+': 't', '|': 'i',
}

// separators are the characters attackers insert inside a keyword to break
// literal matching (i-g-n-o-r-e, i.g.n.o.r.e, i_g_n_o_r_e, i g n o r e).
const separators = "-._ "

// Normalize canonicalizes text through the full pipeline.
func Normalize(text string) *Result {
	res := &Result{Original: text}

	s, invalid := replaceInvalid(text)
	if invalid > 0 {
		res.InvalidRunes = invalid
		res.record(TransformReplaceInvalid)
	}

	if stripped := stripInvisible(s); stripped != s {
		s = stripped
		res.record(TransformStripInvisible)
	}

	if folded := foldConfusables(s); folded != s {
		s = folded
		res.record(TransformFoldConfusable)
	}

	if decoded := decodeLeetTokens(s); decoded != s {
		s = decoded
		res.record(TransformDecodeLeetspeak)
	}

	if collapsed := collapseSeparatedTokens(s); collapsed != s {
		s = collapsed
		res.record(TransformCollapseSeparator)
	}

	if lowered := strings.ToLower(s); lowered != s {
		s = lowered
		res.record(TransformLowercase)
	}

	res.Canonical = s
	return res
}

func (r *Result) record(t Transformation) {
	r.Applied = append(r.Applied, t)
}

// replaceInvalid substitutes each invalid UTF-8 byte with U+FFFD and counts
// the replacements. Valid text passes through without allocation.
func replaceInvalid(s string) (string, int) {
	if utf8.ValidString(s) {
		return s, 0
	}
	var b strings.Builder
	b.Grow(len(s))
	count := 0
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(unicode.ReplacementChar)
			count++
		} else {
			b.WriteRune(r)
		}
		i += size
	}
	return b.String(), count
}

// stripInvisible drops zero-width and format code points used to split
// keywords, plus variation selectors and the Unicode tag block.
func stripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.Is(unicode.Cf, r):
			return -1 // ZWSP, ZWJ, ZWNJ, bidi controls, tags
		case r >= 0xFE00 && r <= 0xFE0F:
			return -1 // variation selectors
		case r == 0xFEFF:
			return -1 // stray BOM
		}
		return r
	}, s)
}

// foldConfusables maps non-Latin look-alike characters to their closest Latin
// letter, then applies NFKC so compatibility forms (fullwidth, ligatures)
// collapse to their plain equivalents.
func foldConfusables(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if latin, ok := confusables[r]; ok {
			return latin
		}
		return r
	}, s)
	return norm.NFKC.String(mapped)
}

// decodeLeetTokens rewrites tokens like "1gn0re" to "ignore", but only when
// the substituted token is in the sensitive vocabulary.
func decodeLeetTokens(s string) string {
	var out strings.Builder
	out.Grow(len(s))
	changed := false

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isLeetTokenRune(r) {
			out.WriteRune(r)
			i += size
			continue
		}
		// Consume the whole token.
		start := i
		hasSub := false
		for i < len(s) {
			r2, size2 := utf8.DecodeRuneInString(s[i:])
			if !isLeetTokenRune(r2) {
				break
			}
			if _, ok := leetMap[r2]; ok {
				hasSub = true
			}
			i += size2
		}
		token := s[start:i]
		if hasSub {
			if decoded, ok := decodeLeetToken(token); ok {
				out.WriteString(decoded)
				changed = true
				continue
			}
			// Trailing symbols may be punctuation, not substitutions
			// ("1gn0re!" is "ignore" followed by an exclamation mark).
			if trimmed := strings.TrimRight(token, "@$!+|"); trimmed != token {
				if decoded, ok := decodeLeetToken(trimmed); ok {
					out.WriteString(decoded)
					out.WriteString(token[len(trimmed):])
					changed = true
					continue
				}
			}
		}
		out.WriteString(token)
	}

	if !changed {
		return s
	}
	return out.String()
}

func isLeetTokenRune(r rune) bool {
	if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
		return true
	}
	_, ok := leetMap[r]
	return ok
}

// decodeLeetToken applies the substitution map to a single token and accepts
// the result only if it lands in the sensitive vocabulary.
func decodeLeetToken(token string) (string, bool) {
	var b strings.Builder
	b.Grow(len(token))
	for _, r := range token {
		if sub, ok := leetMap[unicode.ToLower(r)]; ok {
			b.WriteRune(sub)
		} else {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	decoded := b.String()
	if isSensitiveWord(decoded) {
		return decoded, true
	}
	return "", false
}

// Separator-collapse candidates, compiled once at package init. Punctuation
// separators may split a word anywhere (ig-nore); a space only counts when it
// separates single letters (i g n o r e), otherwise ordinary prose would be
// glued together.
var reSeparated = []*regexp.Regexp{
	regexp.MustCompile(`[A-Za-z]+(?:-[A-Za-z]+)+`),
	regexp.MustCompile(`[A-Za-z]+(?:\.[A-Za-z]+)+`),
	regexp.MustCompile(`[A-Za-z]+(?:_[A-Za-z]+)+`),
	regexp.MustCompile(`\b[A-Za-z](?: [A-Za-z]){3,}\b`),
}

// collapseSeparatedTokens joins letters split by a separator (i-g-n-o-r-e)
// when the joined form is in the sensitive vocabulary. Hyphenated words like
// "well-known" are left alone because their collapsed form is not sensitive.
func collapseSeparatedTokens(s string) string {
	for _, re := range reSeparated {
		s = re.ReplaceAllStringFunc(s, func(match string) string {
			joined := strings.Map(func(r rune) rune {
				if strings.ContainsRune(separators, r) {
					return -1
				}
				return r
			}, match)
			if isSensitiveWord(strings.ToLower(joined)) {
				return joined
			}
			return match
		})
	}
	return s
}
