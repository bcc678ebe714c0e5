package normalize

// confusables maps visually confusable code points to the Latin letter they
// imitate. This is a curated table covering the scripts that show up in real
// obfuscated injections (Cyrillic, Greek, IPA, mathematical alphanumerics),
// not a full TR39 skeleton. Fullwidth and other compatibility forms are
// handled by the NFKC pass that follows this table.
var confusables = map[rune]rune{
	// Cyrillic lowercase
	'а': 'a', 'е': 'e', 'і': 'i', 'о': 'o', 'р': 'p', 'с': 'c', 'у': 'y', 'х': 'x',
	'ѕ': 's', 'ј': 'j', 'һ': 'h', 'ԁ': 'd', 'ԝ': 'w', 'ѵ': 'v',
	// Cyrillic uppercase
	'А': 'A', 'В': 'B', 'С': 'C', 'Е': 'E', 'Н': 'H', 'І': 'I', 'К': 'K',
	'М': 'M', 'О': 'O', 'Р': 'P', 'Т': 'T', 'Х': 'X', 'Ѕ': 'S', 'Ј': 'J',
	// Greek lowercase
	'α': 'a', 'β': 'b', 'ε': 'e', 'η': 'n', 'ι': 'i', 'κ': 'k', 'ν': 'v',
	'ο': 'o', 'ρ': 'p', 'τ': 't', 'υ': 'u', 'χ': 'x', 'ω': 'w',
	// Greek uppercase
	'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Ζ': 'Z', 'Η': 'H', 'Ι': 'I', 'Κ': 'K',
	'Μ': 'M', 'Ν': 'N', 'Ο': 'O', 'Ρ': 'P', 'Τ': 'T', 'Υ': 'Y', 'Χ': 'X',
	// IPA and phonetic extensions
	'ɑ': 'a', 'ɡ': 'g', 'ɩ': 'i', 'ɪ': 'i', 'ʏ': 'y', 'ʟ': 'l',
	// Letterlike symbols
	'ℓ': 'l', 'ℯ': 'e', 'ℊ': 'g', 'ℴ': 'o',
}
