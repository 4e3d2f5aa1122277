package guardrail

import (
	"strings"
	"unicode"
)

// Language codes the pattern library covers
const (
	LangEnglish    = "en"
	LangSpanish    = "es"
	LangFrench     = "fr"
	LangGerman     = "de"
	LangItalian    = "it"
	LangPortuguese = "pt"
	LangJapanese   = "ja"
	LangChinese    = "zh"
	LangFarsi      = "fa"
)

// stopwords score Latin-script languages against common function words.
// Words unique enough to discriminate between the Romance languages.
var stopwords = map[string][]string{
	LangSpanish:    {"el", "la", "los", "las", "es", "está", "que", "por", "para", "con", "una", "este", "pero", "más", "como", "muy", "debería", "comprar"},
	LangFrench:     {"le", "la", "les", "est", "que", "pour", "avec", "une", "dans", "sur", "mais", "plus", "vous", "cette", "être", "acheter", "devriez"},
	LangGerman:     {"der", "die", "das", "ist", "und", "nicht", "mit", "für", "auf", "eine", "aber", "sie", "werden", "sollten", "kaufen", "aktie"},
	LangItalian:    {"il", "la", "gli", "è", "che", "per", "con", "una", "non", "sono", "questo", "più", "come", "dovresti", "comprare", "azioni"},
	LangPortuguese: {"o", "a", "os", "as", "é", "que", "para", "com", "uma", "não", "mais", "como", "você", "deve", "comprar", "ações"},
}

// DetectLanguage identifies the text's language. Script detection runs
// first; Latin-script text falls through to stopword scoring, with
// English as the default when no language reaches minScore.
func DetectLanguage(text string, minScore int) string {
	if minScore <= 0 {
		minScore = 3
	}

	hasKana := false
	hasHan := false
	hasArabic := false
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			hasKana = true
		case unicode.Is(unicode.Han, r):
			hasHan = true
		case unicode.Is(unicode.Arabic, r):
			hasArabic = true
		}
	}
	switch {
	case hasKana:
		return LangJapanese
	case hasHan:
		return LangChinese
	case hasArabic:
		return LangFarsi
	}

	words := tokenize(text)
	if len(words) == 0 {
		return LangEnglish
	}

	best := LangEnglish
	bestScore := 0
	// Stable iteration so ties resolve deterministically
	for _, lang := range []string{LangSpanish, LangFrench, LangGerman, LangItalian, LangPortuguese} {
		score := 0
		for _, w := range words {
			for _, sw := range stopwords[lang] {
				if w == sw {
					score++
					break
				}
			}
		}
		if score > bestScore {
			best = lang
			bestScore = score
		}
	}

	if bestScore < minScore {
		return LangEnglish
	}
	return best
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}
