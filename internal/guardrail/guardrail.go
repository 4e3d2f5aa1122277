// Package guardrail is the final-stage compliance processor for
// generated and relayed market text. It detects prescriptive and
// predictive language in nine languages, rewrites it into descriptive
// equivalents, and injects regionally appropriate disclaimers.
package guardrail

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
)

// Action is the pipeline outcome for one input
type Action string

const (
	ActionPassed   Action = "passed"
	ActionModified Action = "modified"
	ActionBlocked  Action = "blocked"
)

// Result reports one guardrail run
type Result struct {
	Action          Action   `json:"action"`
	OriginalText    string   `json:"original_text"`
	ProcessedText   string   `json:"processed_text"`
	Language        string   `json:"language"`
	ViolationsFound []string `json:"violations_found,omitempty"`
	Modifications   []string `json:"modifications,omitempty"`
	DisclaimerAdded bool     `json:"disclaimer_added"`
	IsCompliant     bool     `json:"is_compliant"`
	WasModified     bool     `json:"was_modified"`
	Confidence      float64  `json:"confidence"`
}

// Options configure the guardrail pipeline
type Options struct {
	// StrictMode blocks instead of rewriting once violations exceed StrictViolationLimit
	StrictMode bool
	// AutoAddDisclaimer appends a disclaimer when none is present
	AutoAddDisclaimer bool
	// DefaultLanguage is assumed when detection is inconclusive
	DefaultLanguage string
	// StrictViolationLimit is the block threshold in strict mode
	StrictViolationLimit int
	// MinLanguageScore is the stopword score needed to override the default language
	MinLanguageScore int
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		StrictMode:           false,
		AutoAddDisclaimer:    true,
		DefaultLanguage:      LangEnglish,
		StrictViolationLimit: 5,
		MinLanguageScore:     3,
	}
}

// Guardrail runs the scan/rewrite/disclaimer pipeline. Processing is
// pure text work with no external state, so one instance serves all
// goroutines.
type Guardrail struct {
	opts        Options
	disclaimers *DisclaimerGenerator
}

// New creates a guardrail with the embedded disclaimer table
func New(opts Options) (*Guardrail, error) {
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = LangEnglish
	}
	if opts.StrictViolationLimit <= 0 {
		opts.StrictViolationLimit = 5
	}
	if opts.MinLanguageScore <= 0 {
		opts.MinLanguageScore = 3
	}
	gen, err := NewDisclaimerGenerator()
	if err != nil {
		return nil, fmt.Errorf("guardrail init: %w", err)
	}
	return &Guardrail{opts: opts, disclaimers: gen}, nil
}

// Process runs the full pipeline on text. language may be empty or
// "auto" to detect; assetClass and region feed the disclaimer generator.
func (g *Guardrail) Process(text, assetClass, region, language string) Result {
	// Nothing to scan, rewrite, or disclaim on empty input
	if strings.TrimSpace(text) == "" {
		return Result{
			Action:        ActionPassed,
			OriginalText:  text,
			ProcessedText: text,
			Language:      g.opts.DefaultLanguage,
			IsCompliant:   true,
			Confidence:    0.95,
		}
	}

	if language == "" || language == "auto" {
		language = DetectLanguage(text, g.opts.MinLanguageScore)
		if language == LangEnglish && g.opts.DefaultLanguage != LangEnglish {
			language = g.opts.DefaultLanguage
		}
	}

	sets := g.setsFor(language)
	violations := scan(text, sets)

	if g.opts.StrictMode && len(violations) > g.opts.StrictViolationLimit {
		log.Warn().
			Str("language", language).
			Int("violations", len(violations)).
			Msg("guardrail blocked text in strict mode")
		return Result{
			Action:          ActionBlocked,
			OriginalText:    text,
			ProcessedText:   "",
			Language:        language,
			ViolationsFound: violations,
			IsCompliant:     false,
			Confidence:      0,
		}
	}

	processed, modifications := rewrite(text, sets)
	if language == LangEnglish {
		processed, modifications = applyRules(processed, descriptiveRules, modifications)
	}
	// Cleanup repairs rewrite artifacts; untouched text passes through
	// byte-for-byte.
	if len(modifications) > 0 {
		processed = cleanup(processed)
	}

	disclaimerAdded := false
	if g.opts.AutoAddDisclaimer && !hasDisclaimer(processed) {
		disclaimer := g.disclaimers.Generate(assetClass, region)
		processed = strings.TrimRight(processed, " \n") + "\n\n" + disclaimer
		disclaimerAdded = true
	}

	action := ActionPassed
	if len(violations) > 0 || len(modifications) > 0 {
		action = ActionModified
	}

	confidence := 0.95 - 0.05*float64(len(violations)+len(modifications))
	if confidence < 0.5 {
		confidence = 0.5
	}

	return Result{
		Action:          action,
		OriginalText:    text,
		ProcessedText:   processed,
		Language:        language,
		ViolationsFound: violations,
		Modifications:   modifications,
		DisclaimerAdded: disclaimerAdded,
		IsCompliant:     true,
		WasModified:     action == ActionModified,
		Confidence:      confidence,
	}
}

// Disclaimer exposes the generator for callers that attach disclaimers
// to structured responses rather than prose.
func (g *Guardrail) Disclaimer(assetClass, region string) string {
	return g.disclaimers.Generate(assetClass, region)
}

// setsFor returns the pattern sets to run: the language's own, plus
// English for non-English input to catch code-switched content.
func (g *Guardrail) setsFor(language string) []*patternSet {
	sets := make([]*patternSet, 0, 2)
	if s, ok := patternLibrary[language]; ok {
		sets = append(sets, s)
	}
	if language != LangEnglish {
		sets = append(sets, patternLibrary[LangEnglish])
	}
	return sets
}

// scan collects violations across all four buckets without modifying text
func scan(text string, sets []*patternSet) []string {
	var violations []string
	for _, set := range sets {
		for _, re := range set.prescriptive {
			for _, m := range re.FindAllString(text, -1) {
				violations = append(violations, "prescriptive: "+m)
			}
		}
		for _, bucket := range [][]rewriteRule{set.advice, set.opinion, set.certainty} {
			for _, r := range bucket {
				for _, m := range r.re.FindAllString(text, -1) {
					violations = append(violations, "pattern: "+m)
				}
			}
		}
	}
	return violations
}

// rewrite applies advice, opinion, and certainty replacements in order
func rewrite(text string, sets []*patternSet) (string, []string) {
	var modifications []string
	for _, set := range sets {
		text, modifications = applyRules(text, set.advice, modifications)
		text, modifications = applyRules(text, set.opinion, modifications)
		text, modifications = applyRules(text, set.certainty, modifications)
	}
	return text, modifications
}

func applyRules(text string, rules []rewriteRule, modifications []string) (string, []string) {
	for _, r := range rules {
		if matches := r.re.FindAllString(text, -1); len(matches) > 0 {
			text = r.re.ReplaceAllString(text, r.replacement)
			for _, m := range matches {
				modifications = append(modifications, m+" -> "+r.replacement)
			}
		}
	}
	return text, modifications
}

// cleanup repairs rewrite artifacts and recapitalizes sentence starts
func cleanup(text string) string {
	for _, r := range cleanupRules {
		text = r.re.ReplaceAllString(text, r.replacement)
	}
	return capitalizeSentences(text)
}

func capitalizeSentences(text string) string {
	runes := []rune(text)
	atStart := true
	for i, r := range runes {
		if atStart && unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			atStart = false
			continue
		}
		switch r {
		case '.', '!', '?':
			atStart = true
		default:
			if atStart && !unicode.IsSpace(r) {
				atStart = false
			}
		}
	}
	return string(runes)
}
