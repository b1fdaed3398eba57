// Package lexicon holds the bilingual keyword tables and regular expressions
// that drive rule-based extraction.
//
// Tables are data, keyed by language tag, and loaded from YAML. The compiled
// [Lexicon] merges every language so that code-switched speech ("nitalipa
// KES 2,000 on Friday") matches regardless of which language a phrase came
// from. All matching is case-insensitive substring matching against
// lower-cased input; callers lower-case once and pass the result in.
//
// A Lexicon is immutable after construction and safe for concurrent use.
package lexicon

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/callcoach/pkg/types"
)

//go:embed default.yaml
var defaultTables []byte

// Cue names a keyword group used by coaching and summary fallbacks.
type Cue string

const (
	CueAnger          Cue = "anger"
	CueHardship       Cue = "hardship"
	CueJobLoss        Cue = "job_loss"
	CueCommitment     Cue = "commitment"
	CuePaymentChannel Cue = "payment_channel"
	CueDocuments      Cue = "documents"
)

// File is the on-disk YAML layout.
type File struct {
	AmountPattern string            `yaml:"amount_pattern"`
	DatePattern   string            `yaml:"date_pattern"`
	Languages     map[string]*Table `yaml:"languages"`
}

// Table is the keyword set for one language.
type Table struct {
	Promise    []string         `yaml:"promise"`
	Objections []ObjectionRule  `yaml:"objections"`
	Agreement  AgreementTable   `yaml:"agreement"`
	Sentiment  SentimentTable   `yaml:"sentiment"`
	Cues       map[Cue][]string `yaml:"cues"`
}

// ObjectionRule maps a keyword group to an objection type and severity.
// Rules are evaluated in list order, so earlier rules win.
type ObjectionRule struct {
	Type     types.ObjectionType `yaml:"type"`
	Severity types.Severity      `yaml:"severity"`
	Keywords []string            `yaml:"keywords"`
}

// AgreementTable holds the trigger keywords and the ordered sub-type rules.
type AgreementTable struct {
	Keywords []string        `yaml:"keywords"`
	Types    []AgreementRule `yaml:"types"`
}

// AgreementRule classifies a detected agreement.
type AgreementRule struct {
	Type     types.AgreementType `yaml:"type"`
	Keywords []string            `yaml:"keywords"`
}

// SentimentTable holds positive and negative indicator keywords.
type SentimentTable struct {
	Positive []string `yaml:"positive"`
	Negative []string `yaml:"negative"`
}

// Lexicon is the compiled, language-merged keyword set.
type Lexicon struct {
	languages         []string
	promise           []string
	objections        []ObjectionRule
	agreementTriggers []string
	agreementRules    []AgreementRule
	positive          []string
	negative          []string
	cues              map[Cue][]string
	amount            *regexp.Regexp
	date              *regexp.Regexp
}

// Default returns the lexicon compiled from the embedded English/Swahili
// tables with primary as the first language.
func Default(primary string) (*Lexicon, error) {
	return LoadFromReader(bytes.NewReader(defaultTables), primary)
}

// Load reads a lexicon YAML file from disk.
func Load(path, primary string) (*Lexicon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lexicon: open %q: %w", path, err)
	}
	defer f.Close()

	lex, err := LoadFromReader(f, primary)
	if err != nil {
		return nil, fmt.Errorf("lexicon: load %q: %w", path, err)
	}
	return lex, nil
}

// LoadFromReader parses lexicon YAML from r and compiles it. Unknown keys are
// rejected to catch typos.
func LoadFromReader(r io.Reader, primary string) (*Lexicon, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("lexicon: decode yaml: %w", err)
	}
	return Compile(&f, primary)
}

// Compile validates f and merges its languages. primary, when present in f,
// is ordered first; the rest follow in sorted tag order.
func Compile(f *File, primary string) (*Lexicon, error) {
	var errs []error
	if len(f.Languages) == 0 {
		errs = append(errs, errors.New("at least one language table is required"))
	}
	amount, err := compilePattern("amount_pattern", f.AmountPattern)
	if err != nil {
		errs = append(errs, err)
	}
	date, err := compilePattern("date_pattern", f.DatePattern)
	if err != nil {
		errs = append(errs, err)
	}
	if primary != "" && len(f.Languages) > 0 {
		if _, ok := f.Languages[primary]; !ok {
			errs = append(errs, fmt.Errorf("primary language %q has no table", primary))
		}
	}
	for tag, t := range f.Languages {
		if t == nil {
			errs = append(errs, fmt.Errorf("languages.%s: empty table", tag))
			continue
		}
		for i, rule := range t.Objections {
			if !validObjectionType(rule.Type) {
				errs = append(errs, fmt.Errorf("languages.%s.objections[%d]: unknown type %q", tag, i, rule.Type))
			}
			if !validSeverity(rule.Severity) {
				errs = append(errs, fmt.Errorf("languages.%s.objections[%d]: unknown severity %q", tag, i, rule.Severity))
			}
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("lexicon: %w", errors.Join(errs...))
	}

	lex := &Lexicon{
		languages: orderTags(f.Languages, primary),
		cues:      make(map[Cue][]string),
		amount:    amount,
		date:      date,
	}
	for _, tag := range lex.languages {
		t := f.Languages[tag]
		lex.promise = appendLower(lex.promise, t.Promise)
		lex.agreementTriggers = appendLower(lex.agreementTriggers, t.Agreement.Keywords)
		lex.positive = appendLower(lex.positive, t.Sentiment.Positive)
		lex.negative = appendLower(lex.negative, t.Sentiment.Negative)
		lex.objections = mergeObjections(lex.objections, t.Objections)
		lex.agreementRules = mergeAgreements(lex.agreementRules, t.Agreement.Types)
		for cue, kws := range t.Cues {
			lex.cues[cue] = appendLower(lex.cues[cue], kws)
		}
	}
	return lex, nil
}

// Languages returns the language tags in match order.
func (l *Lexicon) Languages() []string {
	return slices.Clone(l.languages)
}

// MatchPromise reports the first promise keyword contained in lower.
func (l *Lexicon) MatchPromise(lower string) (string, bool) {
	return firstMatch(l.promise, lower)
}

// MatchObjection returns the first objection rule with a keyword contained in
// lower, scanning rules in priority order.
func (l *Lexicon) MatchObjection(lower string) (ObjectionRule, string, bool) {
	for _, rule := range l.objections {
		if kw, ok := firstMatch(rule.Keywords, lower); ok {
			return rule, kw, true
		}
	}
	return ObjectionRule{}, "", false
}

// MatchAgreement reports whether lower contains any agreement trigger.
func (l *Lexicon) MatchAgreement(lower string) bool {
	_, ok := firstMatch(l.agreementTriggers, lower)
	return ok
}

// AgreementType classifies an agreement by the first matching sub-type rule,
// or [types.AgreementOther].
func (l *Lexicon) AgreementType(lower string) types.AgreementType {
	for _, rule := range l.agreementRules {
		if _, ok := firstMatch(rule.Keywords, lower); ok {
			return rule.Type
		}
	}
	return types.AgreementOther
}

// CountSentiment returns total (not distinct) positive and negative keyword
// hits in lower.
func (l *Lexicon) CountSentiment(lower string) (positive, negative int) {
	return countHits(l.positive, lower), countHits(l.negative, lower)
}

// HasCue reports whether lower contains any keyword of the cue group.
func (l *Lexicon) HasCue(cue Cue, lower string) bool {
	_, ok := firstMatch(l.cues[cue], lower)
	return ok
}

// FindAmounts returns every amount literal in text, exactly as written.
func (l *Lexicon) FindAmounts(text string) []string {
	return l.amount.FindAllString(text, -1)
}

// FindDate returns the first date phrase in text, or "".
func (l *Lexicon) FindDate(text string) string {
	return l.date.FindString(text)
}

// ParseAmount strips currency tokens and thousands separators from an amount
// literal and parses the number. Only positive values are accepted.
func ParseAmount(literal string) (float64, bool) {
	var b strings.Builder
	for _, r := range literal {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	s := strings.Trim(b.String(), ".")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func compilePattern(field, pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return re, nil
}

func firstMatch(keywords []string, lower string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	return "", false
}

func countHits(keywords []string, lower string) int {
	n := 0
	for _, kw := range keywords {
		n += strings.Count(lower, kw)
	}
	return n
}

func appendLower(dst, src []string) []string {
	for _, kw := range src {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || slices.Contains(dst, kw) {
			continue
		}
		dst = append(dst, kw)
	}
	return dst
}

// mergeObjections folds rules of the same type together, keeping the order in
// which each type first appeared.
func mergeObjections(dst, src []ObjectionRule) []ObjectionRule {
	for _, rule := range src {
		i := slices.IndexFunc(dst, func(r ObjectionRule) bool { return r.Type == rule.Type })
		if i < 0 {
			dst = append(dst, ObjectionRule{Type: rule.Type, Severity: rule.Severity})
			i = len(dst) - 1
		}
		dst[i].Keywords = appendLower(dst[i].Keywords, rule.Keywords)
	}
	return dst
}

func mergeAgreements(dst, src []AgreementRule) []AgreementRule {
	for _, rule := range src {
		i := slices.IndexFunc(dst, func(r AgreementRule) bool { return r.Type == rule.Type })
		if i < 0 {
			dst = append(dst, AgreementRule{Type: rule.Type})
			i = len(dst) - 1
		}
		dst[i].Keywords = appendLower(dst[i].Keywords, rule.Keywords)
	}
	return dst
}

func orderTags(tables map[string]*Table, primary string) []string {
	tags := make([]string, 0, len(tables))
	for tag := range tables {
		if tag != primary {
			tags = append(tags, tag)
		}
	}
	slices.Sort(tags)
	if _, ok := tables[primary]; ok {
		tags = append([]string{primary}, tags...)
	}
	return tags
}

func validObjectionType(t types.ObjectionType) bool {
	switch t {
	case types.ObjectionFinancialHardship, types.ObjectionJobLoss, types.ObjectionMedical,
		types.ObjectionDispute, types.ObjectionOther:
		return true
	}
	return false
}

func validSeverity(s types.Severity) bool {
	return s == types.SeverityLow || s == types.SeverityMedium || s == types.SeverityHigh
}
