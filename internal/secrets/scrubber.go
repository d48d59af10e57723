package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Finding is one redacted span. The secret value is never stored.
type Finding struct {
	RuleID string `json:"rule_id"`
	Line   int    `json:"line"`
}

// Result is the outcome of a scrub.
type Result struct {
	Content  string
	Findings []Finding
	ByRule   map[string]int
}

// HasFindings reports whether anything was redacted.
func (r Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// Scrubber redacts secrets from text.
type Scrubber struct {
	enabled  bool
	gitleaks bool
	rules    []compiledRule
	allow    []*regexp.Regexp
	stop     []string

	once        sync.Once
	detector    *detect.Detector
	detectorErr error
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []string
}

type span struct {
	start, end int
	ruleID     string
}

// Option configures a Scrubber.
type Option func(*Scrubber) error

// WithRules replaces the default regexp rules.
func WithRules(rules []Rule) Option {
	return func(s *Scrubber) error {
		compiled, err := compileRules(rules)
		if err != nil {
			return err
		}
		s.rules = compiled
		return nil
	}
}

// WithAllowlist exempts matches of al from redaction.
func WithAllowlist(al *Allowlist) Option {
	return func(s *Scrubber) error {
		if al == nil {
			return nil
		}
		for _, pattern := range al.Regexes {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
			}
			s.allow = append(s.allow, re)
		}
		s.stop = append(s.stop, al.StopWords...)
		return nil
	}
}

// WithGitleaks toggles the gitleaks default rule set. It is on by default.
func WithGitleaks(enabled bool) Option {
	return func(s *Scrubber) error {
		s.gitleaks = enabled
		return nil
	}
}

// New creates an enabled scrubber with the default rules.
func New(opts ...Option) (*Scrubber, error) {
	rules, err := compileRules(DefaultRules())
	if err != nil {
		return nil, err
	}
	s := &Scrubber{enabled: true, gitleaks: true, rules: rules}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Disabled returns a scrubber that passes content through unchanged.
func Disabled() *Scrubber {
	return &Scrubber{}
}

// IsEnabled reports whether the scrubber redacts anything.
func (s *Scrubber) IsEnabled() bool {
	return s != nil && s.enabled
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: ID is required", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil || r.Pattern == "" {
			return nil, fmt.Errorf("rule %s: invalid pattern: %v", r.ID, err)
		}
		kws := make([]string, len(r.Keywords))
		for j, kw := range r.Keywords {
			kws[j] = strings.ToLower(kw)
		}
		out = append(out, compiledRule{Rule: r, pattern: re, keywords: kws})
	}
	return out, nil
}

// Scrub returns content with every detected secret replaced. A gitleaks
// initialization failure leaves the regexp rules in effect.
func (s *Scrubber) Scrub(content string) Result {
	res := Result{Content: content, ByRule: map[string]int{}}
	if !s.IsEnabled() || content == "" {
		return res
	}

	spans := s.ruleSpans(content)
	spans = append(spans, s.gitleaksSpans(content)...)
	if len(spans) == 0 {
		return res
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for _, sp := range spans {
		res.Findings = append(res.Findings, Finding{
			RuleID: sp.ruleID,
			Line:   strings.Count(content[:sp.start], "\n") + 1,
		})
		res.ByRule[sp.ruleID]++
	}

	merged := mergeSpans(spans)
	var b strings.Builder
	last := 0
	for _, sp := range merged {
		b.WriteString(content[last:sp.start])
		b.WriteString("[REDACTED:" + sp.ruleID + "]")
		last = sp.end
	}
	b.WriteString(content[last:])
	res.Content = b.String()
	return res
}

// Err reports a gitleaks initialization failure, if one happened.
func (s *Scrubber) Err() error {
	if s == nil {
		return nil
	}
	return s.detectorErr
}

func (s *Scrubber) ruleSpans(content string) []span {
	lower := strings.ToLower(content)
	var spans []span
	for _, r := range s.rules {
		if len(r.keywords) > 0 && !containsAny(lower, r.keywords) {
			continue
		}
		for _, m := range r.pattern.FindAllStringIndex(content, -1) {
			if s.allowed(content[m[0]:m[1]]) {
				continue
			}
			spans = append(spans, span{start: m[0], end: m[1], ruleID: r.ID})
		}
	}
	return spans
}

func (s *Scrubber) gitleaksSpans(content string) []span {
	if !s.gitleaks {
		return nil
	}
	s.once.Do(func() {
		s.detector, s.detectorErr = detect.NewDetectorDefaultConfig()
	})
	if s.detectorErr != nil {
		return nil
	}

	var spans []span
	seen := map[[2]int]bool{}
	for _, f := range s.detector.DetectString(content) {
		if f.Secret == "" || s.allowed(f.Secret) {
			continue
		}
		for off := 0; ; {
			i := strings.Index(content[off:], f.Secret)
			if i < 0 {
				break
			}
			start, end := off+i, off+i+len(f.Secret)
			if !seen[[2]int{start, end}] {
				seen[[2]int{start, end}] = true
				spans = append(spans, span{start: start, end: end, ruleID: f.RuleID})
			}
			off = end
		}
	}
	return spans
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	lower := strings.ToLower(match)
	for _, w := range s.stop {
		if strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// mergeSpans collapses overlapping spans; input must be sorted by start.
// The earliest span's rule id labels the merged range.
func mergeSpans(spans []span) []span {
	merged := []span{spans[0]}
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start < last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}
	return merged
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
