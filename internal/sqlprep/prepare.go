package sqlprep

import (
	"regexp"
	"strconv"
	"strings"
)

// EndOfTime is the value substituted for %%ENDTIME%%.
// It stays below the signed 32-bit epoch limit (year 2038).
const EndOfTime int64 = 2145938400

// Options carries the site values substituted into statements.
type Options struct {
	// TablePrefix replaces the literal "prefix_" in table names (e.g. "mdl_").
	TablePrefix string
	// WWWRoot replaces %%WWWROOT%%.
	WWWRoot string
}

// Rule is one rewrite step. Exactly one of Literal or Pattern is set.
type Rule struct {
	Name    string
	Literal string
	Pattern *regexp.Regexp
	// Replace is the literal replacement, or the regexp template (with $1 etc.) when Pattern is set.
	Replace string
}

func (r Rule) apply(s string) string {
	if r.Pattern != nil {
		return r.Pattern.ReplaceAllString(s, r.Replace)
	}
	if r.Literal == "" {
		return s
	}
	return strings.ReplaceAll(s, r.Literal, r.Replace)
}

var (
	// RE2 has no lookahead: capture the first word character and put it back.
	rePrefix = regexp.MustCompile(`(?i)\bprefix_(\w)`)
	reToken  = regexp.MustCompile(`%{2}[^%]+%{2}`)
)

// Rules returns the ordered rewrite rules for opt.
// Named placeholders come before the catch-all strip so only unknown tokens are removed.
func Rules(opt Options) []Rule {
	return []Rule{
		{Name: "prefix", Pattern: rePrefix, Replace: escapeTemplate(opt.TablePrefix) + "${1}"},
		{Name: "userid", Literal: "%%USERID%%", Replace: "0"},
		{Name: "courseid", Literal: "%%COURSEID%%", Replace: "0"},
		{Name: "categoryid", Literal: "%%CATEGORYID%%", Replace: "0"},
		{Name: "starttime", Literal: "%%STARTTIME%%", Replace: "0"},
		{Name: "endtime", Literal: "%%ENDTIME%%", Replace: strconv.FormatInt(EndOfTime, 10)},
		{Name: "wwwroot", Literal: "%%WWWROOT%%", Replace: opt.WWWRoot},
		{Name: "unknown", Pattern: reToken, Replace: ""},
	}
}

// Preprocessor applies a fixed rule list. It has no I/O and is safe for concurrent use.
type Preprocessor struct {
	rules []Rule
}

func New(opt Options) *Preprocessor {
	return &Preprocessor{rules: Rules(opt)}
}

// NewWithRules builds a Preprocessor from an explicit rule list.
func NewWithRules(rules []Rule) *Preprocessor {
	return &Preprocessor{rules: append([]Rule(nil), rules...)}
}

// Prepare rewrites one raw statement and trims surrounding whitespace and all
// trailing ';' terminators. An empty result means there is nothing to execute.
func (p *Preprocessor) Prepare(raw string) string {
	s := raw
	for _, r := range p.rules {
		s = r.apply(s)
	}
	// Fragments produced by splitting on ';' never carry one; statements passed in whole might.
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), ";"))
}

// escapeTemplate keeps '$' in a literal replacement from being read as a group reference.
func escapeTemplate(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}
