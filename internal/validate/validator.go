package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"spl-copilot/internal/pipeline"
)

// RulesVersion identifies the static denylist rule set. Bump when rules
// change so rejections can be correlated with the rules that produced them.
const RulesVersion = "v1"

// DenyRule is a lexical pattern over the SPL command sequence that marks
// a query as unsafe to execute.
type DenyRule struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
}

// cmd builds a case-insensitive pattern matching an SPL command at the
// start of the query or of any pipe segment, tolerant of whitespace and
// quoting variants.
func cmd(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|\|)[\s"']*` + name + `\b`)
}

func denyRules() []DenyRule {
	return []DenyRule{
		{"delete", "deletes events from an index", cmd("delete")},
		{"drop", "drops index structures", cmd("drop")},
		{"truncate", "truncates index contents", cmd("truncate")},
		{"alter", "alters index configuration", cmd("alter")},
		{"create", "creates backend objects", cmd("create")},
		{"update", "modifies indexed data", cmd("update")},
		{"insert", "writes into an index", cmd("insert")},
		{"collect", "writes results into a summary index", cmd("collect")},
		{"outputcsv", "writes results to server-side files", cmd("outputcsv")},
		{"outputlookup", "overwrites lookup tables", cmd("outputlookup")},
		{"script", "executes external scripts", cmd("script")},
		{"runshellscript", "executes shell commands on the search head", cmd("runshellscript")},
		{"sendemail", "exfiltrates results by email", cmd("sendemail")},
		{"dump", "dumps raw index data to disk", cmd("dump")},
		{"credential read", "reads the credential store",
			regexp.MustCompile(`(?i)\brest\b[^|]*storage[\s/]+passwords`)},
	}
}

// limitClause matches commands that already bound the result set.
var limitClause = regexp.MustCompile(`(?i)\|\s*(head|top|tail)\s+\d+`)

var (
	leadingPipe    = regexp.MustCompile(`^\s*\|`)
	emptyPipeSeg   = regexp.MustCompile(`\|\s*(\||$)`)
	validGenerator = regexp.MustCompile(`(?i)^\s*(search\b|index\s*=)`)
)

const maxQueryLength = 5000

// Validator inspects SPL text against the static rule set. It is a pure
// function of the query text: no external calls, no per-request state,
// and identical input always yields an identical verdict.
type Validator struct {
	rules   []DenyRule
	ceiling int
}

// New returns a Validator that injects `| head ceiling` into queries
// lacking an explicit result limit.
func New(ceiling int) *Validator {
	if ceiling < 1 {
		ceiling = 100
	}
	return &Validator{rules: denyRules(), ceiling: ceiling}
}

// Validate returns the safety verdict for spl. The denylist takes
// precedence over every other check: a query matching a denied
// operation is rejected even if otherwise malformed or well-formed.
func (v *Validator) Validate(spl string) pipeline.Verdict {
	trimmed := strings.TrimSpace(spl)

	for _, rule := range v.rules {
		if rule.Regex.MatchString(trimmed) {
			log.Warn().
				Str("rule", rule.Name).
				Str("rules_version", RulesVersion).
				Msg("query rejected by safety rule")
			return pipeline.Verdict{
				Allowed: false,
				Reason:  fmt.Sprintf("query contains blocked operation %q: %s", rule.Name, rule.Description),
			}
		}
	}

	if trimmed == "" {
		return pipeline.Verdict{Allowed: false, Reason: "query is empty"}
	}
	if len(trimmed) > maxQueryLength {
		return pipeline.Verdict{
			Allowed: false,
			Reason:  fmt.Sprintf("query exceeds maximum length of %d characters", maxQueryLength),
		}
	}
	if leadingPipe.MatchString(trimmed) {
		return pipeline.Verdict{Allowed: false, Reason: "query must not begin with a pipe"}
	}
	if emptyPipeSeg.MatchString(trimmed) {
		return pipeline.Verdict{Allowed: false, Reason: "query contains an empty pipe segment"}
	}
	if !validGenerator.MatchString(trimmed) {
		return pipeline.Verdict{Allowed: false, Reason: "query must begin with the search command"}
	}

	verdict := pipeline.Verdict{Allowed: true}
	if !limitClause.MatchString(trimmed) {
		verdict.SanitizedSPL = fmt.Sprintf("%s | head %d", trimmed, v.ceiling)
	}
	return verdict
}
