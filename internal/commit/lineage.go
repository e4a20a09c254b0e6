package commit

import (
	"runtime/debug"
	"strings"
	"time"

	"github.com/roach88/famlink/internal/ir"
)

// placeholders are lineage values that look filled in but carry no
// information. Compared case-insensitively after trimming.
var placeholders = map[string]bool{
	"":            true,
	"unknown":     true,
	"n/a":         true,
	"na":          true,
	"none":        true,
	"null":        true,
	"todo":        true,
	"tbd":         true,
	"placeholder": true,
	"changeme":    true,
	"dev":         true,
	"latest":      true,
}

// IsPlaceholder reports whether v is empty or a known placeholder sentinel.
// A string of zeros (an unset commit sha) is a placeholder too.
func IsPlaceholder(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	if placeholders[v] {
		return true
	}
	return strings.Trim(v, "0") == ""
}

// LineageDefaults are the deployment's lineage values, used for fields a
// caller leaves empty.
type LineageDefaults struct {
	CorpusVersion   string `yaml:"corpus_version"`
	ParserVersion   string `yaml:"parser_version"`
	OntologyVersion string `yaml:"ontology_version"`
	GitSHA          string `yaml:"git_sha"`
}

// ValidateLineage rejects a lineage with an empty or placeholder field.
func ValidateLineage(l ir.Lineage) error {
	for _, f := range l.Fields() {
		if IsPlaceholder(f.Value) {
			return &ValidationError{Field: "lineage." + f.Name, Reason: "empty or placeholder value " + quote(f.Value)}
		}
	}
	if l.CreatedAtUTC.IsZero() {
		return &ValidationError{Field: "lineage.created_at_utc", Reason: "missing"}
	}
	return nil
}

func quote(v string) string { return `"` + v + `"` }

// DeriveLineage fills every field of supplied that the caller left empty.
//
// Precedence per field: the caller's value, then defaults, then a
// deterministic synthetic value. A caller-supplied placeholder is rejected,
// never replaced. ruleset_version is always derived from the rule when not
// supplied.
func DeriveLineage(supplied ir.Lineage, defaults LineageDefaults, rule ir.Rule, now time.Time) (ir.Lineage, error) {
	for _, f := range supplied.Fields() {
		if f.Value != "" && IsPlaceholder(f.Value) {
			return ir.Lineage{}, &ValidationError{Field: "lineage." + f.Name, Reason: "placeholder value " + quote(f.Value)}
		}
	}

	out := supplied
	pick := func(dst *string, name, def string) error {
		if *dst != "" {
			return nil
		}
		if def != "" && !IsPlaceholder(def) {
			*dst = def
			return nil
		}
		v, err := synthetic(name, rule)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
	if err := pick(&out.CorpusVersion, "corpus_version", defaults.CorpusVersion); err != nil {
		return ir.Lineage{}, err
	}
	if err := pick(&out.ParserVersion, "parser_version", defaults.ParserVersion); err != nil {
		return ir.Lineage{}, err
	}
	if err := pick(&out.OntologyVersion, "ontology_version", defaults.OntologyVersion); err != nil {
		return ir.Lineage{}, err
	}
	if err := pick(&out.RulesetVersion, "ruleset_version", ""); err != nil {
		return ir.Lineage{}, err
	}
	gitDefault := defaults.GitSHA
	if gitDefault == "" {
		gitDefault = buildRevision()
	}
	if err := pick(&out.GitSHA, "git_sha", gitDefault); err != nil {
		return ir.Lineage{}, err
	}
	if out.CreatedAtUTC.IsZero() {
		out.CreatedAtUTC = now.UTC().Truncate(time.Second)
	}
	return out, ValidateLineage(out)
}

// synthetic derives a stable stand-in for a missing lineage field from the
// rule's identity and filter.
func synthetic(field string, rule ir.Rule) (string, error) {
	digest, err := ir.LineageDigest(map[string]any{
		"field":        field,
		"rule_id":      rule.ID,
		"rule_version": rule.Version,
		"scope_id":     rule.ScopeID,
		"filter":       string(rule.HeadingFilter),
	}, 12)
	if err != nil {
		return "", err
	}
	prefix := "synthetic-"
	if field == "ruleset_version" {
		prefix = "ruleset-"
	}
	return prefix + digest, nil
}

// buildRevision returns the VCS revision stamped into the binary, if any.
func buildRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:min(12, len(s.Value))]
		}
	}
	return ""
}
