package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/famlink/internal/filter"
	"github.com/roach88/famlink/internal/ir"
)

// LoadMode controls how errors are handled during rule loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the rules read from a directory.
type LoadResult struct {
	Rules     []ir.Rule
	FileCount int
}

// LoadError represents an error that occurred during rule loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ruleDef is the CUE shape of one rule under the top-level "rule" struct.
// The struct label is the rule id.
//
//	rule: debt: {
//		family_id: "fam-debt"
//		filter:    "\"Indebtedness\" | \"Negative Pledge\""
//		article_concepts: ["negative_covenants"]
//	}
type ruleDef struct {
	FamilyID        string   `json:"family_id"`
	OntologyNodeID  string   `json:"ontology_node_id"`
	Filter          string   `json:"filter"`
	ArticleConcepts []string `json:"article_concepts"`
	ScopeMode       string   `json:"scope_mode"`
	ParentFamilyID  string   `json:"parent_family_id"`
	ParentRuleID    string   `json:"parent_rule_id"`
	ParentRunID     string   `json:"parent_run_id"`
}

// LoadRules loads rule definitions from the CUE files in dir. Filters are
// parsed here so a malformed filter is reported with its CUE position.
func LoadRules(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("rules directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing rules directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{FileCount: len(cueFiles)}
	rulesVal := value.LookupPath(cue.ParsePath("rule"))
	if !rulesVal.Exists() {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: "no rules found"}}
	}
	iter, err := rulesVal.Fields()
	if err != nil {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating rules: %v", err)}}
	}

	var errs []error
	for iter.Next() {
		r, loadErr := compileRule(iter.Label(), iter.Value())
		if loadErr != nil {
			errs = append(errs, loadErr)
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Rules = append(result.Rules, r)
	}
	sort.Slice(result.Rules, func(i, j int) bool { return result.Rules[i].ID < result.Rules[j].ID })

	if len(result.Rules) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no rules found"})
	}
	return result, errs
}

func compileRule(id string, v cue.Value) (ir.Rule, *LoadError) {
	var def ruleDef
	if err := v.Decode(&def); err != nil {
		return ir.Rule{}, &LoadError{Code: ErrCodeRuleField, Message: fmt.Sprintf("rule.%s: %v", id, err), Pos: errorPos(err, v)}
	}
	if def.FamilyID == "" {
		return ir.Rule{}, fieldError(id, "family_id", "is required", v)
	}
	if def.Filter == "" {
		return ir.Rule{}, fieldError(id, "filter", "is required", v)
	}
	node, err := filter.Parse(def.Filter)
	if err != nil {
		return ir.Rule{}, fieldError(id, "filter", err.Error(), v)
	}
	mode := ir.ScopeMode(def.ScopeMode)
	if !mode.Valid() {
		return ir.Rule{}, fieldError(id, "scope_mode", fmt.Sprintf("unknown scope mode %q", def.ScopeMode), v)
	}
	return ir.Rule{
		ID:              id,
		FamilyID:        def.FamilyID,
		OntologyNodeID:  def.OntologyNodeID,
		FilterDSL:       filter.Render(node),
		ArticleConcepts: def.ArticleConcepts,
		ScopeMode:       mode,
		ParentFamilyID:  def.ParentFamilyID,
		ParentRuleID:    def.ParentRuleID,
		ParentRunID:     def.ParentRunID,
	}, nil
}

func fieldError(id, field, msg string, v cue.Value) *LoadError {
	pos := v.Pos()
	if fv := v.LookupPath(cue.ParsePath(field)); fv.Exists() {
		pos = fv.Pos()
	}
	return &LoadError{Code: ErrCodeRuleField, Message: fmt.Sprintf("rule.%s.%s %s", id, field, msg), Pos: pos}
}

func errorPos(err error, v cue.Value) token.Pos {
	if p := errors.Positions(err); len(p) > 0 {
		return p[0]
	}
	return v.Pos()
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
