package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/store"
)

// PreviewParams are the params of a preview job: a stored rule or an ad-hoc
// heading filter on a scope.
type PreviewParams struct {
	RuleID          string          `json:"rule_id,omitempty" validate:"required_without=ScopeID"`
	ScopeID         string          `json:"scope_id,omitempty" validate:"required_without=RuleID"`
	HeadingFilter   json.RawMessage `json:"heading_filter_ast,omitempty" validate:"required_with=ScopeID"`
	ArticleConcepts []string        `json:"article_concepts,omitempty" validate:"dive,required"`
	DocIDs          []string        `json:"doc_ids,omitempty" validate:"dive,required"`
	MaxDocs         int             `json:"max_docs,omitempty" validate:"gte=0"`
	Lineage         ir.Lineage      `json:"lineage"`
}

// ApplyParams are the params of an apply job. AcceptTiers, when set, is
// applied to the preview's verdicts first.
type ApplyParams struct {
	PreviewID        string    `json:"preview_id" validate:"required"`
	CandidateSetHash string    `json:"candidate_set_hash,omitempty" validate:"omitempty,hexadecimal,len=64"`
	AcceptTiers      []ir.Tier `json:"accept_tiers,omitempty" validate:"dive,oneof=high medium low"`
}

// CanaryParams are the params of a canary job.
type CanaryParams struct {
	RuleID     string   `json:"rule_id" validate:"required"`
	SampleSize int      `json:"sample_size,omitempty" validate:"gte=0,lte=10000"`
	DocIDs     []string `json:"doc_ids,omitempty" validate:"dive,required"`
}

// BatchRunParams are the params of a batch_run job.
type BatchRunParams struct {
	RuleIDs []string   `json:"rule_ids" validate:"required,min=1,dive,required"`
	MinTier ir.Tier    `json:"min_tier,omitempty" validate:"omitempty,oneof=high medium low"`
	DocIDs  []string   `json:"doc_ids,omitempty" validate:"dive,required"`
	Lineage ir.Lineage `json:"lineage"`
}

// EmbeddingsParams are the params of an embeddings_compute job. Sections
// whose stored embedding has the same content hash are skipped unless Force
// is set.
type EmbeddingsParams struct {
	DocIDs    []string `json:"doc_ids,omitempty" validate:"dive,required"`
	ChunkSize int      `json:"chunk_size,omitempty" validate:"gte=0,lte=2048"`
	Force     bool     `json:"force,omitempty"`
}

// DriftParams are the params of a check_drift job.
type DriftParams struct {
	ScopeID string `json:"scope_id" validate:"required"`
}

// ExportParams are the params of an export job.
type ExportParams struct {
	ScopeID     string          `json:"scope_id,omitempty"`
	Statuses    []ir.LinkStatus `json:"statuses,omitempty" validate:"dive,oneof=active pending_review unlinked"`
	Format      string          `json:"format" validate:"required,oneof=csv jsonl"`
	Destination string          `json:"destination" validate:"required"`
}

// paramTypes maps each job type to a constructor for its params.
var paramTypes = map[ir.JobType]func() any{
	ir.JobPreview:           func() any { return &PreviewParams{} },
	ir.JobApply:             func() any { return &ApplyParams{} },
	ir.JobCanary:            func() any { return &CanaryParams{} },
	ir.JobBatchRun:          func() any { return &BatchRunParams{} },
	ir.JobEmbeddingsCompute: func() any { return &EmbeddingsParams{} },
	ir.JobCheckDrift:        func() any { return &DriftParams{} },
	ir.JobExport:            func() any { return &ExportParams{} },
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ParamsError reports job params that failed to decode or validate.
type ParamsError struct {
	Type     ir.JobType
	Problems []string
}

func (e *ParamsError) Error() string {
	return fmt.Sprintf("invalid %s params: %s", e.Type, strings.Join(e.Problems, "; "))
}

// IsParamsError reports whether err is a *ParamsError.
func IsParamsError(err error) bool {
	var pe *ParamsError
	return errors.As(err, &pe)
}

// DecodeParams decodes and validates raw params for jobType. The returned
// value is a pointer to the type's params struct.
func DecodeParams(jobType ir.JobType, raw json.RawMessage) (any, error) {
	newParams, ok := paramTypes[jobType]
	if !ok {
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}
	p := newParams()
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, &ParamsError{Type: jobType, Problems: []string{err.Error()}}
	}
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, err
		}
		problems := make([]string, len(verrs))
		for i, fe := range verrs {
			problems[i] = fmt.Sprintf("%s failed %s", fieldPath(fe), fe.Tag())
		}
		slices.Sort(problems)
		return nil, &ParamsError{Type: jobType, Problems: problems}
	}
	return p, nil
}

// fieldPath strips the struct name from a validator namespace.
func fieldPath(fe validator.FieldError) string {
	_, path, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Field()
	}
	return path
}

// Params decodes job params into T, which must match the job type.
func Params[T any](job ir.Job) (*T, error) {
	p, err := DecodeParams(job.Type, job.Params)
	if err != nil {
		return nil, err
	}
	typed, ok := p.(*T)
	if !ok {
		return nil, fmt.Errorf("job %s: params are %T, not %T", job.ID, p, new(T))
	}
	return typed, nil
}

// Submit validates req and enqueues it.
func Submit(ctx context.Context, st *store.Store, req ir.JobRequest) (ir.Job, bool, error) {
	if !req.Type.Valid() {
		return ir.Job{}, false, fmt.Errorf("unknown job type %q: %w", req.Type, store.ErrInvalidInput)
	}
	if _, err := DecodeParams(req.Type, req.Params); err != nil {
		return ir.Job{}, false, err
	}
	return st.SubmitJob(ctx, req)
}
