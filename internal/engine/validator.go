package engine

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/scrypster/memento-insights/internal/processor"
	"github.com/scrypster/memento-insights/pkg/types"
)

// minSummaryLength is the shortest summary, in characters, a validated insight may carry.
const minSummaryLength = 10

// Validator moves drafts from pending to validated or rejected.
//
// Rules are applied in a fixed order and the first failing rule decides the
// reason: missing required field, confidence below the minimum, summary too
// short, duplicate of an insight validated earlier in the same batch.
type Validator struct {
	minConfidence float64
	validate      *validator.Validate
}

// NewValidator creates a validator with the given confidence floor.
func NewValidator(minConfidence float64) *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{minConfidence: minConfidence, validate: v}
}

// Validate assigns a terminal status to every draft and returns the two groups
// in input order. Drafts already in a terminal state keep it.
func (v *Validator) Validate(drafts []*types.Insight) (validated, rejected []*types.Insight) {
	seen := make(map[string]bool, len(drafts))
	for _, in := range drafts {
		if in == nil {
			continue
		}
		switch in.ValidationStatus {
		case types.ValidationValidated:
			seen[in.Signature()] = true
			validated = append(validated, in)
			continue
		case types.ValidationRejected:
			rejected = append(rejected, in)
			continue
		}

		in.ConfidenceScore = processor.ClampConfidence(in.ConfidenceScore)
		if reason := v.check(in, seen); reason != "" {
			in.ValidationStatus = types.ValidationRejected
			in.RejectionReason = reason
			rejected = append(rejected, in)
			continue
		}
		in.ValidationStatus = types.ValidationValidated
		in.RejectionReason = ""
		seen[in.Signature()] = true
		validated = append(validated, in)
	}
	return validated, rejected
}

func (v *Validator) check(in *types.Insight, seen map[string]bool) string {
	if missing := v.missingFields(in); len(missing) > 0 {
		return "missing required field: " + strings.Join(missing, ", ")
	}
	if in.ConfidenceScore < v.minConfidence {
		return fmt.Sprintf("confidence %.2f below minimum %.2f", in.ConfidenceScore, v.minConfidence)
	}
	if utf8.RuneCountInString(strings.TrimSpace(in.Summary)) < minSummaryLength {
		return fmt.Sprintf("summary shorter than %d characters", minSummaryLength)
	}
	if seen[in.Signature()] {
		return "duplicate of an earlier insight in this batch"
	}
	return ""
}

// missingFields runs the struct-tag rules against a whitespace-trimmed probe
// and returns the json names of the failing fields, sorted.
func (v *Validator) missingFields(in *types.Insight) []string {
	probe := *in
	probe.InsightType = types.InsightType(strings.TrimSpace(string(in.InsightType)))
	probe.InsightCategory = strings.TrimSpace(in.InsightCategory)
	probe.Title = strings.TrimSpace(in.Title)
	probe.Summary = strings.TrimSpace(in.Summary)

	err := v.validate.Struct(&probe)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field())
	}
	sort.Strings(fields)
	return fields
}
