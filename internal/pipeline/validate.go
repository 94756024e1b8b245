package pipeline

import (
	"context"
	"fmt"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"

	eventbus "github.com/hanpama/querycore/internal/eventbus"
	events "github.com/hanpama/querycore/internal/events"
	language "github.com/hanpama/querycore/internal/language"
	"github.com/hanpama/querycore/internal/report"
	"github.com/hanpama/querycore/internal/rewrite"
	schema "github.com/hanpama/querycore/internal/schema"
)

// ValidationResult is the outcome of validating one document.
type ValidationResult struct {
	Errors language.ErrorList
}

func (r *ValidationResult) IsValid() bool { return len(r.Errors) == 0 }

// DocumentValidator checks documents against a schema.
//
// HasDynamicRules reports rules whose outcome depends on per request state;
// documents are then validated on every request even when a result is
// already attached. alreadyValidated tells the validator a previous result
// exists. Validators may propose a transport status through contextData
// under HTTPStatusCodeKey.
type DocumentValidator interface {
	HasDynamicRules() bool
	Validate(ctx context.Context, s *schema.Schema, doc *language.QueryDocument, documentID string,
		contextData map[string]any, alreadyValidated bool) (*ValidationResult, error)
}

// ValidationGate validates the attached document. A document that fails
// ends the request with an error result marked under ValidationErrorsKey
// and each of its errors is reported to sink; a valid one is passed on
// unchanged. Validation runs when no result is attached yet or the
// validator has dynamic rules. A nil sink discards.
func ValidationGate(v DocumentValidator, sink report.Sink) Middleware {
	if sink == nil {
		sink = report.Discard
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, rc *RequestContext) error {
			if rc.Document == nil || rc.DocumentID == "" {
				rc.Result = ErrorResult(language.ErrorList{{
					Message:    ErrStateInvalidForValidation.Error(),
					Extensions: map[string]any{"code": "STATE_INVALID_FOR_VALIDATION"},
				}}, nil)
				return ErrStateInvalidForValidation
			}

			if rc.ValidationResult == nil || v.HasDynamicRules() {
				res, err := v.Validate(ctx, rc.Schema, rc.Document, rc.DocumentID, rc.ContextData, rc.ValidationResult != nil)
				if err != nil {
					return err
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				rc.ValidationResult = res

				if !res.IsValid() {
					data := map[string]any{ValidationErrorsKey: true}
					if code, ok := rc.ContextData[HTTPStatusCodeKey]; ok {
						data[HTTPStatusCodeKey] = code
					}
					rc.Result = ErrorResult(res.Errors, data)

					errs := make([]error, len(res.Errors))
					for i, e := range res.Errors {
						errs[i] = e
						sink.Report(report.FromError(e))
					}
					eventbus.Publish(ctx, events.ValidationFailed{DocumentID: rc.DocumentID, Errors: errs})
					return nil
				}
			}
			return next(ctx, rc)
		}
	}
}

// DynamicRule is a validation rule evaluated on every request.
type DynamicRule func(ctx context.Context, doc *language.QueryDocument, contextData map[string]any) language.ErrorList

// MaxDepth rejects documents nesting fields deeper than limit and proposes
// status 400.
func MaxDepth(limit int) DynamicRule {
	return func(_ context.Context, doc *language.QueryDocument, contextData map[string]any) language.ErrorList {
		depth, err := rewrite.SelectionDepth(doc)
		if err != nil {
			return language.ErrorList{{Message: err.Error()}}
		}
		if depth <= limit {
			return nil
		}
		contextData[HTTPStatusCodeKey] = http.StatusBadRequest
		return language.ErrorList{report.Diagnostic{
			Code:    report.CodeValidationFailed,
			Message: fmt.Sprintf("Selection depth %d exceeds the limit of %d.", depth, limit),
		}.ToError()}
	}
}

// GQLValidator runs the standard GraphQL validation rules followed by its
// dynamic rules.
type GQLValidator struct {
	Rules []DynamicRule
}

func (v GQLValidator) HasDynamicRules() bool { return len(v.Rules) > 0 }

func (v GQLValidator) Validate(ctx context.Context, s *schema.Schema, doc *language.QueryDocument, _ string,
	contextData map[string]any, _ bool) (*ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.AST == nil {
		return nil, fmt.Errorf("validate: schema has no definition to validate against")
	}
	res := &ValidationResult{Errors: language.Validate(s.AST, doc)}
	if !res.IsValid() {
		return res, nil
	}
	for _, rule := range v.Rules {
		res.Errors = append(res.Errors, rule(ctx, doc, contextData)...)
	}
	return res, nil
}

// CachingValidator remembers the IDs of documents found valid and skips the
// wrapped validator for them. With dynamic rules every call is forwarded.
type CachingValidator struct {
	next  DocumentValidator
	valid *lru.Cache[string, struct{}]
}

func NewCachingValidator(next DocumentValidator, size int) (*CachingValidator, error) {
	valid, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &CachingValidator{next: next, valid: valid}, nil
}

func (v *CachingValidator) HasDynamicRules() bool { return v.next.HasDynamicRules() }

func (v *CachingValidator) Validate(ctx context.Context, s *schema.Schema, doc *language.QueryDocument, documentID string,
	contextData map[string]any, alreadyValidated bool) (*ValidationResult, error) {
	dynamic := v.next.HasDynamicRules()
	if !dynamic && v.valid.Contains(documentID) {
		return &ValidationResult{}, nil
	}
	res, err := v.next.Validate(ctx, s, doc, documentID, contextData, alreadyValidated)
	if err != nil {
		return nil, err
	}
	if !dynamic && res.IsValid() {
		v.valid.Add(documentID, struct{}{})
	}
	return res, nil
}
