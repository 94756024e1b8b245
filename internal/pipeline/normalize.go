package pipeline

import (
	"context"

	language "github.com/hanpama/querycore/internal/language"
)

// Pass rewrites a document without mutating it.
type Pass func(doc *language.QueryDocument) (*language.QueryDocument, error)

// NormalizeStage runs passes over the attached document in order. A pass
// error is a pipeline fault.
func NormalizeStage(passes ...Pass) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, rc *RequestContext) error {
			if rc.Document == nil || len(passes) == 0 {
				return next(ctx, rc)
			}
			doc := rc.Document
			for _, pass := range passes {
				var err error
				if doc, err = pass(doc); err != nil {
					return err
				}
			}
			rc.Document = doc
			return next(ctx, rc)
		}
	}
}
