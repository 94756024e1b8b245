package pipeline

import (
	"context"
	"time"

	eventbus "github.com/hanpama/querycore/internal/eventbus"
	events "github.com/hanpama/querycore/internal/events"
	executor "github.com/hanpama/querycore/internal/executor"
	language "github.com/hanpama/querycore/internal/language"
	reqid "github.com/hanpama/querycore/internal/reqid"
)

// ExecuteStage runs the validated document with exec. It is the last
// stage; next is called only after a result is set.
func ExecuteStage(exec *executor.Executor) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, rc *RequestContext) error {
			if rc.Document == nil {
				return ErrStateInvalidForValidation
			}
			rid, _ := reqid.FromContext(ctx)
			op := events.Operation{RequestID: rid, DocumentID: rc.DocumentID, Name: rc.Request.OperationName}
			if def := rc.Operation(); def != nil {
				op.Type = string(def.Operation)
			}

			start := time.Now()
			eventbus.Publish(ctx, events.OperationStarted{Operation: op})
			res := exec.ExecuteRequest(ctx, rc.Document, rc.Request.OperationName, rc.Request.Variables, rc.RootValue)
			rc.Result = FromExecution(res)

			finished := events.OperationFinished{Operation: op, Duration: time.Since(start)}
			for _, e := range rc.Result.Errors {
				finished.Errors = append(finished.Errors, e)
			}
			eventbus.Publish(ctx, finished)
			return next(ctx, rc)
		}
	}
}

// FromExecution converts an executor result.
func FromExecution(res *executor.ExecutionResult) *Result {
	out := &Result{Data: res.Data}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, &language.Error{
			Message:    e.Message,
			Path:       toASTPath(e.Path),
			Extensions: e.Extensions,
		})
	}
	return out
}

func toASTPath(p executor.Path) language.Path {
	if len(p) == 0 {
		return nil
	}
	out := make(language.Path, 0, len(p))
	for _, elem := range p {
		switch v := elem.(type) {
		case string:
			out = append(out, language.PathName(v))
		case int:
			out = append(out, language.PathIndex(v))
		}
	}
	return out
}
