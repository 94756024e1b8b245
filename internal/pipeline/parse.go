package pipeline

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	eventbus "github.com/hanpama/querycore/internal/eventbus"
	events "github.com/hanpama/querycore/internal/events"
	language "github.com/hanpama/querycore/internal/language"
)

// DocumentID identifies query text. Equal text yields equal IDs.
func DocumentID(query string) string {
	return strconv.FormatUint(xxhash.Sum64String(query), 16)
}

// ParseStage attaches the parsed document and its ID. Documents are kept in
// an LRU cache of cacheSize entries keyed by ID; zero disables caching.
// Syntax errors end the request with an error result.
func ParseStage(cacheSize int) (Middleware, error) {
	var cache *lru.Cache[string, *language.QueryDocument]
	if cacheSize > 0 {
		var err error
		if cache, err = lru.New[string, *language.QueryDocument](cacheSize); err != nil {
			return nil, err
		}
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, rc *RequestContext) error {
			if rc.Document != nil {
				if rc.DocumentID == "" {
					rc.DocumentID = DocumentID(language.PrintQuery(rc.Document))
				}
				return next(ctx, rc)
			}

			start := time.Now()
			id := DocumentID(rc.Request.Query)
			if cache != nil {
				if doc, ok := cache.Get(id); ok {
					rc.Document, rc.DocumentID = doc, id
					eventbus.Publish(ctx, events.DocumentParsed{DocumentID: id, Cached: true, Duration: time.Since(start)})
					return next(ctx, rc)
				}
			}

			doc, err := language.ParseQuery(rc.Request.Query)
			if err != nil {
				var gqlErr *language.Error
				if !errors.As(err, &gqlErr) {
					gqlErr = &language.Error{Message: err.Error()}
				}
				rc.Result = ErrorResult(language.ErrorList{gqlErr}, nil)
				return nil
			}
			if cache != nil {
				cache.Add(id, doc)
			}
			rc.Document, rc.DocumentID = doc, id
			eventbus.Publish(ctx, events.DocumentParsed{DocumentID: id, Duration: time.Since(start)})
			return next(ctx, rc)
		}
	}, nil
}
