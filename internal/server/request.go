package server

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/hanpama/querycore/internal/pipeline"
)

// requestError is a problem with the HTTP request itself. It is answered
// before any operation runs.
type requestError struct {
	status  int
	message string
}

func badRequest(message string) *requestError {
	return &requestError{status: http.StatusBadRequest, message: message}
}

// decodeRequest reads one operation, or a batch when a POST body is a JSON
// array.
func decodeRequest(r *http.Request, maxBody int64) (pipeline.Request, []pipeline.Request, *requestError) {
	if r.Method == http.MethodGet {
		req, err := fromQueryString(r.URL.Query())
		return req, nil, err
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			return pipeline.Request{}, nil, badRequest("unsupported Content-Type")
		}
	}

	body, err := readBody(r, maxBody)
	if err != nil {
		return pipeline.Request{}, nil, err
	}
	if len(body) > 0 && body[0] == '[' {
		var batch []pipeline.Request
		if json.Unmarshal(body, &batch) != nil {
			return pipeline.Request{}, nil, badRequest("invalid JSON")
		}
		if len(batch) == 0 {
			return pipeline.Request{}, nil, badRequest("empty batch")
		}
		return pipeline.Request{}, batch, nil
	}
	var req pipeline.Request
	if json.Unmarshal(body, &req) != nil {
		return pipeline.Request{}, nil, badRequest("invalid JSON")
	}
	if req.Query == "" {
		return pipeline.Request{}, nil, badRequest("missing 'query'")
	}
	return req, nil, nil
}

func fromQueryString(q url.Values) (pipeline.Request, *requestError) {
	req := pipeline.Request{
		Query:         q.Get("query"),
		OperationName: q.Get("operationName"),
		Variables:     map[string]any{},
	}
	if req.Query == "" {
		return req, badRequest("missing 'query'")
	}
	if v := q.Get("variables"); v != "" && json.Unmarshal([]byte(v), &req.Variables) != nil {
		return req, badRequest("invalid 'variables' JSON")
	}
	return req, nil
}

func readBody(r *http.Request, maxBody int64) ([]byte, *requestError) {
	defer r.Body.Close()
	src := io.Reader(r.Body)
	if maxBody > 0 {
		src = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(src)
	if err != nil {
		return nil, badRequest("failed to read body")
	}
	if maxBody > 0 && int64(len(body)) > maxBody {
		return nil, &requestError{status: http.StatusRequestEntityTooLarge, message: "body too large"}
	}
	return body, nil
}
