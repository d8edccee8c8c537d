// Package server exposes bucket execution over HTTP: one POST endpoint that
// runs the planfile loaded at startup against caller-provided inputs.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	boundary "github.com/hanpama/bucketflow/internal/boundary"
	eventbus "github.com/hanpama/bucketflow/internal/eventbus"
	events "github.com/hanpama/bucketflow/internal/events"
	executor "github.com/hanpama/bucketflow/internal/executor"
	planfile "github.com/hanpama/bucketflow/internal/planfile"
	reqid "github.com/hanpama/bucketflow/internal/reqid"
)

// Handler is an http.Handler executing one planfile per request.
type Handler struct {
	plan *planfile.Plan
	opt  Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates an execution handler over a loaded planfile.
func New(p *planfile.Plan, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{plan: p, opt: op}
}

// ExecuteRequest is the POST body: the bucket size (planfile default when
// omitted) and one column per declared planfile input.
type ExecuteRequest struct {
	Size   *int             `json:"size,omitempty"`
	Inputs map[string][]any `json:"inputs,omitempty"`
}

type errorBody struct {
	Errors []errorEntry `json:"errors"`
}

type errorEntry struct {
	Message string `json:"message"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, _ = reqid.NewContext(ctx)
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}
	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		h.writeError(w, status, "method not allowed")
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	req, msg := parseRequest(r, h.opt.MaxBodyBytes)
	if msg != "" {
		status = http.StatusBadRequest
		if msg == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		h.writeError(w, status, msg)
		return
	}

	res, err := h.execute(ctx, req)
	if err != nil {
		status = http.StatusUnprocessableEntity
		h.writeError(w, status, err.Error())
		return
	}
	h.writeJSON(w, status, res)
}

func (h *Handler) execute(ctx context.Context, req ExecuteRequest) (*boundary.Result, error) {
	size := h.plan.Size
	if req.Size != nil {
		size = *req.Size
	}
	seed, err := h.plan.Seed(req.Inputs)
	if err != nil {
		return nil, err
	}
	b, err := executor.NewBucket(h.plan.Layer, size, seed)
	if err != nil {
		return nil, err
	}
	if err := executor.ExecuteBucket(ctx, b, &executor.RequestContext{Events: eventbus.Default()}); err != nil {
		return nil, err
	}
	return boundary.Collect(b, h.plan.Outputs)
}

func parseRequest(r *http.Request, maxBody int64) (ExecuteRequest, string) {
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return ExecuteRequest{}, "failed to read body"
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return ExecuteRequest{}, errBodyTooLargeMessage
	}

	var req ExecuteRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return ExecuteRequest{}, "invalid JSON"
		}
	}
	return req, ""
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorBody{Errors: []errorEntry{{Message: msg}}})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if h.opt.Pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
