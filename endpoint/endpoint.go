// Package endpoint provides the typed handler layer the bridge's pages are built on.
//
// Each route is split into three phases:
//
//  1. Unmarshal: the EndpointHandler decodes query, form, header and cookie
//     values into a typed params struct using struct tags.
//  2. Endpoint: the EndpointFunc runs the workflow step and returns a Renderer.
//     It does not write the response body itself, though it may set cookies.
//  3. Render: the Renderer writes status, headers and body.
//
// Errors returned from phases 1 and 2 are mapped to an HTTP status through
// EndpointError and rendered by the handler's ErrorRenderer, so every failure
// reaches the browser as a terminal page with a specific status and message.
package endpoint

import (
	"errors"
	"io"
	"net/http"
)

// EndpointError is a client-visible error that maps directly to an HTTP status code.
type EndpointError struct {
	Status int
	// Message is a short, human-readable description suitable for an error page.
	Message string
	Cause   error
}

func (e *EndpointError) Error() string {
	if e == nil {
		return "endpoint: error: <nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *EndpointError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Error creates a new EndpointError.
func Error(status int, message string, err error) error {
	return newEndpointError(status, message, err)
}

func newEndpointError(status int, message string, err error) error {
	// Avoid double-wrapping.
	var ee *EndpointError
	if errors.As(err, &ee) {
		return err
	}
	return &EndpointError{Status: status, Message: message, Cause: err}
}

// StatusOf reports the HTTP status and public message for err.
// Errors that are not EndpointErrors are reported as 500 with a generic message,
// so upstream error text never reaches the client.
func StatusOf(err error) (int, string) {
	var ee *EndpointError
	if errors.As(err, &ee) && ee != nil {
		status := ee.Status
		if status < 100 {
			status = http.StatusInternalServerError
		}
		msg := ee.Message
		if msg == "" {
			msg = http.StatusText(status)
		}
		return status, msg
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// Renderers are values that write a response into an http.ResponseWriter.
//
// Renderers MUST call w.WriteHeader() and may set Content-Type before doing so.
// A non-nil error means the response could not be written.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// Processor is middleware-style logic that runs before the EndpointFunc.
//
// Processors MUST call next(...) unless they intend to short-circuit, and
// MUST NOT write the status or body.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error

func (f ProcessorFunc) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	return f(w, r, next)
}

// ErrorRenderer builds the response for a failed request.
type ErrorRenderer func(status int, message string) Renderer

// EndpointFunc runs one request's business logic and returns the Renderer for
// its response. Parameter decoding is done by the EndpointHandler.
type EndpointFunc[P any] func(w http.ResponseWriter, r *http.Request, params P) (Renderer, error)

// EndpointHandler is the http.Handler wrapper for an EndpointFunc.
//
// It runs the processors, decodes params, calls Endpoint and renders the result.
// When OnError is nil, failures are written with http.Error.
type EndpointHandler[P any] struct {
	Endpoint   EndpointFunc[P]
	Processors []Processor
	OnError    ErrorRenderer
}

// Handler constructs an EndpointHandler.
//
// This helper exists to enable type inference for the params type P.
func Handler[P any](fn EndpointFunc[P], processors ...Processor) *EndpointHandler[P] {
	return &EndpointHandler[P]{
		Endpoint:   fn,
		Processors: processors,
	}
}

// ServeHTTP implements http.Handler.
func (h *EndpointHandler[P]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Endpoint == nil {
		http.Error(w, "endpoint: nil EndpointFunc", http.StatusInternalServerError)
		return
	}

	var run func(i int, w2 http.ResponseWriter, r2 *http.Request) error
	run = func(i int, w2 http.ResponseWriter, r2 *http.Request) error {
		if i < len(h.Processors) {
			if h.Processors[i] == nil {
				return errors.New("endpoint: nil processor")
			}
			return h.Processors[i].Process(w2, r2, func(w3 http.ResponseWriter, r3 *http.Request) error {
				return run(i+1, w3, r3)
			})
		}

		var params P
		if err := Unmarshal(r2, &params); err != nil {
			return err
		}
		renderer, err := h.Endpoint(w2, r2, params)
		if err != nil {
			return err
		}
		if renderer == nil {
			return errors.New("endpoint: nil renderer")
		}
		if c, ok := renderer.(io.Closer); ok {
			defer c.Close()
		}
		return renderer.Render(w2, r2)
	}

	if err := run(0, w, r); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *EndpointHandler[P]) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := StatusOf(err)
	if h.OnError != nil {
		if rerr := h.OnError(status, message).Render(w, r); rerr == nil {
			return
		}
	}
	http.Error(w, message, status)
}
