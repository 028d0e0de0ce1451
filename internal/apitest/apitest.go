// Package apitest provides an in-memory transport.Requester for service
// tests.
package apitest

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/Keksclan/dishsync/errs"
	"github.com/Keksclan/dishsync/transport"
)

// HandlerFunc answers one route. body is the value passed to Request.
type HandlerFunc func(body any) ([]byte, error)

// API routes "METHOD path" to a handler and records every call. Unknown
// routes answer 404.
type API struct {
	mu     sync.Mutex
	routes map[string]HandlerFunc
	calls  []string
}

var _ transport.Requester = (*API)(nil)

// New returns an API with no routes.
func New() *API {
	return &API{routes: make(map[string]HandlerFunc)}
}

// Handle registers fn for route, replacing any previous handler.
func (a *API) Handle(route string, fn HandlerFunc) {
	a.mu.Lock()
	a.routes[route] = fn
	a.mu.Unlock()
}

// Respond makes route answer with v encoded as JSON.
func (a *API) Respond(route string, v any) {
	a.Handle(route, func(any) ([]byte, error) { return json.Marshal(v) })
}

// Fail makes route answer with an HTTP error status.
func (a *API) Fail(route string, status int) {
	a.Handle(route, func(any) ([]byte, error) {
		return nil, &errs.TransportError{Status: status, Message: "injected"}
	})
}

func (a *API) Request(_ context.Context, method, path string, body any) ([]byte, error) {
	route := method + " " + path
	a.mu.Lock()
	a.calls = append(a.calls, route)
	fn, ok := a.routes[route]
	a.mu.Unlock()
	if !ok {
		return nil, &errs.TransportError{Status: http.StatusNotFound, Message: "no route " + route}
	}
	return fn(body)
}

// Count returns how many calls started with prefix.
func (a *API) Count(prefix string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Calls returns every recorded route in call order.
func (a *API) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.calls))
	copy(out, a.calls)
	return out
}
