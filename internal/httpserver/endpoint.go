package httpserver

import "net/http"

// route binds a handler to a method and chi path pattern.
type route struct {
	Method  string
	Path    string
	Handler http.Handler
}

// endpoint is a named group of routes registered together.
type endpoint interface {
	Name() string
	Routes() []route
}

type endpointFunc struct {
	name   string
	routes []route
}

func (e endpointFunc) Name() string    { return e.name }
func (e endpointFunc) Routes() []route { return e.routes }
