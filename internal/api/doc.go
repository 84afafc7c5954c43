// Package api exposes the queue manager over HTTP. Routes are served by
// github.com/go-chi/chi/v5 and errors are written as
// {"error":{"code","message"}} JSON bodies.
package api
