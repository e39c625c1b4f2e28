package gwshare

import (
	"context"
	"errors"
	"net"
	"net/http"
)

//HTTPServer extends net/http Server and
//adds graceful shutdowns
type HTTPServer struct {
	ShutdownHelper
	*http.Server
	listener net.Listener
}

//NewHTTPServer creates a new HTTPServer
func NewHTTPServer(logger Logger) *HTTPServer {
	h := &HTTPServer{
		Server: &http.Server{},
	}
	h.InitShutdownHelper(logger, h)
	return h
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
func (h *HTTPServer) HandleOnceShutdown(completionErr error) error {
	h.DLogf("HandleOnceShutdown")
	var err error
	if h.listener != nil {
		err = h.Server.Close()
		if err != nil {
			h.DLogf("HTTPserver: close failed, ignoring: %s", err)
		}
	}
	if completionErr == nil {
		completionErr = err
	}
	return completionErr
}

// Start listens on addr and serves handler in the background. The server
// stops when ctx is done or Shutdown is called.
func (h *HTTPServer) Start(ctx context.Context, addr string, handler http.Handler) error {
	return h.DoOnceActivate(
		func() error {
			h.ShutdownOnContext(ctx)

			l, err := net.Listen("tcp", addr)
			if err != nil {
				return h.DLogErrorf("Listen failed: %s", err)
			}
			h.Handler = handler
			h.Lock.Lock()
			h.listener = l
			h.Lock.Unlock()

			go func() {
				err := h.Serve(l)
				if errors.Is(err, http.ErrServerClosed) {
					err = nil
				}
				h.Shutdown(err)
			}()

			return nil
		},
		true,
	)
}

// ListenAndServe runs the HTTP server on the given bind address, invoking
// the provided handler for each request. It returns after the server has
// shut down, either because ctx was cancelled or Shutdown was called.
func (h *HTTPServer) ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	err := h.Start(ctx, addr, handler)
	if err == nil {
		err = h.WaitShutdown()
	}
	return err
}

// Addr returns the bound listen address, or nil before Start
func (h *HTTPServer) Addr() net.Addr {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Shutdown completely shuts down the server, then returns the final completion code
func (h *HTTPServer) Shutdown(completionError error) error {
	return h.ShutdownHelper.Shutdown(completionError)
}

// Close completely shuts down the server, then returns the final completion code
func (h *HTTPServer) Close() error {
	return h.ShutdownHelper.Close()
}
