package auth

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"
)

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><title>sfbulk login</title></head>
<body>
{{if .}}<h1>Login failed</h1>
<p>{{.}}</p>
{{else}}<h1>Logged in</h1>
<p>sfbulk received the authorization. Return to the terminal.</p>
{{end}}</body>
</html>`))

type callbackResult struct {
	code string
	err  error
}

// Callback receives the OAuth redirect on localhost.
type Callback struct {
	flow   *Flow
	addr   net.Addr
	server *http.Server
	result chan callbackResult
	once   sync.Once
}

// ListenCallback serves the redirect URL on addr (":8080" in practice).
func (f *Flow) ListenCallback(addr string) (*Callback, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}

	c := &Callback{flow: f, addr: ln.Addr(), result: make(chan callbackResult, 1)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", c.handle)
	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.deliver(callbackResult{err: fmt.Errorf("callback server: %w", err)})
		}
	}()
	return c, nil
}

func (c *Callback) handle(w http.ResponseWriter, r *http.Request) {
	code, err := c.flow.codeFromQuery(r.URL.Query())
	if errors.Is(err, ErrStateMismatch) {
		// a stale tab from an earlier login; keep waiting
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	var msg string
	if err != nil {
		msg = err.Error()
	}
	_ = callbackPage.Execute(w, msg)
	c.deliver(callbackResult{code: code, err: err})
}

func (c *Callback) deliver(r callbackResult) {
	c.once.Do(func() { c.result <- r })
}

// Addr is the address the server listens on.
func (c *Callback) Addr() string { return c.addr.String() }

// Wait blocks until the redirect arrives or ctx ends.
func (c *Callback) Wait(ctx context.Context) (string, error) {
	select {
	case r := <-c.result:
		return r.code, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close shuts the server down, letting an in-flight response finish.
func (c *Callback) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.server.Shutdown(ctx)
}
