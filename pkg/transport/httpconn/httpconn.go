// Package httpconn implements the HTTP source and destination transports
// (SPEC_FULL.md C13), built on github.com/gin-gonic/gin the same way
// cmd/tarsy/main.go wires its router and health endpoint.
package httpconn

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler processes one inbound HTTP request body and returns the
// response body to write back, or an error to report as a 502.
type Handler func(ctx context.Context, body []byte) ([]byte, error)

// Source wraps a gin.Engine exposing a single POST endpoint that feeds
// inbound payloads to a Handler, mirroring how cmd/tarsy/main.go mounts
// its routes on a shared *gin.Engine.
type Source struct {
	Engine *gin.Engine

	srv *http.Server
	ln  net.Listener
}

// NewSource builds a Source listening on path (default "/", if empty) and
// forwarding request bodies to handler. ginMode is passed to gin.SetMode
// ("debug"/"release"/"test"), matching cmd/tarsy/main.go's GIN_MODE wiring.
func NewSource(path, ginMode string, handler Handler) *Source {
	if path == "" {
		path = "/"
	}
	gin.SetMode(ginModeOrDefault(ginMode))
	engine := gin.Default()
	engine.POST(path, func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		reply, err := handler(c.Request.Context(), body)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", reply)
	})
	return &Source{Engine: engine}
}

func ginModeOrDefault(mode string) string {
	if mode == "" {
		return gin.ReleaseMode
	}
	return mode
}

// Start binds addr (e.g. ":8081", or "host:0" for an ephemeral port) and
// runs the HTTP server in the background. Addr reports the bound address,
// which differs from addr when port 0 was requested.
func (s *Source) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpconn: listen on %s: %w", addr, err)
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.Engine}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			panic(fmt.Sprintf("httpconn: server on %s exited: %v", addr, err))
		}
	}()
	return nil
}

// Addr returns the server's bound network address.
func (s *Source) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Source) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Destination is a client-side HTTP destination transport: it posts a
// connector message body to a remote URL and returns the response body.
type Destination struct {
	URL    string
	Client *http.Client
}

// NewDestination constructs an HTTP destination transport with a bounded
// request timeout.
func NewDestination(url string, timeout time.Duration) *Destination {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Destination{URL: url, Client: &http.Client{Timeout: timeout}}
}

// Send posts body to the destination URL and returns the response body.
func (d *Destination) Send(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpconn: build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpconn: send to %s: %w", d.URL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpconn: read response from %s: %w", d.URL, err)
	}
	if resp.StatusCode >= 300 {
		return respBody, fmt.Errorf("httpconn: %s returned status %d", d.URL, resp.StatusCode)
	}
	return respBody, nil
}
