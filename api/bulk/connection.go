package bulk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
)

// DefaultAPIVersion is the default Salesforce API version.
const DefaultAPIVersion = "62.0"

// sessionHeader carries the session id on every Bulk API request.
const sessionHeader = "X-SFDC-Session"

// Connection is the authenticated transport the bulk jobs talk through.
// It issues requests against <instance>/services/async/<version>/ and returns
// raw response bodies.
type Connection struct {
	httpClient  *http.Client
	session     oauth2.TokenSource
	logger      *slog.Logger
	instanceURL string
	apiVersion  string
	baseURL     string
	userAgent   string

	gets  atomic.Int64
	posts atomic.Int64
}

// ConnectionConfig contains configuration for creating a new Connection.
type ConnectionConfig struct {
	// InstanceURL is the Salesforce instance URL
	InstanceURL string

	// HTTPClient performs the requests
	HTTPClient *http.Client

	// APIVersion is the API version to use (optional, defaults to DefaultAPIVersion).
	// A leading "v" is accepted.
	APIVersion string

	// Session supplies the access token sent as the session id (optional).
	Session oauth2.TokenSource

	// Logger receives request-level debug logs (optional).
	Logger *slog.Logger

	// UserAgent is sent on every request when set.
	UserAgent string
}

// NewConnection creates a new Bulk API connection.
func NewConnection(cfg ConnectionConfig) (*Connection, error) {
	if cfg.InstanceURL == "" {
		return nil, ErrInstanceURLRequired
	}
	if cfg.HTTPClient == nil {
		return nil, ErrHTTPClientRequired
	}

	instanceURL := normalizeURL(cfg.InstanceURL)
	apiVersion := strings.TrimPrefix(cfg.APIVersion, "v")
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Connection{
		httpClient:  cfg.HTTPClient,
		session:     cfg.Session,
		logger:      logger,
		instanceURL: instanceURL,
		apiVersion:  apiVersion,
		baseURL:     fmt.Sprintf("%s/services/async/%s/", instanceURL, apiVersion),
		userAgent:   cfg.UserAgent,
	}, nil
}

// normalizeURL ensures the URL has proper format
func normalizeURL(urlStr string) string {
	urlStr = strings.TrimSpace(urlStr)

	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		urlStr = "https://" + urlStr
	}

	return strings.TrimSuffix(urlStr, "/")
}

// InstanceURL returns the normalized instance URL.
func (c *Connection) InstanceURL() string {
	return c.instanceURL
}

// APIVersion returns the API version requests are issued against.
func (c *Connection) APIVersion() string {
	return c.apiVersion
}

// Get performs a GET request to the specified path.
func (c *Connection) Get(ctx context.Context, path string, headers http.Header) ([]byte, error) {
	c.gets.Add(1)
	return c.doRequest(ctx, http.MethodGet, path, nil, headers)
}

// Post performs a POST request to the specified path.
func (c *Connection) Post(ctx context.Context, path string, body []byte, headers http.Header) ([]byte, error) {
	c.posts.Add(1)
	return c.doRequest(ctx, http.MethodPost, path, body, headers)
}

// Open performs a GET request and returns a StreamReader over the response
// body. The caller must Close it.
func (c *Connection) Open(ctx context.Context, path string, headers http.Header) (*StreamReader, error) {
	c.gets.Add(1)
	resp, err := c.send(ctx, http.MethodGet, path, nil, headers)
	if err != nil {
		_, err = checkResponse(nil, err)
		return nil, err
	}
	return NewStreamReader(resp.Body), nil
}

// Stream opens path and hands the reader to fn. The reader is closed when fn
// returns, whatever the outcome.
func (c *Connection) Stream(ctx context.Context, path string, headers http.Header, fn func(*StreamReader) error) error {
	r, err := c.Open(ctx, path, headers)
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(r)
}

// pingJobID is a well-formed job id that no org will ever issue.
const pingJobID = "750000000000000AAA"

// Ping checks that the service accepts the session. It asks for a job that
// cannot exist; any answer other than an authentication failure means the
// session works.
func (c *Connection) Ping(ctx context.Context) error {
	_, err := checkResponse(c.Get(ctx, "job/"+pingJobID, nil))
	if err == nil || IsUnauthorized(err) {
		return err
	}
	var rerr *RemoteServiceError
	if errors.As(err, &rerr) || IsNotFound(err) || errors.Is(err, ErrBadRequest) {
		return nil
	}
	return err
}

// Counters returns the number of GET and POST requests issued so far.
func (c *Connection) Counters() (gets, posts int64) {
	return c.gets.Load(), c.posts.Load()
}

func (c *Connection) doRequest(ctx context.Context, method, path string, body []byte, headers http.Header) ([]byte, error) {
	resp, err := c.send(ctx, method, path, body, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, URL: resp.Request.URL.String(), Err: fmt.Errorf("failed to read response: %w", err)}
	}
	return respBody, nil
}

// send issues the request. On success the caller owns resp.Body; error
// statuses are turned into a TransportError with the body already read.
func (c *Connection) send(ctx context.Context, method, path string, body []byte, headers http.Header) (*http.Response, error) {
	fullURL := c.buildURL(path)

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.session != nil {
		tok, err := c.session.Token()
		if err != nil {
			return nil, &TransportError{Method: method, URL: fullURL, Err: fmt.Errorf("failed to get session token: %w", err)}
		}
		req.Header.Set(sessionHeader, tok.AccessToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.DebugContext(ctx, "bulk request failed", "method", method, "path", path, "error", err)
		return nil, &TransportError{Method: method, URL: fullURL, Err: err}
	}
	c.logger.DebugContext(ctx, "bulk request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &TransportError{Method: method, URL: fullURL, StatusCode: resp.StatusCode, Body: respBody}
	}

	return resp, nil
}

func (c *Connection) buildURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + strings.TrimPrefix(path, "/")
}
