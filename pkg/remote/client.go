package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// Version is reported to the server in X-Parse-Client-Version.
const Version = "0.3.0"

// MaxBatchSize is the number of sub-requests the server accepts per /batch.
const MaxBatchSize = 40

const currentUserKey = "currentUser"

// Config holds the connection settings for a Client.
type Config struct {
	AppID     string
	RESTKey   string
	MasterKey string
	// ServerURL is the scheme and host, e.g. https://api.example.com.
	ServerURL string
	// MountPath is the API prefix on the server. Defaults to "parse".
	MountPath string
	// RevocableSessions asks the server for revocable session tokens on
	// sign up and log in.
	RevocableSessions bool
	// IdempotentRequests tags every write with a unique X-Parse-Request-Id.
	IdempotentRequests bool
	Timeout            time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithTransport replaces the default HTTP transport.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithStorage sets where session state (the current user) is kept.
func WithStorage(s Storage) Option {
	return func(c *Client) { c.storage = s }
}

// WithLogger sets the logger for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client talks to one backend application. It is safe for concurrent use;
// the records it returns are not.
type Client struct {
	cfg       Config
	baseURL   string
	mountPath string
	transport Transport
	storage   Storage
	logger    *slog.Logger

	mu          sync.Mutex
	currentUser *User
	userLoaded  bool

	defaults defaultACL
}

// New validates cfg and creates a client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.AppID == "" {
		return nil, fmt.Errorf("%w: application id required", ErrNotInitialized)
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("%w: server url required", ErrNotInitialized)
	}
	u, err := url.Parse(cfg.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: bad server url %q", ErrNotInitialized, cfg.ServerURL)
	}
	if cfg.MountPath == "" {
		cfg.MountPath = "parse"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	mount := strings.Trim(cfg.MountPath, "/")
	c := &Client{
		cfg:       cfg,
		baseURL:   strings.TrimRight(cfg.ServerURL, "/") + "/",
		mountPath: "/",
	}
	if mount != "" {
		c.baseURL += mount + "/"
		c.mountPath = "/" + mount + "/"
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = NewHTTPTransport(cfg.Timeout)
	}
	if c.storage == nil {
		c.storage = NewMemoryStorage()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

var defaultClient atomic.Pointer[Client]

// SetDefault installs c as the process-wide client returned by Default.
func SetDefault(c *Client) { defaultClient.Store(c) }

// Default returns the client installed with SetDefault, or nil.
func Default() *Client { return defaultClient.Load() }

func (c *Client) Config() Config { return c.cfg }

func (c *Client) Storage() Storage { return c.storage }

// apiURL is the absolute URL of an API path such as "classes/Post".
func (c *Client) apiURL(path string) string {
	return c.baseURL + strings.TrimLeft(path, "/")
}

// batchPath is the server-relative path used inside /batch sub-requests.
func (c *Client) batchPath(path string) string {
	return c.mountPath + strings.TrimLeft(path, "/")
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

type callOptions struct {
	useMasterKey bool
	sessionToken string
	revocable    bool
	includes     []string
}

func collectOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// UseMasterKey sends the master key instead of the REST key, when one is
// configured.
func UseMasterKey() CallOption {
	return func(o *callOptions) { o.useMasterKey = true }
}

// WithSessionToken authenticates the call as token instead of the current
// user.
func WithSessionToken(token string) CallOption {
	return func(o *callOptions) { o.sessionToken = token }
}

// Include fetches the records pointed to by keys along with the record.
func Include(keys ...string) CallOption {
	return func(o *callOptions) { o.includes = append(o.includes, keys...) }
}

func isWrite(method string) bool {
	return method == http.MethodPost || method == http.MethodPut
}

func (c *Client) headers(method, contentType string, o callOptions) http.Header {
	h := http.Header{}
	h.Set("X-Parse-Application-Id", c.cfg.AppID)
	h.Set("X-Parse-Client-Version", "go"+Version)

	token := o.sessionToken
	if token == "" {
		if u := c.CurrentUser(); u != nil {
			token = u.SessionToken()
		}
	}
	if token != "" {
		h.Set("X-Parse-Session-Token", token)
	}

	if o.useMasterKey && c.cfg.MasterKey != "" {
		h.Set("X-Parse-Master-Key", c.cfg.MasterKey)
	} else if c.cfg.RESTKey != "" {
		h.Set("X-Parse-REST-API-Key", c.cfg.RESTKey)
	}
	if o.revocable && c.cfg.RevocableSessions {
		h.Set("X-Parse-Revocable-Session", "1")
	}
	if isWrite(method) {
		if contentType == "" {
			contentType = "application/json"
		}
		h.Set("Content-Type", contentType)
		if c.cfg.IdempotentRequests {
			h.Set("X-Parse-Request-Id", ulid.Make().String())
		}
	}
	h["Expect"] = []string{""}
	return h
}

// do sends body as JSON and decodes the JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any, o callOptions) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	return c.doRaw(ctx, method, path, data, "", result, o)
}

// doQuery issues a GET with params in the query string.
func (c *Client) doQuery(ctx context.Context, path string, params url.Values, result any, o callOptions) error {
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return c.doRaw(ctx, http.MethodGet, path, nil, "", result, o)
}

func (c *Client) doRaw(ctx context.Context, method, path string, body []byte, contentType string, result any, o callOptions) error {
	req := &Request{
		Method: method,
		URL:    c.apiURL(path),
		Header: c.headers(method, contentType, o),
		Body:   body,
	}
	start := time.Now()
	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "err", err)
		return wrapTransportError(err)
	}
	c.logger.Debug("request", "method", method, "path", path,
		"status", resp.StatusCode, "elapsed", time.Since(start))

	if err := responseError(resp); err != nil {
		return err
	}
	if result != nil && len(resp.Body) > 0 {
		if err := decodeJSON(resp.Body, result); err != nil {
			return &Error{Code: InvalidJSON, Message: err.Error()}
		}
	}
	return nil
}

// responseError extracts the backend error carried by resp, if any.
func responseError(resp *Response) error {
	var body map[string]any
	decodeErr := decodeJSON(resp.Body, &body)
	if decodeErr == nil {
		if msg, ok := body["error"]; ok {
			if code, ok := toFloat(body["code"]); ok {
				return &Error{Code: int(code), Message: fmt.Sprint(msg)}
			}
			if resp.StatusCode >= 400 {
				return &Error{Code: OtherCause, Message: fmt.Sprint(msg)}
			}
		}
	}
	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(resp.Body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{Code: OtherCause, Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg)}
	}
	return nil
}

// New creates an unsaved record of className carrying the client's default
// ACL, if one is set.
func (c *Client) New(className string) Record {
	r := Create(className)
	c.applyDefaultACL(r)
	return r
}

func (c *Client) applyDefaultACL(r Record) {
	var uid string
	if u := c.CurrentUser(); u != nil {
		uid = u.id
	}
	acl := c.defaults.get(uid)
	if acl == nil {
		return
	}
	// Each record holds its own copy; the template itself never leaves defaults.
	own := acl.Clone()
	own.shared = true
	if err := r.base().SetACL(own); err != nil {
		c.logger.Warn("default ACL not applied", "class", r.ClassName(), "err", err)
	}
}

// SetDefaultACL sets the ACL given to records created with c.New. With
// withAccessForCurrentUser, the current user also gets read and write access.
// A nil acl clears the default.
func (c *Client) SetDefaultACL(acl *ACL, withAccessForCurrentUser bool) {
	c.defaults.set(acl, withAccessForCurrentUser)
}
