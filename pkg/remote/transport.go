package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Request is a single HTTP exchange handed to a Transport.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is what a Transport returns when the server answered, whatever
// the status code.
type Response struct {
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
}

// Transport sends requests. An error means the exchange itself failed
// (connection, TLS, timeout); backend errors arrive as a Response.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// HTTPTransport is the default Transport, backed by net/http.
type HTTPTransport struct {
	HTTP *http.Client
}

// NewHTTPTransport creates a transport whose requests time out after timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{HTTP: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) Send(ctx context.Context, r *Request) (*Response, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range r.Header {
		req.Header[k] = append([]string(nil), vs...)
	}

	resp, err := t.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header,
		Body:        data,
	}, nil
}

// wrapTransportError turns a Transport failure into a *TransportError.
func wrapTransportError(err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	code := ConnectionFailed
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		code = Timeout
	}
	return &TransportError{Code: code, Message: err.Error(), Err: err}
}
