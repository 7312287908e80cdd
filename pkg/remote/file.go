package remote

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
)

const defaultMimeType = "application/octet-stream"

// File is a file attachment. A file created from bytes is unsaved until it
// has been uploaded and the backend has assigned it a URL.
type File struct {
	name     string
	url      string
	mimeType string
	data     []byte
}

// NewFile returns an unsaved file holding data. An empty mimeType is derived
// from the name's extension.
func NewFile(name string, data []byte, mimeType string) *File {
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(name))
	}
	if mimeType == "" {
		mimeType = defaultMimeType
	}
	return &File{name: name, data: data, mimeType: mimeType}
}

// NewFileRef returns a handle to an already uploaded file.
func NewFileRef(name, url string) *File {
	return &File{name: name, url: url}
}

func (f *File) Name() string     { return f.name }
func (f *File) URL() string      { return f.url }
func (f *File) MimeType() string { return f.mimeType }

// IsDirty reports whether the file still needs uploading.
func (f *File) IsDirty() bool { return f.url == "" }

func (f *File) encode() (map[string]any, error) {
	if f.url == "" {
		return nil, fmt.Errorf("%w: file %q has not been uploaded", ErrUnsavedReference, f.name)
	}
	return map[string]any{"__type": "File", "name": f.name, "url": f.url}, nil
}

// SaveFile uploads f if it has not been uploaded yet.
func (c *Client) SaveFile(ctx context.Context, f *File) error {
	if !f.IsDirty() {
		return nil
	}
	if f.name == "" {
		return invalidValuef("file name required")
	}
	var resp struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	err := c.doRaw(ctx, http.MethodPost, "files/"+url.PathEscape(f.name), f.data, f.mimeType, &resp, callOptions{})
	if err != nil {
		return fmt.Errorf("upload file %s: %w", f.name, err)
	}
	if resp.URL == "" {
		return &Error{Code: InvalidFileName, Message: "upload response missing url"}
	}
	f.name = resp.Name
	f.url = resp.URL
	c.logger.Debug("file uploaded", "name", f.name, "bytes", len(f.data))
	return nil
}

// DeleteFile removes an uploaded file. The backend requires the master key.
func (c *Client) DeleteFile(ctx context.Context, f *File) error {
	if f.IsDirty() {
		return fmt.Errorf("%w: file %q has not been uploaded", ErrUnsavedReference, f.name)
	}
	return c.do(ctx, http.MethodDelete, "files/"+url.PathEscape(f.name), nil, nil, callOptions{useMasterKey: true})
}

// FileData returns the contents of f, downloading it when the file was
// obtained by reference.
func (c *Client) FileData(ctx context.Context, f *File) ([]byte, error) {
	if f.data != nil || f.url == "" {
		return f.data, nil
	}
	resp, err := c.transport.Send(ctx, &Request{Method: http.MethodGet, URL: f.url, Header: http.Header{}})
	if err != nil {
		return nil, wrapTransportError(err)
	}
	if resp.StatusCode >= 400 {
		return nil, &Error{Code: ConnectionFailed, Message: fmt.Sprintf("download %s: HTTP %d", f.name, resp.StatusCode)}
	}
	f.data = resp.Body
	if f.mimeType == "" {
		f.mimeType = strings.TrimSpace(strings.Split(resp.ContentType, ";")[0])
	}
	return f.data, nil
}
