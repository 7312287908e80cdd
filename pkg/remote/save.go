package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// beforeSaver is implemented by record types that validate themselves
// before being written.
type beforeSaver interface {
	beforeSave() error
}

// afterSaver is implemented by record types that adjust local state once a
// save succeeded.
type afterSaver interface {
	afterSave()
}

// Save writes r together with every dirty record and unsaved file reachable
// from it. See SaveAll.
func (c *Client) Save(ctx context.Context, r Record, opts ...CallOption) error {
	return c.SaveAll(ctx, []Record{r}, opts...)
}

// SaveAll deep-saves roots.
//
// Unsaved files are uploaded first. Dirty records are then written in rounds:
// each round takes up to MaxBatchSize records whose references all have ids,
// sending one record directly and several through /batch. Per-record failures
// are collected into an *AggregateError; a transport failure aborts at once.
// When no remaining record can be written, ErrCyclicDependency is returned
// without further requests.
func (c *Client) SaveAll(ctx context.Context, roots []Record, opts ...CallOption) error {
	o := collectOptions(opts)
	records, files := collectDirty(roots)

	for _, f := range files {
		if err := c.SaveFile(ctx, f); err != nil {
			return err
		}
	}

	var failures []*ItemError
	remaining := records
	for len(remaining) > 0 {
		pending := make(map[*Object]bool, len(remaining))
		for _, r := range remaining {
			pending[r.base()] = true
		}

		var batch, rest []Record
		for _, r := range remaining {
			if len(batch) < MaxBatchSize && r.base().canBeSerialized(pending) {
				batch = append(batch, r)
			} else {
				rest = append(rest, r)
			}
		}
		if len(batch) == 0 {
			err := fmt.Errorf("%w: %d objects reference each other", ErrCyclicDependency, len(rest))
			if len(failures) > 0 {
				return errors.Join(err, &AggregateError{Message: "save failed", Errors: failures})
			}
			return err
		}
		remaining = rest

		var (
			itemErrs []*ItemError
			err      error
		)
		if len(batch) == 1 {
			var itemErr *ItemError
			itemErr, err = c.saveOne(ctx, batch[0], o)
			if itemErr != nil {
				itemErrs = append(itemErrs, itemErr)
			}
		} else {
			itemErrs, err = c.saveBatch(ctx, batch, o)
		}
		if err != nil {
			return err
		}
		failures = append(failures, itemErrs...)
	}

	if len(failures) == 0 {
		return nil
	}
	if len(records) == 1 && failures[0].Err != nil {
		return failures[0].Err
	}
	return &AggregateError{Message: "save failed", Errors: failures}
}

// collectDirty walks roots and returns the dirty records in dependency
// order (children before parents) and the unsaved files.
func collectDirty(roots []Record) ([]Record, []*File) {
	seen := map[*Object]bool{}
	seenFiles := map[*File]bool{}
	var records []Record
	var files []*File

	var visit func(v any)
	visit = func(v any) {
		switch x := v.(type) {
		case *File:
			if x != nil && x.IsDirty() && !seenFiles[x] {
				seenFiles[x] = true
				files = append(files, x)
			}
		case Record:
			obj := x.base()
			if obj == nil || seen[obj] {
				return
			}
			seen[obj] = true
			for _, k := range sortedKeys(obj.estimated) {
				visit(obj.estimated[k])
			}
			if obj.IsDirty(false) {
				records = append(records, x)
			}
		case []any:
			for _, item := range x {
				visit(item)
			}
		case map[string]any:
			for _, k := range sortedKeys(x) {
				visit(x[k])
			}
		}
	}
	for _, r := range roots {
		if r != nil {
			visit(r)
		}
	}
	return records, files
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func classPath(obj *Object) string {
	if obj.id == "" {
		return "classes/" + url.PathEscape(obj.className)
	}
	return "classes/" + url.PathEscape(obj.className) + "/" + url.PathEscape(obj.id)
}

// prepareSave validates r and encodes its pending operations.
func prepareSave(r Record) (method, path string, body map[string]any, err error) {
	if bs, ok := r.(beforeSaver); ok {
		if err := bs.beforeSave(); err != nil {
			return "", "", nil, err
		}
	}
	obj := r.base()
	body, err = obj.saveJSON()
	if err != nil {
		return "", "", nil, err
	}
	method = http.MethodPut
	if obj.id == "" {
		method = http.MethodPost
	}
	return method, classPath(obj), body, nil
}

func itemError(r Record, err error) *ItemError {
	ie := &ItemError{Code: OtherCause, Message: err.Error(), Record: r, Err: err}
	var re *Error
	if errors.As(err, &re) {
		ie.Code = re.Code
		ie.Message = re.Message
	} else if errors.Is(err, ErrUnsavedReference) {
		ie.Code = InvalidPointer
	} else if errors.Is(err, ErrInvalidValue) {
		ie.Code = IncorrectType
	}
	return ie
}

func (c *Client) finishSave(r Record, data map[string]any) error {
	if err := r.base().mergeAfterSave(data); err != nil {
		return err
	}
	if as, ok := r.(afterSaver); ok {
		as.afterSave()
	}
	if u, ok := r.(*User); ok && c.isCurrentUser(u) {
		return c.persistCurrentUser(u)
	}
	return nil
}

func (c *Client) saveOne(ctx context.Context, r Record, o callOptions) (*ItemError, error) {
	method, path, body, err := prepareSave(r)
	if err != nil {
		return itemError(r, err), nil
	}
	var resp map[string]any
	if err := c.do(ctx, method, path, body, &resp, o); err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return nil, err
		}
		return itemError(r, err), nil
	}
	if err := c.finishSave(r, resp); err != nil {
		return itemError(r, err), nil
	}
	return nil, nil
}

type batchRequest struct {
	Method string         `json:"method"`
	Path   string         `json:"path"`
	Body   map[string]any `json:"body,omitempty"`
}

func (c *Client) saveBatch(ctx context.Context, batch []Record, o callOptions) ([]*ItemError, error) {
	var failures []*ItemError
	var sent []Record
	var requests []batchRequest
	for _, r := range batch {
		method, path, body, err := prepareSave(r)
		if err != nil {
			failures = append(failures, itemError(r, err))
			continue
		}
		sent = append(sent, r)
		requests = append(requests, batchRequest{Method: method, Path: c.batchPath(path), Body: body})
	}
	if len(requests) == 0 {
		return failures, nil
	}

	results, err := c.runBatch(ctx, requests, o)
	if err != nil {
		return nil, err
	}
	for i, r := range sent {
		res := results[i]
		if res.err != nil {
			failures = append(failures, itemError(r, res.err))
			continue
		}
		if err := c.finishSave(r, res.success); err != nil {
			failures = append(failures, itemError(r, err))
		}
	}
	return failures, nil
}

type batchResult struct {
	success map[string]any
	err     error
}

// runBatch posts requests to /batch and returns one result per request, in
// request order.
func (c *Client) runBatch(ctx context.Context, requests []batchRequest, o callOptions) ([]batchResult, error) {
	var resp []any
	if err := c.do(ctx, http.MethodPost, "batch", map[string]any{"requests": requests}, &resp, o); err != nil {
		return nil, err
	}
	c.logger.Debug("batch", "requests", len(requests), "results", len(resp))

	results := make([]batchResult, len(requests))
	for i := range requests {
		if i >= len(resp) {
			results[i].err = &Error{Code: InvalidJSON, Message: "missing batch result"}
			continue
		}
		entry, _ := resp[i].(map[string]any)
		if success, ok := entry["success"]; ok {
			m, _ := success.(map[string]any)
			if m == nil {
				m = map[string]any{}
			}
			results[i].success = m
			continue
		}
		if failure, ok := entry["error"].(map[string]any); ok {
			code, _ := toFloat(failure["code"])
			results[i].err = &Error{Code: int(code), Message: fmt.Sprint(failure["error"])}
			continue
		}
		results[i].err = &Error{Code: InvalidJSON, Message: "malformed batch result"}
	}
	return results, nil
}

// Fetch replaces r's server state with the server's current copy. Pending
// operations on keys the server returned are dropped.
func (c *Client) Fetch(ctx context.Context, r Record, opts ...CallOption) error {
	obj := r.base()
	if obj.id == "" {
		return fmt.Errorf("%w: cannot fetch an unsaved %s", ErrUnsavedReference, obj.className)
	}
	o := collectOptions(opts)
	params := url.Values{}
	if len(o.includes) > 0 {
		params.Set("include", strings.Join(o.includes, ","))
	}
	var resp map[string]any
	if err := c.doQuery(ctx, classPath(obj), params, &resp, o); err != nil {
		return err
	}
	u, isUser := r.(*User)
	var token string
	if isUser {
		token = u.SessionToken()
	}
	if err := obj.mergeAfterFetch(resp, true); err != nil {
		return err
	}
	if isUser && u.SessionToken() == "" {
		u.setSessionToken(token)
	}
	if isUser && c.isCurrentUser(u) {
		return c.persistCurrentUser(u)
	}
	return nil
}

// FetchIfNeeded fetches r unless its data is already available.
func (c *Client) FetchIfNeeded(ctx context.Context, r Record, opts ...CallOption) error {
	if r.base().available {
		return nil
	}
	return c.Fetch(ctx, r, opts...)
}

// FetchAll refreshes records of a single class with one query.
func (c *Client) FetchAll(ctx context.Context, records []Record, opts ...CallOption) error {
	if len(records) == 0 {
		return nil
	}
	className := records[0].base().className
	ids := make([]any, 0, len(records))
	for _, r := range records {
		obj := r.base()
		if obj.className != className {
			return invalidValuef("cannot fetch %s and %s together", className, obj.className)
		}
		if obj.id == "" {
			return fmt.Errorf("%w: cannot fetch an unsaved %s", ErrUnsavedReference, className)
		}
		ids = append(ids, obj.id)
	}
	o := collectOptions(opts)
	q := NewQuery(className).ContainedIn("objectId", ids).Limit(len(ids))
	if len(o.includes) > 0 {
		q.Include(o.includes...)
	}
	found, err := c.findRaw(ctx, q, o)
	if err != nil {
		return err
	}
	byID := make(map[string]map[string]any, len(found))
	for _, data := range found {
		if id, ok := data["objectId"].(string); ok {
			byID[id] = data
		}
	}
	for _, r := range records {
		obj := r.base()
		data, ok := byID[obj.id]
		if !ok {
			return &Error{Code: ObjectNotFound, Message: fmt.Sprintf("%s %s not found", className, obj.id)}
		}
		if err := obj.mergeAfterFetch(data, true); err != nil {
			return err
		}
	}
	return nil
}

// Destroy deletes r on the server. Unsaved records are left alone.
func (c *Client) Destroy(ctx context.Context, r Record, opts ...CallOption) error {
	obj := r.base()
	if obj.id == "" {
		return nil
	}
	if err := c.do(ctx, http.MethodDelete, classPath(obj), nil, nil, collectOptions(opts)); err != nil {
		return err
	}
	if u, ok := r.(*User); ok && c.isCurrentUser(u) {
		return c.clearCurrentUser()
	}
	return nil
}

// DestroyAll deletes records through /batch, MaxBatchSize at a time.
// Records without an id are skipped. Per-record failures are returned as an
// *AggregateError once every chunk was sent.
func (c *Client) DestroyAll(ctx context.Context, records []Record, opts ...CallOption) error {
	o := collectOptions(opts)
	var saved []Record
	for _, r := range records {
		if r.base().id != "" {
			saved = append(saved, r)
		}
	}

	var failures []*ItemError
	for start := 0; start < len(saved); start += MaxBatchSize {
		chunk := saved[start:min(start+MaxBatchSize, len(saved))]
		requests := make([]batchRequest, len(chunk))
		for i, r := range chunk {
			requests[i] = batchRequest{Method: http.MethodDelete, Path: c.batchPath(classPath(r.base()))}
		}
		results, err := c.runBatch(ctx, requests, o)
		if err != nil {
			return err
		}
		for i, r := range chunk {
			if results[i].err != nil {
				failures = append(failures, itemError(r, results[i].err))
			}
		}
	}
	if len(failures) > 0 {
		return &AggregateError{Message: "destroy failed", Errors: failures}
	}
	return nil
}
