package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
)

// creator answers object creation, direct or batched, with sequential ids.
type creator struct {
	mu   sync.Mutex
	next int
}

func (cr *creator) id() string {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.next++
	return fmt.Sprintf("id%d", cr.next)
}

func (cr *creator) handle(t *testing.T) func(*Request) (*Response, error) {
	return func(req *Request) (*Response, error) {
		if requestPath(t, req) == "batch" {
			body := requestBody(t, req)
			reqs := body["requests"].([]any)
			out := make([]any, len(reqs))
			for i := range reqs {
				out[i] = map[string]any{"success": map[string]any{
					"objectId":  cr.id(),
					"createdAt": "2026-01-02T03:04:05.000Z",
				}}
			}
			return jsonResponse(http.StatusOK, out), nil
		}
		return jsonResponse(http.StatusCreated, map[string]any{
			"objectId":  cr.id(),
			"createdAt": "2026-01-02T03:04:05.000Z",
		}), nil
	}
}

func TestSaveOrdersChildrenFirst(t *testing.T) {
	cr := &creator{}
	c, ft := newTestClient(t, cr.handle(t))

	a, b, cc := NewObject("Node"), NewObject("Node"), NewObject("Node")
	a.Set("name", "A")
	b.Set("name", "B")
	cc.Set("name", "C")
	a.Set("child", b)
	b.Set("child", cc)

	if err := c.Save(context.Background(), a); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ft.count() != 3 {
		t.Fatalf("requests = %d, want 3", ft.count())
	}
	want := []string{"C", "B", "A"}
	for i, req := range ft.requests {
		if req.Method != http.MethodPost || requestPath(t, req) != "classes/Node" {
			t.Fatalf("request %d = %s %s", i, req.Method, req.URL)
		}
		body := requestBody(t, req)
		if body["name"] != want[i] {
			t.Errorf("request %d saved %v, want %s", i, body["name"], want[i])
		}
	}

	bBody := requestBody(t, ft.requests[1])
	ptr := bBody["child"].(map[string]any)
	if ptr["__type"] != "Pointer" || ptr["objectId"] != cc.ID() {
		t.Errorf("B.child = %v, want pointer to %s", ptr, cc.ID())
	}
	for _, o := range []*Object{a, b, cc} {
		if o.ID() == "" || o.IsDirty(false) {
			t.Errorf("%v not saved: id=%q dirty=%v", o.estimated["name"], o.ID(), o.IsDirty(false))
		}
	}
}

func TestSaveBatchesIndependentRecords(t *testing.T) {
	cr := &creator{}
	c, ft := newTestClient(t, cr.handle(t))

	root := NewObject("Album")
	var photos []any
	for i := 0; i < 3; i++ {
		p := NewObject("Photo")
		p.Set("n", i)
		photos = append(photos, p)
	}
	root.SetArray("photos", photos)

	if err := c.Save(context.Background(), root); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ft.count() != 2 {
		t.Fatalf("requests = %d, want 2", ft.count())
	}
	if got := requestPath(t, ft.requests[0]); got != "batch" {
		t.Fatalf("first request = %s, want batch", got)
	}
	reqs := requestBody(t, ft.requests[0])["requests"].([]any)
	if len(reqs) != 3 {
		t.Fatalf("batch size = %d, want 3", len(reqs))
	}
	for _, r := range reqs {
		sub := r.(map[string]any)
		if sub["method"] != "POST" || sub["path"] != "/parse/classes/Photo" {
			t.Errorf("sub-request = %v", sub)
		}
	}
	if got := requestPath(t, ft.requests[1]); got != "classes/Album" {
		t.Fatalf("second request = %s, want classes/Album", got)
	}
	list := requestBody(t, ft.requests[1])["photos"].([]any)
	if len(list) != 3 {
		t.Fatalf("photos = %v", list)
	}
}

func TestSaveSplitsRoundsAtBatchSize(t *testing.T) {
	cr := &creator{}
	c, ft := newTestClient(t, cr.handle(t))

	var records []Record
	for i := 0; i < MaxBatchSize+5; i++ {
		o := NewObject("Item")
		o.Set("n", i)
		records = append(records, o)
	}
	if err := c.SaveAll(context.Background(), records); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	if ft.count() != 2 {
		t.Fatalf("requests = %d, want 2", ft.count())
	}
	sizes := []int{
		len(requestBody(t, ft.requests[0])["requests"].([]any)),
		len(requestBody(t, ft.requests[1])["requests"].([]any)),
	}
	if sizes[0] != MaxBatchSize || sizes[1] != 5 {
		t.Errorf("batch sizes = %v, want [%d 5]", sizes, MaxBatchSize)
	}
}

func TestSaveCyclicDependency(t *testing.T) {
	c, ft := newTestClient(t, nil)
	a, b := NewObject("Node"), NewObject("Node")
	a.Set("other", b)
	b.Set("other", a)

	err := c.Save(context.Background(), a)
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("Save: got %v, want ErrCyclicDependency", err)
	}
	if ft.count() != 0 {
		t.Errorf("requests = %d, want 0", ft.count())
	}
}

func TestSaveAggregatesItemFailures(t *testing.T) {
	c, ft := newTestClient(t, func(req *Request) (*Response, error) {
		return jsonResponse(http.StatusOK, []any{
			map[string]any{"success": map[string]any{"objectId": "ok1", "createdAt": "2026-01-02T03:04:05.000Z"}},
			map[string]any{"error": map[string]any{"code": DuplicateValue, "error": "duplicate value"}},
		}), nil
	})

	good, bad := NewObject("Tag"), NewObject("Tag")
	good.Set("name", "go")
	bad.Set("name", "go")
	root := NewObject("Post")
	root.Set("first", good)
	root.Set("second", bad)

	err := c.Save(context.Background(), root)
	var agg *AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("Save: got %v, want *AggregateError", err)
	}
	if len(agg.Errors) != 2 {
		t.Fatalf("errors = %d, want 2: %v", len(agg.Errors), agg)
	}
	if agg.Errors[0].Code != DuplicateValue || agg.Errors[0].Record != Record(bad) {
		t.Errorf("first failure = %+v", agg.Errors[0])
	}
	if agg.Errors[1].Record != Record(root) || !errors.Is(agg.Errors[1], ErrUnsavedReference) {
		t.Errorf("second failure = %+v", agg.Errors[1])
	}
	if ft.count() != 1 {
		t.Errorf("requests = %d, want 1", ft.count())
	}
	if good.ID() != "ok1" {
		t.Errorf("good id = %q, want ok1", good.ID())
	}
	if !root.IsDirty(false) {
		t.Error("root should still be dirty")
	}
}

func TestSaveSingleRecordReturnsBackendError(t *testing.T) {
	c, _ := newTestClient(t, func(req *Request) (*Response, error) {
		return jsonResponse(http.StatusBadRequest, map[string]any{"code": ValidationFailed, "error": "nope"}), nil
	})
	o := NewObject("Post")
	o.Set("title", "x")
	err := c.Save(context.Background(), o)
	if !IsCode(err, ValidationFailed) {
		t.Fatalf("Save: got %v, want code %d", err, ValidationFailed)
	}
	var agg *AggregateError
	if errors.As(err, &agg) {
		t.Errorf("single save returned aggregate: %v", err)
	}
}

func TestSaveTransportErrorAborts(t *testing.T) {
	c, ft := newTestClient(t, func(req *Request) (*Response, error) {
		return nil, errors.New("connection reset")
	})
	a, b := NewObject("Node"), NewObject("Node")
	a.Set("child", b)
	err := c.Save(context.Background(), a)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Save: got %v, want *TransportError", err)
	}
	if ft.count() != 1 {
		t.Errorf("requests = %d, want 1", ft.count())
	}
}

func TestSaveUpdateSendsOperations(t *testing.T) {
	c, ft := newTestClient(t, func(req *Request) (*Response, error) {
		return jsonResponse(http.StatusOK, map[string]any{
			"updatedAt": "2026-01-02T03:04:05.000Z",
			"score":     15,
		}), nil
	})
	game := Pointer("Game", "g1").base()
	if err := game.Increment("score", 5); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if err := c.Save(context.Background(), game); err != nil {
		t.Fatalf("Save: %v", err)
	}
	req := ft.requests[0]
	if req.Method != http.MethodPut || requestPath(t, req) != "classes/Game/g1" {
		t.Fatalf("request = %s %s", req.Method, req.URL)
	}
	op := requestBody(t, req)["score"].(map[string]any)
	if op["__op"] != "Increment" || op["amount"] != float64(5) {
		t.Errorf("score op = %v", op)
	}
	if got, _ := game.GetInt("score"); got != 15 {
		t.Errorf("score = %d, want 15", got)
	}
	if game.IsDirty(false) {
		t.Error("game still dirty after save")
	}
}

func TestSaveUploadsFilesFirst(t *testing.T) {
	cr := &creator{}
	c, ft := newTestClient(t, func(req *Request) (*Response, error) {
		if requestPath(t, req) == "files/a.txt" {
			return jsonResponse(http.StatusCreated, map[string]any{
				"name": "abc_a.txt",
				"url":  "https://files.example.com/abc_a.txt",
			}), nil
		}
		return cr.handle(t)(req)
	})
	f := NewFile("a.txt", []byte("hello"), "")
	doc := NewObject("Doc")
	doc.Set("attachment", f)

	if err := c.Save(context.Background(), doc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ft.count() != 2 {
		t.Fatalf("requests = %d, want 2", ft.count())
	}
	upload := ft.requests[0]
	if string(upload.Body) != "hello" {
		t.Errorf("upload body = %q", upload.Body)
	}
	if got := upload.Header.Get("Content-Type"); got != "text/plain; charset=utf-8" {
		t.Errorf("upload content type = %q", got)
	}
	ref := requestBody(t, ft.requests[1])["attachment"].(map[string]any)
	if ref["__type"] != "File" || ref["name"] != "abc_a.txt" {
		t.Errorf("attachment = %v", ref)
	}
}

func TestDestroyAllChunks(t *testing.T) {
	var sizes []int
	c, ft := newTestClient(t, func(req *Request) (*Response, error) {
		reqs := requestBody(t, req)["requests"].([]any)
		sizes = append(sizes, len(reqs))
		out := make([]any, len(reqs))
		for i, r := range reqs {
			sub := r.(map[string]any)
			if sub["method"] != "DELETE" {
				t.Errorf("sub-request method = %v", sub["method"])
			}
			out[i] = map[string]any{"success": map[string]any{}}
		}
		return jsonResponse(http.StatusOK, out), nil
	})

	var records []Record
	for i := 0; i < 85; i++ {
		records = append(records, Pointer("Item", fmt.Sprintf("i%d", i)))
	}
	records = append(records, NewObject("Item"))

	if err := c.DestroyAll(context.Background(), records); err != nil {
		t.Fatalf("DestroyAll: %v", err)
	}
	if ft.count() != 3 {
		t.Fatalf("requests = %d, want 3", ft.count())
	}
	want := []int{40, 40, 5}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("chunk %d size = %d, want %d", i, sizes[i], want[i])
		}
	}
}

func TestDestroyAllReportsFailures(t *testing.T) {
	c, _ := newTestClient(t, func(req *Request) (*Response, error) {
		return jsonResponse(http.StatusOK, []any{
			map[string]any{"success": map[string]any{}},
			map[string]any{"error": map[string]any{"code": ObjectNotFound, "error": "gone"}},
		}), nil
	})
	a, b := Pointer("Item", "a"), Pointer("Item", "b")
	err := c.DestroyAll(context.Background(), []Record{a, b})
	var agg *AggregateError
	if !errors.As(err, &agg) || len(agg.Errors) != 1 {
		t.Fatalf("DestroyAll: got %v, want one failure", err)
	}
	if agg.Errors[0].Record != b || agg.Errors[0].Code != ObjectNotFound {
		t.Errorf("failure = %+v", agg.Errors[0])
	}
}

func TestDestroySkipsUnsaved(t *testing.T) {
	c, ft := newTestClient(t, nil)
	if err := c.Destroy(context.Background(), NewObject("Item")); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if ft.count() != 0 {
		t.Errorf("requests = %d, want 0", ft.count())
	}
}

func TestFetchReplacesServerState(t *testing.T) {
	c, ft := newTestClient(t, func(req *Request) (*Response, error) {
		return jsonResponse(http.StatusOK, map[string]any{
			"objectId":  "p1",
			"title":     "fresh",
			"createdAt": "2026-01-02T03:04:05.000Z",
			"updatedAt": "2026-01-03T03:04:05.000Z",
		}), nil
	})
	p := Pointer("Post", "p1").base()
	if _, err := p.Get("title"); !errors.Is(err, ErrUnavailableField) {
		t.Fatalf("Get before fetch: got %v, want ErrUnavailableField", err)
	}
	if err := c.Fetch(context.Background(), p, Include("author")); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got, _ := p.GetString("title"); got != "fresh" {
		t.Errorf("title = %q, want fresh", got)
	}
	if !p.IsDataAvailable() {
		t.Error("data not available after fetch")
	}
	if got := ft.requests[0].URL; got != "https://api.example.com/parse/classes/Post/p1?include=author" {
		t.Errorf("url = %s", got)
	}
}

func TestFetchUnsaved(t *testing.T) {
	c, _ := newTestClient(t, nil)
	if err := c.Fetch(context.Background(), NewObject("Post")); !errors.Is(err, ErrUnsavedReference) {
		t.Fatalf("Fetch: got %v, want ErrUnsavedReference", err)
	}
}

func TestFetchAll(t *testing.T) {
	c, _ := newTestClient(t, func(req *Request) (*Response, error) {
		return jsonResponse(http.StatusOK, map[string]any{"results": []any{
			map[string]any{"objectId": "b", "n": 2},
			map[string]any{"objectId": "a", "n": 1},
		}}), nil
	})
	a, b := Pointer("Item", "a"), Pointer("Item", "b")
	if err := c.FetchAll(context.Background(), []Record{a, b}); err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if got, _ := a.base().GetInt("n"); got != 1 {
		t.Errorf("a.n = %d, want 1", got)
	}
	if got, _ := b.base().GetInt("n"); got != 2 {
		t.Errorf("b.n = %d, want 2", got)
	}

	if err := c.FetchAll(context.Background(), []Record{a, Pointer("Other", "x")}); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("mixed classes: got %v, want ErrInvalidValue", err)
	}
}
