package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	testToken = "r:tok"
	testTime  = "2026-01-02T03:04:05.000Z"
)

// fakeBackend is an in-memory stand-in for the REST API covering the
// endpoints the commands use.
type fakeBackend struct {
	*httptest.Server

	mu       sync.Mutex
	classes  map[string]map[string]map[string]any
	requests []string
	queries  []map[string]string
	nextID   int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{classes: map[string]map[string]map[string]any{}}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.Close)
	return b
}

func (b *fakeBackend) requestLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

func (b *fakeBackend) queryLog() []map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]string(nil), b.queries...)
}

func (b *fakeBackend) count(class string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.classes[class])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status, code int, msg string) {
	writeJSON(w, status, map[string]any{"code": code, "error": msg})
}

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/parse/")
	b.requests = append(b.requests, r.Method+" "+path)
	body, _ := io.ReadAll(r.Body)
	token := r.Header.Get("X-Parse-Session-Token")

	switch {
	case r.Method == http.MethodPost && path == "login":
		var creds struct{ Username, Password string }
		json.Unmarshal(body, &creds)
		if creds.Password != "secret" {
			writeError(w, http.StatusNotFound, 101, "Invalid username/password.")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"objectId": "u1", "username": creds.Username, "sessionToken": testToken, "createdAt": testTime,
		})
	case r.Method == http.MethodPost && path == "logout":
		writeJSON(w, http.StatusOK, map[string]any{})
	case r.Method == http.MethodGet && path == "users/me":
		if token != testToken {
			writeError(w, http.StatusBadRequest, 209, "Invalid session token")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"objectId": "u1", "username": "ann", "email": "ann@example.com"})
	case r.Method == http.MethodGet && path == "sessions/me":
		writeJSON(w, http.StatusOK, map[string]any{"objectId": "s1", "sessionToken": token})
	case r.Method == http.MethodPost && path == "batch":
		b.batch(w, body)
	case r.Method == http.MethodPost && strings.HasPrefix(path, "files/"):
		name := strings.TrimPrefix(path, "files/")
		writeJSON(w, http.StatusCreated, map[string]any{"name": "tfss-" + name, "url": "https://files.example.com/tfss-" + name})
	case strings.HasPrefix(path, "classes/"):
		parts := strings.Split(strings.TrimPrefix(path, "classes/"), "/")
		if len(parts) == 1 && r.Method == http.MethodGet {
			b.find(w, parts[0], r)
			return
		}
		status, resp := b.write(r.Method, parts, body)
		writeJSON(w, status, resp)
	default:
		writeError(w, http.StatusNotFound, 119, "unsupported "+r.Method+" "+path)
	}
}

// write applies a create, update or delete and returns the response.
func (b *fakeBackend) write(method string, parts []string, body []byte) (int, map[string]any) {
	class := parts[0]
	var fields map[string]any
	if len(body) > 0 {
		json.Unmarshal(body, &fields)
	}
	if b.classes[class] == nil {
		b.classes[class] = map[string]map[string]any{}
	}

	switch {
	case method == http.MethodPost && len(parts) == 1:
		b.nextID++
		id := fmt.Sprintf("id%03d", b.nextID)
		rec := map[string]any{"objectId": id, "createdAt": testTime, "updatedAt": testTime}
		applyFields(rec, fields)
		b.classes[class][id] = rec
		return http.StatusCreated, map[string]any{"objectId": id, "createdAt": testTime}
	case method == http.MethodPut && len(parts) == 2:
		rec, ok := b.classes[class][parts[1]]
		if !ok {
			return http.StatusNotFound, map[string]any{"code": 101, "error": "Object not found."}
		}
		applyFields(rec, fields)
		return http.StatusOK, map[string]any{"updatedAt": testTime}
	case method == http.MethodDelete && len(parts) == 2:
		if _, ok := b.classes[class][parts[1]]; !ok {
			return http.StatusNotFound, map[string]any{"code": 101, "error": "Object not found."}
		}
		delete(b.classes[class], parts[1])
		return http.StatusOK, map[string]any{}
	}
	return http.StatusBadRequest, map[string]any{"code": 119, "error": "unsupported"}
}

func applyFields(rec, fields map[string]any) {
	for k, v := range fields {
		op, _ := v.(map[string]any)
		switch op["__op"] {
		case "Delete":
			delete(rec, k)
		case "Increment":
			cur, _ := rec[k].(float64)
			amount, _ := op["amount"].(float64)
			rec[k] = cur + amount
		case "Add", "AddUnique", "Remove":
			cur, _ := rec[k].([]any)
			objects, _ := op["objects"].([]any)
			rec[k] = applyListOp(op["__op"].(string), cur, objects)
		default:
			rec[k] = v
		}
	}
}

func applyListOp(op string, cur, objects []any) []any {
	out := append([]any{}, cur...)
	for _, obj := range objects {
		switch op {
		case "Add":
			out = append(out, obj)
		case "AddUnique":
			if !slices.Contains(out, obj) {
				out = append(out, obj)
			}
		case "Remove":
			out = slices.DeleteFunc(out, func(v any) bool { return v == obj })
		}
	}
	return out
}

func (b *fakeBackend) batch(w http.ResponseWriter, body []byte) {
	var req struct {
		Requests []struct {
			Method string         `json:"method"`
			Path   string         `json:"path"`
			Body   map[string]any `json:"body"`
		} `json:"requests"`
	}
	json.Unmarshal(body, &req)

	results := make([]any, len(req.Requests))
	for i, item := range req.Requests {
		parts := strings.Split(strings.TrimPrefix(item.Path, "/parse/classes/"), "/")
		data, _ := json.Marshal(item.Body)
		if item.Body == nil {
			data = nil
		}
		status, resp := b.write(item.Method, parts, data)
		if status >= 400 {
			results[i] = map[string]any{"error": resp}
		} else {
			results[i] = map[string]any{"success": resp}
		}
	}
	writeJSON(w, http.StatusOK, results)
}

// find supports equality on plain values, objectId $gt paging, limit and
// count, which is all the commands under test need.
func (b *fakeBackend) find(w http.ResponseWriter, class string, r *http.Request) {
	params := map[string]string{}
	for k := range r.URL.Query() {
		params[k] = r.URL.Query().Get(k)
	}
	b.queries = append(b.queries, params)

	var where map[string]any
	json.Unmarshal([]byte(params["where"]), &where)

	ids := make([]string, 0, len(b.classes[class]))
	for id := range b.classes[class] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := []map[string]any{}
	for _, id := range ids {
		rec := b.classes[class][id]
		if matches(rec, where) {
			results = append(results, rec)
		}
	}
	resp := map[string]any{}
	if params["count"] == "1" {
		resp["count"] = len(results)
	}
	if limit, err := strconv.Atoi(params["limit"]); err == nil && limit < len(results) {
		results = results[:limit]
	}
	resp["results"] = results
	writeJSON(w, http.StatusOK, resp)
}

func matches(rec, where map[string]any) bool {
	for k, cond := range where {
		if m, ok := cond.(map[string]any); ok {
			if gt, ok := m["$gt"].(string); ok {
				if s, _ := rec[k].(string); s <= gt {
					return false
				}
			}
			continue
		}
		if rec[k] != cond {
			return false
		}
	}
	return true
}

// resetFlags restores every flag in the tree to its default so commands
// can run repeatedly in one process.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// setupEnv points the commands at b with a fresh config directory.
func setupEnv(t *testing.T, b *fakeBackend) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("OBJSYNC_CONFIG_DIR", dir)
	t.Setenv("OBJSYNC_SERVER_URL", b.URL)
	t.Setenv("OBJSYNC_APP_ID", "test-app")
	t.Setenv("OBJSYNC_MASTER_KEY", "")
	t.Setenv("OBJSYNC_REST_KEY", "")
	t.Setenv("OBJSYNC_MOUNT_PATH", "")
	t.Setenv("OBJSYNC_TIMEOUT", "")
	return dir
}

// runCommand executes the root command with args and returns stdout.
func runCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}
