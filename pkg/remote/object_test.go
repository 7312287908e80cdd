package remote

import (
	"errors"
	"reflect"
	"testing"
)

func TestNewObjectIsDirty(t *testing.T) {
	o := NewObject("Post")
	if !o.IsDirty(false) {
		t.Error("new object should be dirty")
	}
	if !o.IsDataAvailable() {
		t.Error("new object should have its data available")
	}
	if _, err := o.Get("missing"); err != nil {
		t.Errorf("Get on new object: %v", err)
	}
}

func TestGetUnavailableField(t *testing.T) {
	o := Pointer("Post", "p1").base()
	if _, err := o.Get("title"); !errors.Is(err, ErrUnavailableField) {
		t.Fatalf("Get: got %v, want ErrUnavailableField", err)
	}
	if o.Has("title") {
		t.Error("Has reported an unavailable key")
	}
	if id, err := o.Get("objectId"); err != nil || id != "p1" {
		t.Errorf("Get(objectId) = %v, %v", id, err)
	}

	if err := o.Set("title", "local"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, err := o.GetString("title"); err != nil || got != "local" {
		t.Errorf("GetString after Set = %q, %v", got, err)
	}
	if _, err := o.Get("body"); !errors.Is(err, ErrUnavailableField) {
		t.Errorf("Get(body): got %v, want ErrUnavailableField", err)
	}
}

func TestSetValidation(t *testing.T) {
	o := NewObject("Post")
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"empty key", "", "x"},
		{"server key", "objectId", "x"},
		{"list", "tags", []string{"a"}},
		{"map", "meta", map[string]any{"a": 1}},
		{"operation", "n", &IncrementOp{Amount: 1}},
		{"acl as string", "ACL", "public"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := o.Set(tt.key, tt.value); !errors.Is(err, ErrInvalidValue) {
				t.Errorf("Set(%q): got %v, want ErrInvalidValue", tt.key, err)
			}
		})
	}

	if err := o.SetArray("tags", []string{"a", "b"}); err != nil {
		t.Fatalf("SetArray: %v", err)
	}
	if got, _ := o.GetList("tags"); !reflect.DeepEqual(got, []any{"a", "b"}) {
		t.Errorf("tags = %v", got)
	}
	if err := o.SetMap("meta", map[string]int{"a": 1}); err != nil {
		t.Fatalf("SetMap: %v", err)
	}
	if got, _ := o.Get("meta"); !reflect.DeepEqual(got, map[string]any{"a": int64(1)}) {
		t.Errorf("meta = %v", got)
	}
	if err := o.SetArray("x", "nope"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("SetArray(string): got %v, want ErrInvalidValue", err)
	}
}

func TestGetListReturnsCopy(t *testing.T) {
	o := NewObject("Post")
	o.SetArray("tags", []any{"a"})
	list, _ := o.GetList("tags")
	list[0] = "changed"
	if got, _ := o.GetList("tags"); got[0] != "a" {
		t.Errorf("tags mutated through returned list: %v", got)
	}
}

func TestDirtyKeysAndRevert(t *testing.T) {
	o := Pointer("Post", "p1").base()
	o.mergeFromServer(map[string]any{"title": "server", "n": 1}, true)
	if o.IsDirty(false) {
		t.Fatal("fetched object should be clean")
	}

	o.Set("title", "local")
	o.Increment("n", 2)
	if got := o.DirtyKeys(); !reflect.DeepEqual(got, []string{"n", "title"}) {
		t.Errorf("DirtyKeys = %v", got)
	}
	if !o.IsKeyDirty("title") {
		t.Error("title not dirty")
	}

	o.Revert("title")
	if got, _ := o.GetString("title"); got != "server" {
		t.Errorf("title after Revert = %q, want server", got)
	}
	if got, _ := o.GetInt("n"); got != 3 {
		t.Errorf("n = %d, want 3", got)
	}

	o.Revert()
	if o.IsDirty(false) {
		t.Error("object dirty after full Revert")
	}
	if got, _ := o.GetInt("n"); got != 1 {
		t.Errorf("n after Revert = %d, want 1", got)
	}
}

func TestIsDirtyConsidersChildren(t *testing.T) {
	parent := Pointer("Post", "p1").base()
	parent.mergeFromServer(map[string]any{}, true)
	child := Pointer("Comment", "c1").base()
	child.mergeFromServer(map[string]any{}, true)

	parent.serverData["comment"] = child
	parent.rebuildEstimatedData()
	if parent.IsDirty(true) {
		t.Fatal("clean tree reported dirty")
	}

	child.Set("text", "hi")
	if parent.IsDirty(false) {
		t.Error("IsDirty(false) looked at children")
	}
	if !parent.IsDirty(true) {
		t.Error("IsDirty(true) missed a dirty child")
	}

	child.serverData["parent"] = parent
	child.Revert()
	if parent.IsDirty(true) {
		t.Error("cycle of clean records reported dirty")
	}
}

func TestMergeAfterSave(t *testing.T) {
	o := Pointer("Game", "g1").base()
	o.mergeFromServer(map[string]any{"score": 10, "name": "old"}, true)
	o.Increment("score", 5)
	o.Set("name", "new")

	if err := o.mergeAfterSave(map[string]any{"updatedAt": "2026-01-02T03:04:05.000Z"}); err != nil {
		t.Fatalf("mergeAfterSave: %v", err)
	}
	if o.IsDirty(false) {
		t.Error("object dirty after save")
	}
	if got := o.serverData["score"]; got != int64(15) {
		t.Errorf("server score = %#v, want 15", got)
	}
	if got := o.serverData["name"]; got != "new" {
		t.Errorf("server name = %#v, want new", got)
	}
	if o.UpdatedAt().IsZero() {
		t.Error("updatedAt not set")
	}
}

func TestMergeFromServerRejectsIDChange(t *testing.T) {
	o := Pointer("Post", "p1").base()
	if err := o.mergeFromServer(map[string]any{"objectId": "p2"}, true); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("mergeFromServer: got %v, want ErrInvalidValue", err)
	}
}

func TestMergeAfterFetchKeepsUnrelatedOps(t *testing.T) {
	o := Pointer("Post", "p1").base()
	o.Set("title", "local")
	o.Set("draft", true)
	if err := o.mergeAfterFetch(map[string]any{"title": "server"}, true); err != nil {
		t.Fatalf("mergeAfterFetch: %v", err)
	}
	if got, _ := o.GetString("title"); got != "server" {
		t.Errorf("title = %q, want server", got)
	}
	if !o.IsKeyDirty("draft") {
		t.Error("pending draft op dropped by fetch")
	}
}

func TestEqual(t *testing.T) {
	a := Pointer("Post", "p1")
	b := Pointer("Post", "p1")
	c := Pointer("Comment", "p1")
	if !a.base().Equal(b) {
		t.Error("same class and id should be equal")
	}
	if a.base().Equal(c) {
		t.Error("different classes should not be equal")
	}
	n1, n2 := NewObject("Post"), NewObject("Post")
	if n1.Equal(n2) || !n1.Equal(n1) {
		t.Error("unsaved objects compare by identity")
	}
}

func TestRegisterSubclass(t *testing.T) {
	type Post struct{ Object }
	if err := RegisterSubclass("Post", func() Record { return &Post{} }); err != nil {
		t.Fatalf("RegisterSubclass: %v", err)
	}
	defer UnregisterSubclass("Post")

	if _, ok := Create("Post").(*Post); !ok {
		t.Errorf("Create = %T, want *Post", Create("Post"))
	}
	if p, ok := Pointer("Post", "p1").(*Post); !ok || p.ID() != "p1" {
		t.Errorf("Pointer = %T", Pointer("Post", "p1"))
	}
	UnregisterSubclass("Post")
	if _, ok := Create("Post").(*Object); !ok {
		t.Errorf("Create after unregister = %T, want *Object", Create("Post"))
	}

	if err := RegisterSubclass("", nil); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("empty registration: got %v, want ErrInvalidValue", err)
	}
}
