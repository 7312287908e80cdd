package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"reflect"
	"testing"
)

func whereOf(t *testing.T, q *Query) map[string]any {
	t.Helper()
	w, err := q.Where()
	if err != nil {
		t.Fatalf("Where: %v", err)
	}
	return w
}

func TestStartsWithQuotesRegex(t *testing.T) {
	q := NewQuery("Post").StartsWith("name", "a.b")
	got := whereOf(t, q)["name"].(map[string]any)["$regex"]
	if got != `^\Qa.b\E` {
		t.Errorf("$regex = %q, want %q", got, `^\Qa.b\E`)
	}
}

func TestQuoteRegex(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", `\Qplain\E`},
		{"a.*b", `\Qa.*b\E`},
		{`a\Eb`, `\Qa\E\\E\Qb\E`},
		{"", `\Q\E`},
	}
	for _, tt := range tests {
		if got := QuoteRegex(tt.in); got != tt.want {
			t.Errorf("QuoteRegex(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStringMatchers(t *testing.T) {
	w := whereOf(t, NewQuery("Post").EndsWith("a", "x").Contains("b", "y").Matches("c", "^z", "i"))
	if got := w["a"].(map[string]any)["$regex"]; got != `\Qx\E$` {
		t.Errorf("EndsWith = %q", got)
	}
	if got := w["b"].(map[string]any)["$regex"]; got != `\Qy\E` {
		t.Errorf("Contains = %q", got)
	}
	c := w["c"].(map[string]any)
	if c["$regex"] != "^z" || c["$options"] != "i" {
		t.Errorf("Matches = %v", c)
	}
}

func TestOperatorsOnSameKeyCoexist(t *testing.T) {
	q := NewQuery("Score").GreaterThan("n", 1).LessThanOrEqualTo("n", 5).NotEqualTo("n", 3)
	got := whereOf(t, q)["n"]
	want := map[string]any{"$gt": int64(1), "$lte": int64(5), "$ne": int64(3)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("n = %v, want %v", got, want)
	}
}

func TestEqualityReplacedByOperator(t *testing.T) {
	q := NewQuery("Score").EqualTo("n", 7).GreaterThan("n", 1)
	got := whereOf(t, q)["n"]
	want := map[string]any{"$gt": int64(1)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("n = %v, want %v", got, want)
	}

	q.EqualTo("n", 9)
	if got := whereOf(t, q)["n"]; got != int64(9) {
		t.Errorf("n = %v, want 9", got)
	}
}

func TestEqualToEncodesValues(t *testing.T) {
	author := Pointer("_User", "u1")
	q := NewQuery("Post").EqualTo("author", author).ContainedIn("tags", []string{"a", "b"})
	w := whereOf(t, q)
	ptr := w["author"].(map[string]any)
	if ptr["__type"] != "Pointer" || ptr["objectId"] != "u1" {
		t.Errorf("author = %v", ptr)
	}
	in := w["tags"].(map[string]any)["$in"]
	if !reflect.DeepEqual(in, []any{"a", "b"}) {
		t.Errorf("tags $in = %v", in)
	}

	q = NewQuery("Post").EqualTo("author", NewObject("_User"))
	if _, err := q.Where(); !errors.Is(err, ErrUnsavedReference) {
		t.Errorf("unsaved pointer: got %v, want ErrUnsavedReference", err)
	}
}

func TestContainedInNeedsSlice(t *testing.T) {
	q := NewQuery("Post").ContainedIn("tags", "a")
	if !errors.Is(q.Err(), ErrInvalidQuery) {
		t.Fatalf("Err = %v, want ErrInvalidQuery", q.Err())
	}
	if _, err := q.Options(); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("Options: got %v, want ErrInvalidQuery", err)
	}
}

func TestContainsAllStartingWith(t *testing.T) {
	w := whereOf(t, NewQuery("Post").ContainsAllStartingWith("tags", "go", "rust"))
	all := w["tags"].(map[string]any)["$all"].([]any)
	if len(all) != 2 || all[0].(map[string]any)["$regex"] != `^\Qgo\E` {
		t.Errorf("$all = %v", all)
	}
}

func TestExists(t *testing.T) {
	w := whereOf(t, NewQuery("Post").Exists("a").DoesNotExist("b"))
	if w["a"].(map[string]any)["$exists"] != true || w["b"].(map[string]any)["$exists"] != false {
		t.Errorf("where = %v", w)
	}
}

func TestSubqueries(t *testing.T) {
	inner := NewQuery("_User").EqualTo("banned", true)
	q := NewQuery("Post").
		DoesNotMatchQuery("author", inner).
		MatchesKeyInQuery("city", "hometown", NewQuery("_User"))
	w := whereOf(t, q)

	notIn := w["author"].(map[string]any)["$notInQuery"].(map[string]any)
	if notIn["className"] != "_User" || !reflect.DeepEqual(notIn["where"], map[string]any{"banned": true}) {
		t.Errorf("$notInQuery = %v", notIn)
	}
	sel := w["city"].(map[string]any)["$select"].(map[string]any)
	if sel["key"] != "hometown" || sel["query"].(map[string]any)["className"] != "_User" {
		t.Errorf("$select = %v", sel)
	}
}

func TestCompoundQueries(t *testing.T) {
	a := NewQuery("Player").GreaterThan("wins", 150)
	b := NewQuery("Player").LessThan("wins", 5)
	or, err := OrQueries(a, b)
	if err != nil {
		t.Fatalf("OrQueries: %v", err)
	}
	clauses := whereOf(t, or)["$or"].([]any)
	if len(clauses) != 2 {
		t.Fatalf("$or = %v", clauses)
	}
	if !reflect.DeepEqual(clauses[0], map[string]any{"wins": map[string]any{"$gt": int64(150)}}) {
		t.Errorf("$or[0] = %v", clauses[0])
	}
	if or.ClassName() != "Player" {
		t.Errorf("class = %q", or.ClassName())
	}

	if _, err := AndQueries(a, NewQuery("Team")); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("mismatched classes: got %v, want ErrInvalidQuery", err)
	}
	if _, err := NorQueries(); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("no queries: got %v, want ErrInvalidQuery", err)
	}
}

func TestGeoConstraints(t *testing.T) {
	p := GeoPoint{Latitude: 40, Longitude: -70}

	w := whereOf(t, NewQuery("Place").WithinMiles("loc", p, EarthRadiusMiles, false))
	center := w["loc"].(map[string]any)["$geoWithin"].(map[string]any)["$centerSphere"].([]any)
	if got := center[1].(float64); math.Abs(got-1) > 1e-9 {
		t.Errorf("radians = %v, want 1", got)
	}
	if !reflect.DeepEqual(center[0], []any{-70.0, 40.0}) {
		t.Errorf("center = %v, want [lng lat]", center[0])
	}

	w = whereOf(t, NewQuery("Place").WithinKilometers("loc", p, EarthRadiusKilometers/2, true))
	cond := w["loc"].(map[string]any)
	if cond["$maxDistance"] != 0.5 {
		t.Errorf("$maxDistance = %v, want 0.5", cond["$maxDistance"])
	}
	if cond["$nearSphere"].(map[string]any)["__type"] != "GeoPoint" {
		t.Errorf("$nearSphere = %v", cond["$nearSphere"])
	}

	q := NewQuery("Place").WithinPolygon("loc", []GeoPoint{p, p})
	if !errors.Is(q.Err(), ErrInvalidQuery) {
		t.Errorf("two-point polygon: got %v, want ErrInvalidQuery", q.Err())
	}

	w = whereOf(t, NewQuery("Place").WithinGeoBox("loc", GeoPoint{Latitude: 0, Longitude: 0}, GeoPoint{Latitude: 1, Longitude: 1}))
	box := w["loc"].(map[string]any)["$within"].(map[string]any)["$box"].([]any)
	if len(box) != 2 {
		t.Errorf("$box = %v", box)
	}
}

func TestOptions(t *testing.T) {
	q := NewQuery("Post").
		Ascending("a").AddDescending("b").
		Skip(10).Limit(5).
		Include("author").
		Select("title", "body").Exclude("body").
		WithCount(true).
		ReadPreference("SECONDARY", "", "")
	opts, err := q.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	want := map[string]any{
		"where":          map[string]any{},
		"order":          "a,-b",
		"skip":           10,
		"limit":          5,
		"include":        "author",
		"keys":           "title",
		"excludeKeys":    "body",
		"count":          1,
		"readPreference": "SECONDARY",
	}
	if !reflect.DeepEqual(opts, want) {
		t.Errorf("Options = %v\nwant %v", opts, want)
	}

	q.Descending("c")
	opts, _ = q.Options()
	if opts["order"] != "-c" {
		t.Errorf("order after Descending = %v", opts["order"])
	}
}

func TestCloneIsIndependent(t *testing.T) {
	q := NewQuery("Post").GreaterThan("n", 1)
	cp := q.Clone().LessThan("n", 9)
	if _, ok := whereOf(t, q)["n"].(map[string]any)["$lt"]; ok {
		t.Error("clone modified original where")
	}
	if _, ok := whereOf(t, cp)["n"].(map[string]any)["$gt"]; !ok {
		t.Error("clone lost original constraint")
	}
}

func TestRelationQuery(t *testing.T) {
	parent := Pointer("Post", "p1").base()
	rel, err := parent.Relation("likes")
	if err != nil {
		t.Fatalf("Relation: %v", err)
	}
	q := rel.Query()
	opts, err := q.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if opts["redirectClassNameForKey"] != "likes" || q.ClassName() != "Post" {
		t.Errorf("untyped relation query = %v on %s", opts, q.ClassName())
	}
	related := opts["where"].(map[string]any)["$relatedTo"].(map[string]any)
	if related["key"] != "likes" || related["object"].(map[string]any)["objectId"] != "p1" {
		t.Errorf("$relatedTo = %v", related)
	}

	if err := rel.Add(Pointer("_User", "u1")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := rel.Query().ClassName(); got != "_User" {
		t.Errorf("typed relation query class = %q, want _User", got)
	}
}

func TestFindDecodesResults(t *testing.T) {
	var gotWhere map[string]any
	var gotLimit string
	c, _ := newTestClient(t, func(req *Request) (*Response, error) {
		u, _ := url.Parse(req.URL)
		json.Unmarshal([]byte(u.Query().Get("where")), &gotWhere)
		gotLimit = u.Query().Get("limit")
		return jsonResponse(http.StatusOK, map[string]any{"results": []any{
			map[string]any{"objectId": "u1", "username": "ann", "createdAt": "2026-01-02T03:04:05.000Z"},
		}}), nil
	})

	results, err := c.Find(context.Background(), NewQuery("_User").EqualTo("username", "ann").Limit(3))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if gotLimit != "3" || gotWhere["username"] != "ann" {
		t.Errorf("params: limit=%q where=%v", gotLimit, gotWhere)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	u, ok := results[0].(*User)
	if !ok {
		t.Fatalf("result is %T, want *User", results[0])
	}
	if u.Username() != "ann" || u.ID() != "u1" || !u.IsDataAvailable() {
		t.Errorf("user = %s %s available=%v", u.ID(), u.Username(), u.IsDataAvailable())
	}
}

func TestFindPartialResults(t *testing.T) {
	c, _ := newTestClient(t, func(req *Request) (*Response, error) {
		return jsonResponse(http.StatusOK, map[string]any{"results": []any{
			map[string]any{"objectId": "p1", "title": "t"},
		}}), nil
	})
	results, err := c.Find(context.Background(), NewQuery("Post").Select("title"))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	p := results[0].base()
	if p.IsDataAvailable() {
		t.Error("partial result reported complete")
	}
	if _, err := p.Get("title"); err != nil {
		t.Errorf("Get(title): %v", err)
	}
	if _, err := p.Get("body"); !errors.Is(err, ErrUnavailableField) {
		t.Errorf("Get(body): got %v, want ErrUnavailableField", err)
	}
}

func TestCountAndFirst(t *testing.T) {
	c, ft := newTestClient(t, func(req *Request) (*Response, error) {
		u, _ := url.Parse(req.URL)
		if u.Query().Get("count") == "1" {
			return jsonResponse(http.StatusOK, map[string]any{"results": []any{}, "count": 42}), nil
		}
		return jsonResponse(http.StatusOK, map[string]any{"results": []any{}}), nil
	})
	ctx := context.Background()

	n, err := c.Count(ctx, NewQuery("Post").Ascending("a").Limit(3))
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 42 {
		t.Errorf("Count = %d, want 42", n)
	}
	u, _ := url.Parse(ft.requests[0].URL)
	if u.Query().Get("limit") != "0" || u.Query().Get("order") != "" {
		t.Errorf("count params = %v", u.Query())
	}

	_, err = c.First(ctx, NewQuery("Post"))
	if !IsCode(err, ObjectNotFound) {
		t.Errorf("First: got %v, want code %d", err, ObjectNotFound)
	}
}

func TestDistinctUsesMasterKey(t *testing.T) {
	c, ft := newTestClient(t, func(req *Request) (*Response, error) {
		return jsonResponse(http.StatusOK, map[string]any{"results": []any{"a", "b"}}), nil
	})
	vals, err := c.Distinct(context.Background(), NewQuery("Post").Exists("tag"), "tag")
	if err != nil {
		t.Fatalf("Distinct: %v", err)
	}
	if !reflect.DeepEqual(vals, []any{"a", "b"}) {
		t.Errorf("values = %v", vals)
	}
	req := ft.requests[0]
	if requestPath(t, req) != "aggregate/Post" || req.Header.Get("X-Parse-Master-Key") != "master" {
		t.Errorf("request = %s with headers %v", req.URL, req.Header)
	}
}

func TestEachRejectsOrdering(t *testing.T) {
	tests := []struct {
		name string
		q    *Query
	}{
		{"limit", NewQuery("Post").Limit(10)},
		{"skip", NewQuery("Post").Skip(1)},
		{"order", NewQuery("Post").Ascending("a")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ft := newTestClient(t, nil)
			err := c.Each(context.Background(), tt.q, 10, func(Record) error { return nil })
			if !errors.Is(err, ErrInvalidQuery) {
				t.Fatalf("Each: got %v, want ErrInvalidQuery", err)
			}
			if ft.count() != 0 {
				t.Errorf("requests = %d, want 0", ft.count())
			}
		})
	}
}

func TestEachPagesByObjectID(t *testing.T) {
	pages := [][]string{{"a", "b"}, {"c"}}
	var wheres []map[string]any
	c, _ := newTestClient(t, func(req *Request) (*Response, error) {
		u, _ := url.Parse(req.URL)
		var w map[string]any
		json.Unmarshal([]byte(u.Query().Get("where")), &w)
		wheres = append(wheres, w)
		if u.Query().Get("order") != "objectId" {
			t.Errorf("order = %q, want objectId", u.Query().Get("order"))
		}
		ids := pages[len(wheres)-1]
		results := make([]any, len(ids))
		for i, id := range ids {
			results[i] = map[string]any{"objectId": id}
		}
		return jsonResponse(http.StatusOK, map[string]any{"results": results}), nil
	})

	var seen []string
	err := c.Each(context.Background(), NewQuery("Post"), 2, func(r Record) error {
		seen = append(seen, r.ID())
		return nil
	})
	if err != nil {
		t.Fatalf("Each: %v", err)
	}
	if fmt.Sprint(seen) != "[a b c]" {
		t.Errorf("seen = %v", seen)
	}
	if len(wheres) != 2 {
		t.Fatalf("requests = %d, want 2", len(wheres))
	}
	gt := wheres[1]["objectId"].(map[string]any)["$gt"]
	if gt != "b" {
		t.Errorf("second page $gt = %v, want b", gt)
	}
}

func TestEachStopsOnCallbackError(t *testing.T) {
	c, _ := newTestClient(t, func(req *Request) (*Response, error) {
		return jsonResponse(http.StatusOK, map[string]any{"results": []any{
			map[string]any{"objectId": "a"}, map[string]any{"objectId": "b"},
		}}), nil
	})
	stop := errors.New("stop")
	calls := 0
	err := c.Each(context.Background(), NewQuery("Post"), 2, func(Record) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("Each: err=%v calls=%d", err, calls)
	}
}

func TestSubqueryCopiedWhenAdded(t *testing.T) {
	inner := NewQuery("_User").EqualTo("banned", true)
	q := NewQuery("Post").
		MatchesQuery("author", inner).
		MatchesKeyInQuery("city", "hometown", inner)
	inner.EqualTo("role", "admin")

	w := whereOf(t, q)
	want := map[string]any{"banned": true}
	in := w["author"].(map[string]any)["$inQuery"].(map[string]any)
	if !reflect.DeepEqual(in["where"], want) {
		t.Errorf("$inQuery where = %v, want %v", in["where"], want)
	}
	sel := w["city"].(map[string]any)["$select"].(map[string]any)["query"].(map[string]any)
	if !reflect.DeepEqual(sel["where"], want) {
		t.Errorf("$select where = %v, want %v", sel["where"], want)
	}
}
