package remote

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultLimit leaves the page size to the server.
const DefaultLimit = -1

// Query accumulates constraints on one class and serializes them into the
// backend filter grammar. Builder methods return the query for chaining; a
// malformed constraint is recorded and reported when the query runs.
type Query struct {
	className string
	where     map[string]any
	order     []string
	includes  []string
	selected  []string
	excluded  []string
	skip      int
	limit     int
	count     bool

	readPreference          string
	includeReadPreference   string
	subqueryReadPreference  string
	redirectClassNameForKey string

	err error
}

// NewQuery starts a query over className.
func NewQuery(className string) *Query {
	return &Query{className: className, where: map[string]any{}, limit: DefaultLimit}
}

func (q *Query) ClassName() string { return q.className }

// Err returns the first constraint error recorded by a builder method.
func (q *Query) Err() error { return q.err }

func (q *Query) fail(err error) *Query {
	if q.err == nil {
		q.err = err
	}
	return q
}

// Clone returns an independent copy of q.
func (q *Query) Clone() *Query {
	cp := *q
	cp.where = cloneWhere(q.where)
	cp.order = append([]string(nil), q.order...)
	cp.includes = append([]string(nil), q.includes...)
	cp.selected = append([]string(nil), q.selected...)
	cp.excluded = append([]string(nil), q.excluded...)
	return &cp
}

func cloneWhere(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case map[string]any:
			out[k] = cloneWhere(x)
		case []any:
			list := make([]any, len(x))
			for i, item := range x {
				if sub, ok := item.(map[string]any); ok {
					list[i] = cloneWhere(sub)
				} else {
					list[i] = item
				}
			}
			out[k] = list
		default:
			out[k] = v
		}
	}
	return out
}

// addCondition stores {op: value} under key next to any other operators
// already constraining key. A plain equality on key is replaced.
func (q *Query) addCondition(key, op string, value any) *Query {
	if key == "" {
		return q.fail(fmt.Errorf("%w: empty key", ErrInvalidQuery))
	}
	cond, ok := q.where[key].(map[string]any)
	if !ok || !isOperatorMap(cond) {
		cond = map[string]any{}
		q.where[key] = cond
	}
	cond[op] = value
	return q
}

func isOperatorMap(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func (q *Query) EqualTo(key string, value any) *Query {
	if key == "" {
		return q.fail(fmt.Errorf("%w: empty key", ErrInvalidQuery))
	}
	q.where[key] = normalizeValue(value)
	return q
}

func (q *Query) NotEqualTo(key string, value any) *Query {
	return q.addCondition(key, "$ne", normalizeValue(value))
}

func (q *Query) LessThan(key string, value any) *Query {
	return q.addCondition(key, "$lt", normalizeValue(value))
}

func (q *Query) LessThanOrEqualTo(key string, value any) *Query {
	return q.addCondition(key, "$lte", normalizeValue(value))
}

func (q *Query) GreaterThan(key string, value any) *Query {
	return q.addCondition(key, "$gt", normalizeValue(value))
}

func (q *Query) GreaterThanOrEqualTo(key string, value any) *Query {
	return q.addCondition(key, "$gte", normalizeValue(value))
}

func (q *Query) listCondition(key, op string, values any) *Query {
	list, ok := toList(values)
	if !ok {
		return q.fail(fmt.Errorf("%w: %s on %q needs a slice, got %T", ErrInvalidQuery, op, key, values))
	}
	return q.addCondition(key, op, normalizeValue(list))
}

// ContainedIn matches objects whose key is one of values.
func (q *Query) ContainedIn(key string, values any) *Query {
	return q.listCondition(key, "$in", values)
}

func (q *Query) NotContainedIn(key string, values any) *Query {
	return q.listCondition(key, "$nin", values)
}

// ContainsAll matches arrays at key holding every one of values.
func (q *Query) ContainsAll(key string, values any) *Query {
	return q.listCondition(key, "$all", values)
}

// ContainsAllStartingWith matches arrays at key holding, for each prefix, a
// string starting with it.
func (q *Query) ContainsAllStartingWith(key string, prefixes ...string) *Query {
	patterns := make([]any, len(prefixes))
	for i, p := range prefixes {
		patterns[i] = map[string]any{"$regex": "^" + QuoteRegex(p)}
	}
	return q.addCondition(key, "$all", patterns)
}

func (q *Query) Exists(key string) *Query {
	return q.addCondition(key, "$exists", true)
}

func (q *Query) DoesNotExist(key string) *Query {
	return q.addCondition(key, "$exists", false)
}

// Matches constrains key to the backend regular expression regex. modifiers
// is passed through as $options (e.g. "i", "m").
func (q *Query) Matches(key, regex, modifiers string) *Query {
	q.addCondition(key, "$regex", regex)
	if modifiers != "" {
		q.addCondition(key, "$options", modifiers)
	}
	return q
}

// QuoteRegex wraps s so that the backend matches it literally.
func QuoteRegex(s string) string {
	return `\Q` + strings.ReplaceAll(s, `\E`, `\E\\E\Q`) + `\E`
}

func (q *Query) StartsWith(key, prefix string) *Query {
	return q.Matches(key, "^"+QuoteRegex(prefix), "")
}

func (q *Query) EndsWith(key, suffix string) *Query {
	return q.Matches(key, QuoteRegex(suffix)+"$", "")
}

func (q *Query) Contains(key, substring string) *Query {
	return q.Matches(key, QuoteRegex(substring), "")
}

// TextOptions tunes a FullText search.
type TextOptions struct {
	Language           string
	CaseSensitive      bool
	DiacriticSensitive bool
}

// FullText runs a text-index search for term on key.
func (q *Query) FullText(key, term string, opts *TextOptions) *Query {
	if term == "" {
		return q.fail(fmt.Errorf("%w: full text search needs a term", ErrInvalidQuery))
	}
	search := map[string]any{"$term": term}
	if opts != nil {
		if opts.Language != "" {
			search["$language"] = opts.Language
		}
		if opts.CaseSensitive {
			search["$caseSensitive"] = true
		}
		if opts.DiacriticSensitive {
			search["$diacriticSensitive"] = true
		}
	}
	return q.addCondition(key, "$text", map[string]any{"$search": search})
}

func subquery(sub *Query) map[string]any {
	return map[string]any{"where": cloneWhere(sub.where), "className": sub.className}
}

// MatchesQuery matches objects whose pointer at key satisfies sub.
func (q *Query) MatchesQuery(key string, sub *Query) *Query {
	if sub.err != nil {
		return q.fail(sub.err)
	}
	return q.addCondition(key, "$inQuery", subquery(sub))
}

func (q *Query) DoesNotMatchQuery(key string, sub *Query) *Query {
	if sub.err != nil {
		return q.fail(sub.err)
	}
	return q.addCondition(key, "$notInQuery", subquery(sub))
}

// MatchesKeyInQuery matches objects whose key equals queryKey of any result
// of sub.
func (q *Query) MatchesKeyInQuery(key, queryKey string, sub *Query) *Query {
	if sub.err != nil {
		return q.fail(sub.err)
	}
	return q.addCondition(key, "$select", map[string]any{"query": subquery(sub), "key": queryKey})
}

func (q *Query) DoesNotMatchKeyInQuery(key, queryKey string, sub *Query) *Query {
	if sub.err != nil {
		return q.fail(sub.err)
	}
	return q.addCondition(key, "$dontSelect", map[string]any{"query": subquery(sub), "key": queryKey})
}

// RelatedTo matches objects in the relation stored at key of parent.
func (q *Query) RelatedTo(parent Record, key string) *Query {
	return q.relatedTo(parent.base(), key)
}

func (q *Query) relatedTo(parent *Object, key string) *Query {
	if parent.id == "" {
		return q.fail(fmt.Errorf("%w: relation parent %s has no id", ErrUnsavedReference, parent.className))
	}
	q.where["$relatedTo"] = map[string]any{"object": parent, "key": key}
	return q
}

// Near sorts results by distance from point.
func (q *Query) Near(key string, point GeoPoint) *Query {
	return q.addCondition(key, "$nearSphere", point)
}

// WithinRadians matches points within maxDistance radians of point. With
// sorted, results are ordered by distance.
func (q *Query) WithinRadians(key string, point GeoPoint, maxDistance float64, sorted bool) *Query {
	if sorted {
		q.addCondition(key, "$nearSphere", point)
		return q.addCondition(key, "$maxDistance", maxDistance)
	}
	return q.addCondition(key, "$geoWithin", map[string]any{
		"$centerSphere": []any{[]any{point.Longitude, point.Latitude}, maxDistance},
	})
}

func (q *Query) WithinMiles(key string, point GeoPoint, maxDistance float64, sorted bool) *Query {
	return q.WithinRadians(key, point, maxDistance/EarthRadiusMiles, sorted)
}

func (q *Query) WithinKilometers(key string, point GeoPoint, maxDistance float64, sorted bool) *Query {
	return q.WithinRadians(key, point, maxDistance/EarthRadiusKilometers, sorted)
}

// WithinGeoBox matches points inside the box from southwest to northeast.
func (q *Query) WithinGeoBox(key string, southwest, northeast GeoPoint) *Query {
	return q.addCondition(key, "$within", map[string]any{"$box": []any{southwest, northeast}})
}

// WithinPolygon matches points inside the polygon through points.
func (q *Query) WithinPolygon(key string, points []GeoPoint) *Query {
	if len(points) < 3 {
		return q.fail(fmt.Errorf("%w: polygon needs at least 3 points", ErrInvalidQuery))
	}
	list := make([]any, len(points))
	for i, p := range points {
		list[i] = p
	}
	return q.addCondition(key, "$geoWithin", map[string]any{"$polygon": list})
}

// PolygonContains matches polygons at key containing point.
func (q *Query) PolygonContains(key string, point GeoPoint) *Query {
	return q.addCondition(key, "$geoIntersects", map[string]any{"$point": point})
}

// Ascending replaces the sort order with keys, ascending.
func (q *Query) Ascending(keys ...string) *Query {
	q.order = nil
	return q.AddAscending(keys...)
}

func (q *Query) AddAscending(keys ...string) *Query {
	q.order = append(q.order, keys...)
	return q
}

// Descending replaces the sort order with keys, descending.
func (q *Query) Descending(keys ...string) *Query {
	q.order = nil
	return q.AddDescending(keys...)
}

func (q *Query) AddDescending(keys ...string) *Query {
	for _, k := range keys {
		q.order = append(q.order, "-"+k)
	}
	return q
}

func (q *Query) Skip(n int) *Query {
	if n < 0 {
		return q.fail(fmt.Errorf("%w: negative skip", ErrInvalidQuery))
	}
	q.skip = n
	return q
}

// Limit caps the number of results. DefaultLimit restores the server default.
func (q *Query) Limit(n int) *Query {
	if n < DefaultLimit {
		return q.fail(fmt.Errorf("%w: negative limit", ErrInvalidQuery))
	}
	q.limit = n
	return q
}

// Include fetches the records pointed to by keys along with the results.
func (q *Query) Include(keys ...string) *Query {
	q.includes = append(q.includes, keys...)
	return q
}

// Select restricts the returned fields to keys.
func (q *Query) Select(keys ...string) *Query {
	q.selected = append(q.selected, keys...)
	return q
}

// Exclude drops keys from the returned fields, overriding Select.
func (q *Query) Exclude(keys ...string) *Query {
	q.excluded = append(q.excluded, keys...)
	return q
}

// ReadPreference sets replica read hints for the query, its includes and
// its subqueries. Empty values are not sent.
func (q *Query) ReadPreference(pref, includePref, subqueryPref string) *Query {
	q.readPreference = pref
	q.includeReadPreference = includePref
	q.subqueryReadPreference = subqueryPref
	return q
}

// WithCount asks Find to report the total match count as well.
func (q *Query) WithCount(on bool) *Query {
	q.count = on
	return q
}

func compoundQuery(op string, queries []*Query) (*Query, error) {
	if len(queries) == 0 {
		return nil, fmt.Errorf("%w: %s needs at least one query", ErrInvalidQuery, op)
	}
	className := queries[0].className
	clauses := make([]any, 0, len(queries))
	for _, sub := range queries {
		if sub.className != className {
			return nil, fmt.Errorf("%w: %s over different classes %s and %s", ErrInvalidQuery, op, className, sub.className)
		}
		if sub.err != nil {
			return nil, sub.err
		}
		clauses = append(clauses, cloneWhere(sub.where))
	}
	out := NewQuery(className)
	out.where[op] = clauses
	return out, nil
}

// OrQueries matches objects satisfying any of queries, which must share a class.
func OrQueries(queries ...*Query) (*Query, error) { return compoundQuery("$or", queries) }

// AndQueries matches objects satisfying all of queries.
func AndQueries(queries ...*Query) (*Query, error) { return compoundQuery("$and", queries) }

// NorQueries matches objects satisfying none of queries.
func NorQueries(queries ...*Query) (*Query, error) { return compoundQuery("$nor", queries) }

// Where returns the encoded where-map.
func (q *Query) Where() (map[string]any, error) {
	if q.err != nil {
		return nil, q.err
	}
	enc, err := Encode(q.where, true)
	if err != nil {
		return nil, fmt.Errorf("encode where: %w", err)
	}
	return enc.(map[string]any), nil
}

func (q *Query) projection() (keys []string) {
	excluded := make(map[string]bool, len(q.excluded))
	for _, k := range q.excluded {
		excluded[k] = true
	}
	for _, k := range q.selected {
		if !excluded[k] {
			keys = append(keys, k)
		}
	}
	return keys
}

// Options returns the find options the query sends, keyed by parameter name.
func (q *Query) Options() (map[string]any, error) {
	where, err := q.Where()
	if err != nil {
		return nil, err
	}
	opts := map[string]any{"where": where}
	if q.limit >= 0 {
		opts["limit"] = q.limit
	}
	if q.skip > 0 {
		opts["skip"] = q.skip
	}
	if len(q.order) > 0 {
		opts["order"] = strings.Join(q.order, ",")
	}
	if len(q.includes) > 0 {
		opts["include"] = strings.Join(q.includes, ",")
	}
	if keys := q.projection(); len(keys) > 0 {
		opts["keys"] = strings.Join(keys, ",")
	}
	if len(q.excluded) > 0 {
		opts["excludeKeys"] = strings.Join(q.excluded, ",")
	}
	if q.count {
		opts["count"] = 1
	}
	if q.readPreference != "" {
		opts["readPreference"] = q.readPreference
	}
	if q.includeReadPreference != "" {
		opts["includeReadPreference"] = q.includeReadPreference
	}
	if q.subqueryReadPreference != "" {
		opts["subqueryReadPreference"] = q.subqueryReadPreference
	}
	if q.redirectClassNameForKey != "" {
		opts["redirectClassNameForKey"] = q.redirectClassNameForKey
	}
	return opts, nil
}

func (q *Query) params() (url.Values, error) {
	opts, err := q.Options()
	if err != nil {
		return nil, err
	}
	vals := url.Values{}
	for k, v := range opts {
		switch x := v.(type) {
		case string:
			vals.Set(k, x)
		case int:
			vals.Set(k, strconv.Itoa(x))
		default:
			data, err := json.Marshal(x)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", k, err)
			}
			vals.Set(k, string(data))
		}
	}
	return vals, nil
}

// partial reports whether results carry only some of their fields.
func (q *Query) partial() bool {
	return len(q.selected) > 0 || len(q.excluded) > 0
}
