package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

type findResponse struct {
	Results   []map[string]any `json:"results"`
	Count     *int64           `json:"count"`
	ClassName string           `json:"className"`
}

func (c *Client) find(ctx context.Context, q *Query, o callOptions) (*findResponse, error) {
	params, err := q.params()
	if err != nil {
		return nil, err
	}
	var resp findResponse
	if err := c.doQuery(ctx, "classes/"+url.PathEscape(q.className), params, &resp, o); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) findRaw(ctx context.Context, q *Query, o callOptions) ([]map[string]any, error) {
	resp, err := c.find(ctx, q, o)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// decodeResults turns raw results into records. A relation query without a
// known target class is answered in the class the server names.
func decodeResults(q *Query, resp *findResponse) ([]Record, error) {
	className := q.className
	if resp.ClassName != "" {
		className = resp.ClassName
	}
	complete := !q.partial()
	out := make([]Record, 0, len(resp.Results))
	for _, data := range resp.Results {
		id, _ := data["objectId"].(string)
		r := Pointer(className, id)
		if err := r.base().mergeAfterFetch(data, complete); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Find returns the records matching q.
func (c *Client) Find(ctx context.Context, q *Query, opts ...CallOption) ([]Record, error) {
	records, _, err := c.FindWithCount(ctx, q, opts...)
	return records, err
}

// FindWithCount is Find that also returns the total number of matches when
// q.WithCount(true) was set; otherwise the count is -1.
func (c *Client) FindWithCount(ctx context.Context, q *Query, opts ...CallOption) ([]Record, int64, error) {
	resp, err := c.find(ctx, q, collectOptions(opts))
	if err != nil {
		return nil, 0, err
	}
	records, err := decodeResults(q, resp)
	if err != nil {
		return nil, 0, err
	}
	count := int64(-1)
	if resp.Count != nil {
		count = *resp.Count
	}
	return records, count, nil
}

// First returns the first record matching q. When nothing matches the error
// is an *Error with code ObjectNotFound.
func (c *Client) First(ctx context.Context, q *Query, opts ...CallOption) (Record, error) {
	records, err := c.Find(ctx, q.Clone().Limit(1), opts...)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &Error{Code: ObjectNotFound, Message: "no results found for query"}
	}
	return records[0], nil
}

// GetObject returns the record of q's class with id, honoring q's other settings.
func (c *Client) GetObject(ctx context.Context, q *Query, id string, opts ...CallOption) (Record, error) {
	return c.First(ctx, q.Clone().EqualTo("objectId", id), opts...)
}

// Count returns the number of records matching q.
func (c *Client) Count(ctx context.Context, q *Query, opts ...CallOption) (int64, error) {
	cq := q.Clone().Limit(0).WithCount(true)
	cq.order = nil
	cq.skip = 0
	resp, err := c.find(ctx, cq, collectOptions(opts))
	if err != nil {
		return 0, err
	}
	if resp.Count == nil {
		return 0, &Error{Code: InvalidJSON, Message: "count missing from response"}
	}
	return *resp.Count, nil
}

// Distinct returns the distinct values of key among records matching q.
// The aggregate endpoint requires the master key.
func (c *Client) Distinct(ctx context.Context, q *Query, key string, opts ...CallOption) ([]any, error) {
	where, err := q.Where()
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("distinct", key)
	if len(where) > 0 {
		data, err := jsonString(where)
		if err != nil {
			return nil, err
		}
		params.Set("where", data)
	}
	o := collectOptions(opts)
	o.useMasterKey = true
	var resp struct {
		Results []any `json:"results"`
	}
	if err := c.doQuery(ctx, "aggregate/"+url.PathEscape(q.className), params, &resp, o); err != nil {
		return nil, err
	}
	out := make([]any, len(resp.Results))
	for i, v := range resp.Results {
		dec, err := Decode(v)
		if err != nil {
			return nil, err
		}
		out[i] = dec
	}
	return out, nil
}

// Each calls fn for every record matching q, paging by ascending objectId
// in pages of batchSize (100 when zero). q must not set a sort order, skip,
// or limit. fn returning an error stops iteration with that error.
func (c *Client) Each(ctx context.Context, q *Query, batchSize int, fn func(Record) error, opts ...CallOption) error {
	if len(q.order) > 0 || q.skip > 0 || q.limit >= 0 {
		return fmt.Errorf("%w: Each cannot be used with a sort order, skip, or limit", ErrInvalidQuery)
	}
	if q.err != nil {
		return q.err
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	page := q.Clone().Ascending("objectId").Limit(batchSize)
	for {
		records, err := c.Find(ctx, page, opts...)
		if err != nil {
			return err
		}
		for _, r := range records {
			if err := fn(r); err != nil {
				return err
			}
		}
		if len(records) < batchSize {
			return nil
		}
		last := records[len(records)-1].base().id
		page = q.Clone().Ascending("objectId").Limit(batchSize).GreaterThan("objectId", last)
		c.logger.Debug("each page", "class", q.className, "after", last, "size", len(records))
	}
}

func jsonString(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(data), nil
}
