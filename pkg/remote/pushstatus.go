package remote

import (
	"context"
	"net/http"
)

// Push status values reported by the server.
const (
	PushPending   = "pending"
	PushScheduled = "scheduled"
	PushRunning   = "running"
	PushSucceeded = "succeeded"
	PushFailed    = "failed"
)

// PushStatus is a record of the _PushStatus class tracking one push send.
type PushStatus struct {
	Object
}

func (p *PushStatus) Status() string {
	s, _ := p.GetString("status")
	return s
}

func (p *PushStatus) NumSent() int64 {
	n, _ := p.GetInt("numSent")
	return n
}

func (p *PushStatus) NumFailed() int64 {
	n, _ := p.GetInt("numFailed")
	return n
}

func (p *PushStatus) IsPending() bool {
	s := p.Status()
	return s == PushPending || s == PushScheduled || s == PushRunning
}

func (p *PushStatus) HasSucceeded() bool { return p.Status() == PushSucceeded }
func (p *PushStatus) HasFailed() bool    { return p.Status() == PushFailed }

// GetPushStatus loads the status of the push with id. Push statuses are
// only readable with the master key.
func (c *Client) GetPushStatus(ctx context.Context, id string) (*PushStatus, error) {
	p, ok := Pointer(PushStatusClass, id).(*PushStatus)
	if !ok {
		return nil, invalidValuef("%s is not registered as *PushStatus", PushStatusClass)
	}
	if err := c.Fetch(ctx, p, UseMasterKey()); err != nil {
		return nil, err
	}
	return p, nil
}

// SendPush asks the server to deliver data to the installations matching
// where. It returns the push status id when the server reports one.
func (c *Client) SendPush(ctx context.Context, where *Query, data map[string]any) (string, error) {
	body := map[string]any{"data": data}
	if where != nil {
		w, err := where.Where()
		if err != nil {
			return "", err
		}
		body["where"] = w
	}
	var resp map[string]any
	if err := c.do(ctx, http.MethodPost, "push", body, &resp, callOptions{useMasterKey: true}); err != nil {
		return "", err
	}
	id, _ := resp["objectId"].(string)
	return id, nil
}
