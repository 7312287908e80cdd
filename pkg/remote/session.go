package remote

import (
	"context"
	"net/http"
	"strings"
)

// Session is a record of the _Session class. Sessions are created by the
// server on sign up and log in and are read-only on the client.
type Session struct {
	Object
}

func (s *Session) SessionToken() string {
	v, _ := s.GetString("sessionToken")
	return v
}

// IsRevocable reports whether the token is a revocable session token.
func (s *Session) IsRevocable() bool {
	return strings.HasPrefix(s.SessionToken(), "r:")
}

func (s *Session) beforeSave() error {
	return &Error{Code: OperationForbidden, Message: "sessions cannot be saved from the client"}
}

// CurrentSession fetches the session of the current user.
func (c *Client) CurrentSession(ctx context.Context) (*Session, error) {
	u := c.CurrentUser()
	if u == nil || u.SessionToken() == "" {
		return nil, ErrNotLoggedIn
	}
	var resp map[string]any
	if err := c.do(ctx, http.MethodGet, "sessions/me", nil, &resp, callOptions{sessionToken: u.SessionToken()}); err != nil {
		return nil, err
	}
	s, ok := Create(SessionClass).(*Session)
	if !ok {
		return nil, invalidValuef("%s is not registered as *Session", SessionClass)
	}
	if err := s.mergeAfterFetch(resp, true); err != nil {
		return nil, err
	}
	return s, nil
}
