package remote

import (
	"context"
	"fmt"
	"net/http"
)

// User is a record of the _User class with authentication helpers.
type User struct {
	Object
}

// NewUser returns a new, unsaved user.
func NewUser() *User {
	u := &User{}
	u.init(UserClass, "")
	return u
}

func (u *User) Username() string {
	s, _ := u.GetString("username")
	return s
}

func (u *User) SetUsername(name string) error { return u.Set("username", name) }

func (u *User) Email() string {
	s, _ := u.GetString("email")
	return s
}

func (u *User) SetEmail(email string) error { return u.Set("email", email) }

// SetPassword queues a password change. The password is never read back.
func (u *User) SetPassword(password string) error { return u.Set("password", password) }

// SessionToken returns the token issued at sign up or log in, or "".
func (u *User) SessionToken() string {
	s, _ := u.serverData["sessionToken"].(string)
	return s
}

func (u *User) setSessionToken(token string) {
	if token == "" {
		return
	}
	u.serverData["sessionToken"] = token
	u.rebuildEstimatedData()
}

func (u *User) afterSave() {
	delete(u.serverData, "password")
	delete(u.estimated, "password")
}

func (u *User) beforeSave() error {
	if u.id == "" && u.SessionToken() == "" {
		return &Error{Code: MustCreateThroughSignUp, Message: "new users must be created with SignUp"}
	}
	return nil
}

// IsAuthenticated reports whether u is the client's current user and holds
// a session token.
func (c *Client) IsAuthenticated(u *User) bool {
	return c.isCurrentUser(u) && u.SessionToken() != ""
}

func (c *Client) isCurrentUser(u *User) bool {
	cu := c.CurrentUser()
	if cu == nil || u == nil {
		return false
	}
	return cu == u || (cu.id != "" && cu.id == u.id)
}

// SignUp creates u on the server and makes it the current user. Username and
// password are required.
func (c *Client) SignUp(ctx context.Context, u *User, opts ...CallOption) error {
	if u.id != "" {
		return invalidValuef("user %s already exists", u.id)
	}
	if name, _ := u.estimated["username"].(string); name == "" {
		return &Error{Code: UsernameMissing, Message: "cannot sign up without a username"}
	}
	if pw, _ := u.estimated["password"].(string); pw == "" {
		return &Error{Code: PasswordMissing, Message: "cannot sign up without a password"}
	}
	body, err := u.saveJSON()
	if err != nil {
		return err
	}
	o := collectOptions(opts)
	o.revocable = true
	var resp map[string]any
	if err := c.do(ctx, http.MethodPost, "users", body, &resp, o); err != nil {
		return err
	}
	if err := u.mergeAfterSave(resp); err != nil {
		return err
	}
	u.afterSave()
	c.logger.Debug("signed up", "user", u.id)
	return c.setCurrentUser(u)
}

func (c *Client) userFromResponse(resp map[string]any) (*User, error) {
	u, ok := Create(UserClass).(*User)
	if !ok {
		return nil, invalidValuef("%s is not registered as *User", UserClass)
	}
	if err := u.mergeAfterFetch(resp, true); err != nil {
		return nil, err
	}
	return u, nil
}

// LogIn authenticates with username and password and makes the user the
// current user.
func (c *Client) LogIn(ctx context.Context, username, password string, opts ...CallOption) (*User, error) {
	if username == "" {
		return nil, &Error{Code: UsernameMissing, Message: "cannot log in without a username"}
	}
	if password == "" {
		return nil, &Error{Code: PasswordMissing, Message: "cannot log in without a password"}
	}
	o := collectOptions(opts)
	o.revocable = true
	var resp map[string]any
	body := map[string]any{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "login", body, &resp, o); err != nil {
		return nil, err
	}
	return c.loggedIn(resp)
}

// LogInWith authenticates through a third-party provider such as "facebook"
// or "anonymous", creating the user if needed.
func (c *Client) LogInWith(ctx context.Context, provider string, authData map[string]any, opts ...CallOption) (*User, error) {
	if provider == "" {
		return nil, invalidValuef("auth provider required")
	}
	enc, err := Encode(authData, false)
	if err != nil {
		return nil, err
	}
	o := collectOptions(opts)
	o.revocable = true
	var resp map[string]any
	body := map[string]any{"authData": map[string]any{provider: enc}}
	if err := c.do(ctx, http.MethodPost, "users", body, &resp, o); err != nil {
		return nil, err
	}
	return c.loggedIn(resp)
}

// Become makes the owner of sessionToken the current user.
func (c *Client) Become(ctx context.Context, sessionToken string) (*User, error) {
	if sessionToken == "" {
		return nil, &Error{Code: InvalidSessionToken, Message: "session token required"}
	}
	var resp map[string]any
	if err := c.do(ctx, http.MethodGet, "users/me", nil, &resp, callOptions{sessionToken: sessionToken}); err != nil {
		return nil, err
	}
	if _, ok := resp["sessionToken"]; !ok {
		resp["sessionToken"] = sessionToken
	}
	return c.loggedIn(resp)
}

func (c *Client) loggedIn(resp map[string]any) (*User, error) {
	u, err := c.userFromResponse(resp)
	if err != nil {
		return nil, err
	}
	if u.SessionToken() == "" {
		return nil, &Error{Code: InvalidSessionToken, Message: "server did not return a session token"}
	}
	c.logger.Debug("logged in", "user", u.id)
	return u, c.setCurrentUser(u)
}

// LogOut revokes the current session on the server and forgets the current
// user. The local state is cleared even when the server call fails.
func (c *Client) LogOut(ctx context.Context) error {
	u := c.CurrentUser()
	var err error
	if u != nil && u.SessionToken() != "" {
		err = c.do(ctx, http.MethodPost, "logout", nil, nil, callOptions{sessionToken: u.SessionToken()})
	}
	if clearErr := c.clearCurrentUser(); clearErr != nil && err == nil {
		err = clearErr
	}
	return err
}

// RequestPasswordReset asks the server to email a password reset link.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	if email == "" {
		return &Error{Code: EmailMissing, Message: "email required"}
	}
	return c.do(ctx, http.MethodPost, "requestPasswordReset", map[string]any{"email": email}, nil, callOptions{})
}

// RequestVerificationEmail asks the server to resend the verification email.
func (c *Client) RequestVerificationEmail(ctx context.Context, email string) error {
	if email == "" {
		return &Error{Code: EmailMissing, Message: "email required"}
	}
	return c.do(ctx, http.MethodPost, "verificationEmailRequest", map[string]any{"email": email}, nil, callOptions{})
}

// CurrentUser returns the logged-in user, restoring it from storage on first
// use, or nil.
func (c *Client) CurrentUser() *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userLoaded {
		return c.currentUser
	}
	c.userLoaded = true
	u, err := c.loadCurrentUser()
	if err != nil {
		c.logger.Warn("discarding stored current user", "err", err)
		return nil
	}
	c.currentUser = u
	return u
}

func (c *Client) loadCurrentUser() (*User, error) {
	raw, err := c.storage.Get(currentUserKey)
	if err != nil || raw == nil {
		return nil, err
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("stored user is %T", raw)
	}
	dec, err := Decode(m)
	if err != nil {
		return nil, err
	}
	u, ok := dec.(*User)
	if !ok {
		return nil, fmt.Errorf("stored user decoded as %T", dec)
	}
	return u, nil
}

func (c *Client) setCurrentUser(u *User) error {
	c.mu.Lock()
	c.currentUser = u
	c.userLoaded = true
	c.mu.Unlock()
	return c.persistCurrentUser(u)
}

func (c *Client) persistCurrentUser(u *User) error {
	m, err := u.encodeFull()
	if err != nil {
		return err
	}
	m["__type"] = "Object"
	m["className"] = UserClass
	if err := c.storage.Set(currentUserKey, m); err != nil {
		return fmt.Errorf("store current user: %w", err)
	}
	return nil
}

func (c *Client) clearCurrentUser() error {
	c.mu.Lock()
	c.currentUser = nil
	c.userLoaded = true
	c.mu.Unlock()
	if err := c.storage.Remove(currentUserKey); err != nil {
		return fmt.Errorf("remove current user: %w", err)
	}
	return nil
}
