package remote

import (
	"fmt"
	"sort"
	"sync"
)

const (
	publicSubject = "*"
	rolePrefix    = "role:"
)

type permission struct {
	read  bool
	write bool
}

// ACL maps subjects (user ids, "role:<name>", or "*" for the public) to read
// and write grants. A subject without any grant is never stored.
type ACL struct {
	perms  map[string]permission
	shared bool
}

// NewACL returns an empty ACL.
func NewACL() *ACL {
	return &ACL{perms: map[string]permission{}}
}

// NewACLFromMap builds an ACL from its wire form.
func NewACLFromMap(m map[string]any) (*ACL, error) {
	acl := NewACL()
	for subject, raw := range m {
		grants, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: ACL entry for %q is %T", ErrInvalidValue, subject, raw)
		}
		for kind, v := range grants {
			allowed, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("%w: ACL %s.%s must be a bool", ErrInvalidValue, subject, kind)
			}
			switch kind {
			case "read":
				acl.set(subject, allowed, true)
			case "write":
				acl.set(subject, allowed, false)
			default:
				return nil, fmt.Errorf("%w: unknown ACL permission %q", ErrInvalidValue, kind)
			}
		}
	}
	return acl, nil
}

// Clone returns an unshared copy.
func (a *ACL) Clone() *ACL {
	out := NewACL()
	for k, v := range a.perms {
		out.perms[k] = v
	}
	return out
}

// IsShared reports whether the ACL is a default template handed to objects.
func (a *ACL) IsShared() bool { return a.shared }

func (a *ACL) set(subject string, allowed, read bool) {
	p := a.perms[subject]
	if read {
		p.read = allowed
	} else {
		p.write = allowed
	}
	if !p.read && !p.write {
		delete(a.perms, subject)
		return
	}
	a.perms[subject] = p
}

func checkSubject(subject string) error {
	if subject == "" {
		return fmt.Errorf("%w: ACL subject must be a non-empty id", ErrInvalidValue)
	}
	return nil
}

func (a *ACL) SetReadAccess(subject string, allowed bool) error {
	if err := checkSubject(subject); err != nil {
		return err
	}
	a.set(subject, allowed, true)
	return nil
}

func (a *ACL) SetWriteAccess(subject string, allowed bool) error {
	if err := checkSubject(subject); err != nil {
		return err
	}
	a.set(subject, allowed, false)
	return nil
}

func (a *ACL) ReadAccess(subject string) bool  { return a.perms[subject].read }
func (a *ACL) WriteAccess(subject string) bool { return a.perms[subject].write }

func (a *ACL) SetPublicReadAccess(allowed bool)  { a.set(publicSubject, allowed, true) }
func (a *ACL) SetPublicWriteAccess(allowed bool) { a.set(publicSubject, allowed, false) }
func (a *ACL) PublicReadAccess() bool            { return a.ReadAccess(publicSubject) }
func (a *ACL) PublicWriteAccess() bool           { return a.WriteAccess(publicSubject) }

func userSubject(u *User) (string, error) {
	if u == nil || u.id == "" {
		return "", fmt.Errorf("%w: users must be saved before use in an ACL", ErrUnsavedReference)
	}
	return u.id, nil
}

func (a *ACL) SetUserReadAccess(u *User, allowed bool) error {
	id, err := userSubject(u)
	if err != nil {
		return err
	}
	return a.SetReadAccess(id, allowed)
}

func (a *ACL) SetUserWriteAccess(u *User, allowed bool) error {
	id, err := userSubject(u)
	if err != nil {
		return err
	}
	return a.SetWriteAccess(id, allowed)
}

func (a *ACL) UserReadAccess(u *User) bool  { return u != nil && a.ReadAccess(u.id) }
func (a *ACL) UserWriteAccess(u *User) bool { return u != nil && a.WriteAccess(u.id) }

func roleSubject(r *Role) (string, error) {
	if r == nil || r.id == "" {
		return "", fmt.Errorf("%w: roles must be persisted before use in an ACL", ErrUnsavedReference)
	}
	name, err := r.Name()
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", fmt.Errorf("%w: role has no name", ErrInvalidValue)
	}
	return rolePrefix + name, nil
}

func (a *ACL) SetRoleReadAccess(r *Role, allowed bool) error {
	subject, err := roleSubject(r)
	if err != nil {
		return err
	}
	return a.SetReadAccess(subject, allowed)
}

func (a *ACL) SetRoleWriteAccess(r *Role, allowed bool) error {
	subject, err := roleSubject(r)
	if err != nil {
		return err
	}
	return a.SetWriteAccess(subject, allowed)
}

func (a *ACL) SetRoleReadAccessWithName(name string, allowed bool) error {
	if name == "" {
		return fmt.Errorf("%w: role name must not be empty", ErrInvalidValue)
	}
	return a.SetReadAccess(rolePrefix+name, allowed)
}

func (a *ACL) SetRoleWriteAccessWithName(name string, allowed bool) error {
	if name == "" {
		return fmt.Errorf("%w: role name must not be empty", ErrInvalidValue)
	}
	return a.SetWriteAccess(rolePrefix+name, allowed)
}

func (a *ACL) RoleReadAccessWithName(name string) bool  { return a.ReadAccess(rolePrefix + name) }
func (a *ACL) RoleWriteAccessWithName(name string) bool { return a.WriteAccess(rolePrefix + name) }

// Subjects returns the subjects holding at least one grant, sorted.
func (a *ACL) Subjects() []string {
	out := make([]string, 0, len(a.perms))
	for k := range a.perms {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (a *ACL) encode() map[string]any {
	out := make(map[string]any, len(a.perms))
	for subject, p := range a.perms {
		grants := map[string]any{}
		if p.read {
			grants["read"] = true
		}
		if p.write {
			grants["write"] = true
		}
		out[subject] = grants
	}
	return out
}

// defaultACL holds a client's default ACL template and the variant granting
// the current user access, rebuilt lazily when the current user id changes.
type defaultACL struct {
	mu             sync.Mutex
	template       *ACL
	withUser       bool
	lastUserID     string
	lastUserACL    *ACL
	lastUserCached bool
}

func (d *defaultACL) set(acl *ACL, withAccessForCurrentUser bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastUserACL = nil
	d.lastUserCached = false
	d.lastUserID = ""
	if acl == nil {
		d.template = nil
		d.withUser = false
		return
	}
	d.template = acl.Clone()
	d.template.shared = true
	d.withUser = withAccessForCurrentUser
}

// get returns the ACL a new object should start with, or nil.
func (d *defaultACL) get(currentUserID string) *ACL {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.template == nil {
		return nil
	}
	if !d.withUser || currentUserID == "" {
		return d.template
	}
	if !d.lastUserCached || d.lastUserID != currentUserID {
		acl := d.template.Clone()
		acl.set(currentUserID, true, true)
		acl.set(currentUserID, true, false)
		acl.shared = true
		d.lastUserACL = acl
		d.lastUserID = currentUserID
		d.lastUserCached = true
	}
	return d.lastUserACL
}
