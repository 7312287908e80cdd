package remote

import (
	"fmt"
	"regexp"
)

var roleNamePattern = regexp.MustCompile(`^[0-9A-Za-z_\- ]+$`)

// Role is a record of the _Role class: a named group of users and child
// roles that ACLs can grant access to.
type Role struct {
	Object
}

// NewRole returns an unsaved role. Roles must carry an ACL to be saved.
func NewRole(name string, acl *ACL) (*Role, error) {
	r := &Role{}
	r.init(RoleClass, "")
	if err := r.SetName(name); err != nil {
		return nil, err
	}
	if acl != nil {
		if err := r.SetACL(acl); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Name returns the role name.
func (r *Role) Name() (string, error) {
	return r.GetString("name")
}

// SetName sets the name of a role that has not been saved yet. Names may
// contain letters, digits, spaces, '-' and '_'.
func (r *Role) SetName(name string) error {
	if r.id != "" {
		return &Error{Code: OtherCause, Message: "a role's name can only be set before it has been saved"}
	}
	if !roleNamePattern.MatchString(name) {
		return &Error{Code: InvalidRoleName, Message: fmt.Sprintf("invalid role name %q", name)}
	}
	return r.Set("name", name)
}

// Users is the relation of users in the role.
func (r *Role) Users() (*Relation, error) {
	return r.typedRelation("users", UserClass)
}

// Roles is the relation of child roles whose users inherit this role.
func (r *Role) Roles() (*Relation, error) {
	return r.typedRelation("roles", RoleClass)
}

func (r *Role) typedRelation(key, className string) (*Relation, error) {
	rel, err := r.Relation(key)
	if err != nil {
		return nil, err
	}
	if rel.targetClass == "" {
		rel.targetClass = className
	}
	return rel, nil
}

func (r *Role) beforeSave() error {
	name, err := r.Name()
	if err != nil || name == "" {
		return &Error{Code: InvalidRoleName, Message: "roles must have a name"}
	}
	if acl, _ := r.ACL(); acl == nil {
		return &Error{Code: InvalidACL, Message: "roles must have an ACL"}
	}
	return nil
}
