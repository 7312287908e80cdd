package remote

import (
	"fmt"
	"sync"
)

// Factory returns a zero value of a record type, such as &User{}.
type Factory func() Record

var registry = struct {
	sync.RWMutex
	factories map[string]Factory
}{factories: map[string]Factory{}}

// Built-in class names.
const (
	UserClass         = "_User"
	RoleClass         = "_Role"
	SessionClass      = "_Session"
	InstallationClass = "_Installation"
	PushStatusClass   = "_PushStatus"
	AudienceClass     = "_Audience"
)

func init() {
	mustRegister(UserClass, func() Record { return &User{} })
	mustRegister(RoleClass, func() Record { return &Role{} })
	mustRegister(SessionClass, func() Record { return &Session{} })
	mustRegister(InstallationClass, func() Record { return &Installation{} })
	mustRegister(PushStatusClass, func() Record { return &PushStatus{} })
	mustRegister(AudienceClass, func() Record { return &Audience{} })
}

func mustRegister(className string, f Factory) {
	if err := RegisterSubclass(className, f); err != nil {
		panic(err)
	}
}

// RegisterSubclass makes Create, Pointer and decoding return the factory's
// type for className. Register before any record of the class is created.
func RegisterSubclass(className string, f Factory) error {
	if className == "" || f == nil {
		return fmt.Errorf("%w: subclass needs a class name and factory", ErrInvalidValue)
	}
	registry.Lock()
	defer registry.Unlock()
	registry.factories[className] = f
	return nil
}

// UnregisterSubclass removes a registration; records of className become
// plain *Object values again.
func UnregisterSubclass(className string) {
	registry.Lock()
	defer registry.Unlock()
	delete(registry.factories, className)
}

// Create returns a new, unsaved record of className using the registered
// factory, or a plain *Object.
func Create(className string) Record {
	registry.RLock()
	f := registry.factories[className]
	registry.RUnlock()

	var r Record
	if f != nil {
		r = f()
	}
	if r == nil {
		r = &Object{}
	}
	r.base().init(className, "")
	return r
}

// Pointer returns a reference-only record of className with id. Its fields
// are unavailable until fetched.
func Pointer(className, id string) Record {
	r := Create(className)
	r.base().init(className, id)
	return r
}
