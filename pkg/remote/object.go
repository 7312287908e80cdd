package remote

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Record is any object stored in a backend class: *Object itself or a type
// embedding Object (*User, *Role, ...). The interface is sealed; embed
// Object to define a new record type and register it with RegisterSubclass.
type Record interface {
	ClassName() string
	ID() string
	Get(key string) (any, error)
	Set(key string, value any) error
	base() *Object
}

// ObjectOf returns the Object embedded in r.
func ObjectOf(r Record) *Object { return r.base() }

// Object is a client-side handle to a backend object.
//
// It keeps the last known server state, one pending operation per field, and
// an estimated view equal to the server state with the pending operations
// applied. The estimated view is rebuilt whenever either side changes.
// An Object is not safe for concurrent mutation.
type Object struct {
	className   string
	id          string
	createdAt   time.Time
	updatedAt   time.Time
	serverData  map[string]any
	operations  map[string]Operation
	estimated   map[string]any
	fetchedKeys map[string]bool
	available   bool
}

// NewObject returns a new, unsaved object of className. Registered record
// types are not consulted; use Create for that.
func NewObject(className string) *Object {
	o := &Object{}
	o.init(className, "")
	return o
}

func (o *Object) base() *Object { return o }

func (o *Object) init(className, id string) {
	o.className = className
	o.id = id
	o.serverData = map[string]any{}
	o.operations = map[string]Operation{}
	o.estimated = map[string]any{}
	o.fetchedKeys = map[string]bool{}
	o.available = id == ""
}

func (o *Object) ClassName() string     { return o.className }
func (o *Object) ID() string            { return o.id }
func (o *Object) CreatedAt() time.Time  { return o.createdAt }
func (o *Object) UpdatedAt() time.Time  { return o.updatedAt }
func (o *Object) IsDataAvailable() bool { return o.available }

// IsKeyAvailable reports whether key may be read without fetching first.
func (o *Object) IsKeyAvailable(key string) bool {
	return o.available || o.fetchedKeys[key]
}

// Equal reports whether other refers to the same backend object.
func (o *Object) Equal(other Record) bool {
	if other == nil {
		return false
	}
	return sameRecord(o, other)
}

// Get returns the current value of key. It fails with ErrUnavailableField
// when the object was not fetched and key was neither fetched nor set locally.
// A shared default ACL is returned as a copy.
func (o *Object) Get(key string) (any, error) {
	switch key {
	case "objectId":
		return o.id, nil
	case "createdAt":
		return o.createdAt, nil
	case "updatedAt":
		return o.updatedAt, nil
	}
	if !o.IsKeyAvailable(key) {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnavailableField, o.className, key)
	}
	if acl, ok := o.estimated[key].(*ACL); ok && acl.shared {
		return acl.Clone(), nil
	}
	return o.estimated[key], nil
}

// Has reports whether key holds a value.
func (o *Object) Has(key string) bool {
	if !o.IsKeyAvailable(key) {
		return false
	}
	_, ok := o.estimated[key]
	return ok
}

// Keys returns the available field names in sorted order.
func (o *Object) Keys() []string {
	keys := make([]string, 0, len(o.estimated))
	for k := range o.estimated {
		if o.IsKeyAvailable(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (o *Object) GetString(key string) (string, error) {
	v, err := o.Get(key)
	if err != nil || v == nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidValuef("%s is %T, not a string", key, v)
	}
	return s, nil
}

func (o *Object) GetInt(key string) (int64, error) {
	v, err := o.Get(key)
	if err != nil || v == nil {
		return 0, err
	}
	n, ok := toFloat(v)
	if !ok {
		return 0, invalidValuef("%s is %T, not a number", key, v)
	}
	return int64(n), nil
}

func (o *Object) GetFloat(key string) (float64, error) {
	v, err := o.Get(key)
	if err != nil || v == nil {
		return 0, err
	}
	n, ok := toFloat(v)
	if !ok {
		return 0, invalidValuef("%s is %T, not a number", key, v)
	}
	return n, nil
}

func (o *Object) GetBool(key string) (bool, error) {
	v, err := o.Get(key)
	if err != nil || v == nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, invalidValuef("%s is %T, not a bool", key, v)
	}
	return b, nil
}

func (o *Object) GetTime(key string) (time.Time, error) {
	v, err := o.Get(key)
	if err != nil || v == nil {
		return time.Time{}, err
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, invalidValuef("%s is %T, not a date", key, v)
	}
	return t, nil
}

func (o *Object) GetRecord(key string) (Record, error) {
	v, err := o.Get(key)
	if err != nil || v == nil {
		return nil, err
	}
	r, ok := v.(Record)
	if !ok {
		return nil, invalidValuef("%s is %T, not an object", key, v)
	}
	return r, nil
}

func (o *Object) GetList(key string) ([]any, error) {
	v, err := o.Get(key)
	if err != nil || v == nil {
		return nil, err
	}
	list, ok := toList(v)
	if !ok {
		return nil, invalidValuef("%s is %T, not an array", key, v)
	}
	return copyList(list), nil
}

func checkKey(key string) error {
	switch key {
	case "":
		return invalidValuef("key must not be empty")
	case "objectId", "createdAt", "updatedAt":
		return invalidValuef("%s is managed by the server", key)
	}
	return nil
}

// Set queues a replacement of key with value. Slices and maps are rejected:
// use SetArray or SetMap so that array values are never confused with array
// operations. []byte is a scalar bytes value.
func (o *Object) Set(key string, value any) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if key == "ACL" {
		acl, ok := value.(*ACL)
		if !ok && value != nil {
			return invalidValuef("ACL must be set with SetACL")
		}
		return o.SetACL(acl)
	}
	if _, ok := toList(value); ok {
		return invalidValuef("use SetArray for array value of %q", key)
	}
	if _, ok := toMap(value); ok {
		return invalidValuef("use SetMap for map value of %q", key)
	}
	if _, ok := value.(Operation); ok {
		return invalidValuef("operations cannot be stored as values")
	}
	return o.performOperation(key, &SetOp{Value: normalizeValue(value)})
}

// SetArray queues a replacement of key with the list value.
func (o *Object) SetArray(key string, value any) error {
	if err := checkKey(key); err != nil {
		return err
	}
	list, ok := toList(value)
	if !ok {
		return invalidValuef("SetArray needs a slice, got %T", value)
	}
	return o.performOperation(key, &SetOp{Value: normalizeValue(list)})
}

// SetMap queues a replacement of key with a string-keyed map value.
func (o *Object) SetMap(key string, value any) error {
	if err := checkKey(key); err != nil {
		return err
	}
	m, ok := toMap(value)
	if !ok {
		return invalidValuef("SetMap needs a string-keyed map, got %T", value)
	}
	return o.performOperation(key, &SetOp{Value: normalizeValue(m)})
}

// Delete queues removal of key.
func (o *Object) Delete(key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return o.performOperation(key, &DeleteOp{})
}

// Increment queues an atomic increment of key by amount.
func (o *Object) Increment(key string, amount any) error {
	if err := checkKey(key); err != nil {
		return err
	}
	n, ok := normalizeNumber(amount)
	if !ok {
		return invalidValuef("increment amount must be a number, got %T", amount)
	}
	return o.performOperation(key, &IncrementOp{Amount: n})
}

// Decrement queues an atomic decrement of key by amount.
func (o *Object) Decrement(key string, amount any) error {
	n, ok := normalizeNumber(amount)
	if !ok {
		return invalidValuef("decrement amount must be a number, got %T", amount)
	}
	switch x := n.(type) {
	case int64:
		return o.Increment(key, -x)
	default:
		return o.Increment(key, -x.(float64))
	}
}

// Add queues an append of values to the array at key.
func (o *Object) Add(key string, values ...any) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return o.performOperation(key, &AddOp{Objects: normalizeValue(values).([]any)})
}

// AddUnique queues an append of the values not already in the array at key.
func (o *Object) AddUnique(key string, values ...any) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return o.performOperation(key, &AddUniqueOp{Objects: normalizeValue(values).([]any)})
}

// Remove queues removal of every occurrence of values from the array at key.
func (o *Object) Remove(key string, values ...any) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return o.performOperation(key, &RemoveOp{Objects: normalizeValue(values).([]any)})
}

// SetACL queues a replacement of the object's ACL.
func (o *Object) SetACL(acl *ACL) error {
	if acl == nil {
		return o.performOperation("ACL", &DeleteOp{})
	}
	return o.performOperation("ACL", &SetOp{Value: acl})
}

// ACL returns the object's ACL, or nil. A shared default ACL is copied so
// that changing it does not change the default.
func (o *Object) ACL() (*ACL, error) {
	v, err := o.Get("ACL")
	if err != nil || v == nil {
		return nil, err
	}
	acl, ok := v.(*ACL)
	if !ok {
		return nil, invalidValuef("ACL is %T", v)
	}
	if acl.shared {
		return acl.Clone(), nil
	}
	return acl, nil
}

// Relation returns the relation stored at key.
func (o *Object) Relation(key string) (*Relation, error) {
	switch v := o.estimated[key].(type) {
	case nil:
		return &Relation{parent: o, key: key}, nil
	case *Relation:
		v.ensureParent(o, key)
		return v, nil
	case map[string]any:
		if v["__type"] == "Relation" {
			cls, _ := v["className"].(string)
			return &Relation{parent: o, key: key, targetClass: cls}, nil
		}
	}
	return nil, invalidValuef("field %q is not a relation", key)
}

// Operation returns the pending operation for key, or nil.
func (o *Object) Operation(key string) Operation {
	return o.operations[key]
}

// IsDirty reports whether the object has unsaved changes or was never saved.
// With considerChildren it also reports dirty records and unsaved files
// reachable from the object's fields.
func (o *Object) IsDirty(considerChildren bool) bool {
	dirty := len(o.operations) > 0 || o.id == ""
	if dirty || !considerChildren {
		return dirty
	}
	seen := map[*Object]bool{o: true}
	for _, v := range o.estimated {
		if hasDirtyValue(v, seen) {
			return true
		}
	}
	return false
}

func hasDirtyValue(v any, seen map[*Object]bool) bool {
	switch x := v.(type) {
	case Record:
		child := x.base()
		if seen[child] {
			return false
		}
		seen[child] = true
		if child.IsDirty(false) {
			return true
		}
		for _, item := range child.estimated {
			if hasDirtyValue(item, seen) {
				return true
			}
		}
	case *File:
		return x.IsDirty()
	case []any:
		for _, item := range x {
			if hasDirtyValue(item, seen) {
				return true
			}
		}
	case map[string]any:
		for _, item := range x {
			if hasDirtyValue(item, seen) {
				return true
			}
		}
	}
	return false
}

// IsKeyDirty reports whether key has a pending operation.
func (o *Object) IsKeyDirty(key string) bool {
	_, ok := o.operations[key]
	return ok
}

// DirtyKeys returns the keys with pending operations, sorted.
func (o *Object) DirtyKeys() []string {
	keys := make([]string, 0, len(o.operations))
	for k := range o.operations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Revert discards pending operations for keys, or all of them when no key
// is given.
func (o *Object) Revert(keys ...string) {
	if len(keys) == 0 {
		o.operations = map[string]Operation{}
	}
	for _, k := range keys {
		delete(o.operations, k)
	}
	o.rebuildEstimatedData()
}

// Reference returns the pointer encoding of the object.
func (o *Object) Reference() (map[string]any, error) {
	if o.id == "" {
		return nil, fmt.Errorf("%w: %s has no id", ErrUnsavedReference, o.className)
	}
	return map[string]any{"__type": "Pointer", "className": o.className, "objectId": o.id}, nil
}

func (o *Object) performOperation(key string, op Operation) error {
	next, err := op.apply(o.estimated[key], o, key)
	if err != nil {
		return err
	}
	merged, ok, err := op.mergeWithPrevious(o.operations[key])
	if err != nil {
		return err
	}
	if !ok {
		merged = &SetOp{Value: next}
	}
	o.operations[key] = merged
	if _, isDelete := op.(*DeleteOp); isDelete {
		delete(o.estimated, key)
	} else {
		o.estimated[key] = next
	}
	o.fetchedKeys[key] = true
	return nil
}

// applyOperations folds ops onto data in place.
func (o *Object) applyOperations(ops map[string]Operation, data map[string]any) {
	for key, op := range ops {
		next, err := op.apply(data[key], o, key)
		if err != nil {
			// The operation was validated against the estimated view when it
			// was queued; a failure here means the server changed the type.
			continue
		}
		if _, isDelete := op.(*DeleteOp); isDelete {
			delete(data, key)
		} else {
			data[key] = next
		}
	}
}

func (o *Object) rebuildEstimatedData() {
	est := make(map[string]any, len(o.serverData)+len(o.operations))
	for k, v := range o.serverData {
		est[k] = v
	}
	o.applyOperations(o.operations, est)
	o.estimated = est
}

// mergeFromServer decodes a server payload into the server state.
func (o *Object) mergeFromServer(data map[string]any, complete bool) error {
	for key, raw := range data {
		switch key {
		case "__type", "className":
			continue
		case "objectId":
			if id, ok := raw.(string); ok && id != "" {
				if o.id != "" && o.id != id {
					return invalidValuef("%s id %s cannot change to %s", o.className, o.id, id)
				}
				o.id = id
			}
			continue
		case "createdAt", "updatedAt":
			t, err := decodeTimestamp(raw)
			if err != nil {
				return err
			}
			if key == "createdAt" {
				o.createdAt = t
			} else {
				o.updatedAt = t
			}
			continue
		case "ACL":
			m, ok := raw.(map[string]any)
			if !ok {
				return invalidValuef("ACL payload is %T", raw)
			}
			acl, err := NewACLFromMap(m)
			if err != nil {
				return err
			}
			o.serverData[key] = acl
		default:
			v, err := Decode(raw)
			if err != nil {
				return fmt.Errorf("decode %s.%s: %w", o.className, key, err)
			}
			o.serverData[key] = v
		}
		o.fetchedKeys[key] = true
	}
	if o.updatedAt.IsZero() && !o.createdAt.IsZero() {
		o.updatedAt = o.createdAt
	}
	o.available = o.available || complete
	o.rebuildEstimatedData()
	return nil
}

func decodeTimestamp(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case string:
		return ParseDate(v)
	case map[string]any:
		d, err := Decode(v)
		if err != nil {
			return time.Time{}, err
		}
		if t, ok := d.(time.Time); ok {
			return t, nil
		}
	case time.Time:
		return v, nil
	}
	return time.Time{}, invalidValuef("bad timestamp %v", raw)
}

// mergeAfterFetch replaces the server state with a fetched payload. Pending
// operations on fields the payload carries are dropped; the rest survive.
func (o *Object) mergeAfterFetch(data map[string]any, complete bool) error {
	for key := range data {
		delete(o.operations, key)
	}
	o.serverData = map[string]any{}
	o.fetchedKeys = map[string]bool{}
	return o.mergeFromServer(data, complete)
}

// mergeAfterSave folds the saved operations into the server state and then
// applies the save response on top.
func (o *Object) mergeAfterSave(data map[string]any) error {
	o.applyOperations(o.operations, o.serverData)
	for key := range o.operations {
		o.fetchedKeys[key] = true
	}
	o.operations = map[string]Operation{}
	return o.mergeFromServer(data, false)
}

// saveJSON encodes the pending operations as a create/update body.
func (o *Object) saveJSON() (map[string]any, error) {
	body := make(map[string]any, len(o.operations))
	for key, op := range o.operations {
		enc, err := op.encode()
		if err != nil {
			return nil, fmt.Errorf("encode %s.%s: %w", o.className, key, err)
		}
		body[key] = enc
	}
	return body, nil
}

// canBeSerialized reports whether every record referenced from the object's
// fields has an id or is outside pending.
func (o *Object) canBeSerialized(pending map[*Object]bool) bool {
	for _, v := range o.estimated {
		if !serializableValue(v, pending) {
			return false
		}
	}
	return true
}

func serializableValue(v any, pending map[*Object]bool) bool {
	switch x := v.(type) {
	case Record:
		ref := x.base()
		return ref.id != "" || !pending[ref]
	case []any:
		for _, item := range x {
			if !serializableValue(item, pending) {
				return false
			}
		}
	case map[string]any:
		for _, item := range x {
			if !serializableValue(item, pending) {
				return false
			}
		}
	}
	return true
}

// encodeFull returns the inlined-object encoding of the estimated view.
func (o *Object) encodeFull() (map[string]any, error) {
	out := map[string]any{"__type": "Object", "className": o.className}
	for key, v := range o.estimated {
		enc, err := Encode(v, true)
		if err != nil {
			return nil, fmt.Errorf("encode %s.%s: %w", o.className, key, err)
		}
		out[key] = enc
	}
	if o.id != "" {
		out["objectId"] = o.id
	}
	if !o.createdAt.IsZero() {
		out["createdAt"] = FormatDate(o.createdAt)
	}
	if !o.updatedAt.IsZero() {
		out["updatedAt"] = FormatDate(o.updatedAt)
	}
	return out, nil
}

// MarshalJSON renders the object as its inlined wire form.
func (o *Object) MarshalJSON() ([]byte, error) {
	m, err := o.encodeFull()
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}
