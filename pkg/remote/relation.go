package remote

import "fmt"

// Relation is a many-to-many edge collection stored in one field of a
// parent record. Mutations become RelationOp operations on the parent;
// reading goes through Query.
type Relation struct {
	parent      *Object
	key         string
	targetClass string
}

func (r *Relation) ensureParent(parent *Object, key string) {
	if r.parent == nil {
		r.parent = parent
	}
	if r.key == "" {
		r.key = key
	}
}

// TargetClass returns the class of the related records, or "" when it is not
// known yet.
func (r *Relation) TargetClass() string { return r.targetClass }

// Key returns the parent field holding the relation.
func (r *Relation) Key() string { return r.key }

// Add queues adding records to the relation.
func (r *Relation) Add(records ...Record) error {
	return r.change(records, nil)
}

// Remove queues removing records from the relation.
func (r *Relation) Remove(records ...Record) error {
	return r.change(nil, records)
}

func (r *Relation) change(adds, removes []Record) error {
	if r.parent == nil {
		return fmt.Errorf("%w: relation has no parent object", ErrInvalidValue)
	}
	if len(adds) == 0 && len(removes) == 0 {
		return nil
	}
	op, err := newRelationOp(adds, removes)
	if err != nil {
		return err
	}
	if r.targetClass == "" {
		r.targetClass = op.TargetClass
	}
	if err := r.parent.performOperation(r.key, op); err != nil {
		return err
	}
	if rel, ok := r.parent.estimated[r.key].(*Relation); ok && rel != r {
		rel.targetClass = r.targetClass
	}
	return nil
}

// Query returns a query over the related records.
func (r *Relation) Query() *Query {
	if r.targetClass == "" {
		q := NewQuery(r.parent.className)
		q.redirectClassNameForKey = r.key
		return q.relatedTo(r.parent, r.key)
	}
	return NewQuery(r.targetClass).relatedTo(r.parent, r.key)
}

func (r *Relation) encode() map[string]any {
	return map[string]any{"__type": "Relation", "className": r.targetClass}
}
