package remote

// Operation is a pending mutation of a single field. The set of operations
// is closed: SetOp, DeleteOp, IncrementOp, AddOp, AddUniqueOp, RemoveOp and
// RelationOp.
//
// A record keeps at most one operation per field. A new operation is merged
// into the one already queued so that applying the merged operation to the
// server value yields the same result as applying each operation in order.
type Operation interface {
	// apply returns the field value after this operation, given the value
	// before it.
	apply(old any, obj *Object, key string) (any, error)

	// mergeWithPrevious folds prev (nil when the field had no pending
	// operation) into this operation. ok is false when no single operation
	// can express the pair; the record then queues a SetOp of the resulting
	// value instead.
	mergeWithPrevious(prev Operation) (merged Operation, ok bool, err error)

	encode() (any, error)
}

// SetOp replaces the field value.
type SetOp struct {
	Value any
}

func (op *SetOp) apply(old any, obj *Object, key string) (any, error) {
	return op.Value, nil
}

func (op *SetOp) mergeWithPrevious(prev Operation) (Operation, bool, error) {
	return op, true, nil
}

func (op *SetOp) encode() (any, error) {
	return Encode(op.Value, true)
}

// DeleteOp removes the field.
type DeleteOp struct{}

func (op *DeleteOp) apply(old any, obj *Object, key string) (any, error) {
	return nil, nil
}

func (op *DeleteOp) mergeWithPrevious(prev Operation) (Operation, bool, error) {
	return op, true, nil
}

func (op *DeleteOp) encode() (any, error) {
	return map[string]any{"__op": "Delete"}, nil
}

// IncrementOp adds Amount to a numeric field. A missing field counts as zero.
type IncrementOp struct {
	Amount any
}

func (op *IncrementOp) apply(old any, obj *Object, key string) (any, error) {
	if old == nil {
		n, _ := normalizeNumber(op.Amount)
		return n, nil
	}
	sum, ok := addNumbers(old, op.Amount)
	if !ok {
		return nil, invalidValuef("cannot increment non-number field %q", key)
	}
	return sum, nil
}

func (op *IncrementOp) mergeWithPrevious(prev Operation) (Operation, bool, error) {
	switch p := prev.(type) {
	case nil:
		return op, true, nil
	case *DeleteOp:
		n, _ := normalizeNumber(op.Amount)
		return &SetOp{Value: n}, true, nil
	case *SetOp:
		sum, ok := addNumbers(p.Value, op.Amount)
		if !ok {
			return nil, false, nil
		}
		return &SetOp{Value: sum}, true, nil
	case *IncrementOp:
		sum, _ := addNumbers(p.Amount, op.Amount)
		return &IncrementOp{Amount: sum}, true, nil
	}
	return nil, false, nil
}

func (op *IncrementOp) encode() (any, error) {
	n, _ := normalizeNumber(op.Amount)
	return map[string]any{"__op": "Increment", "amount": n}, nil
}

// AddOp appends Objects to an array field.
type AddOp struct {
	Objects []any
}

func (op *AddOp) apply(old any, obj *Object, key string) (any, error) {
	if old == nil {
		return copyList(op.Objects), nil
	}
	list, ok := toList(old)
	if !ok {
		return nil, invalidValuef("cannot add to non-array field %q", key)
	}
	out := make([]any, 0, len(list)+len(op.Objects))
	out = append(out, list...)
	return append(out, op.Objects...), nil
}

func (op *AddOp) mergeWithPrevious(prev Operation) (Operation, bool, error) {
	switch p := prev.(type) {
	case nil:
		return op, true, nil
	case *DeleteOp:
		return &SetOp{Value: copyList(op.Objects)}, true, nil
	case *SetOp:
		list, ok := toList(p.Value)
		if !ok {
			return nil, false, nil
		}
		out := append(copyList(list), op.Objects...)
		return &SetOp{Value: out}, true, nil
	case *AddOp:
		out := append(copyList(p.Objects), op.Objects...)
		return &AddOp{Objects: out}, true, nil
	}
	return nil, false, nil
}

func (op *AddOp) encode() (any, error) {
	return encodeListOp("Add", op.Objects)
}

// AddUniqueOp appends each of Objects not already present in the array field.
type AddUniqueOp struct {
	Objects []any
}

func (op *AddUniqueOp) apply(old any, obj *Object, key string) (any, error) {
	if old == nil {
		return addUnique(nil, op.Objects), nil
	}
	list, ok := toList(old)
	if !ok {
		return nil, invalidValuef("cannot add to non-array field %q", key)
	}
	return addUnique(list, op.Objects), nil
}

func (op *AddUniqueOp) mergeWithPrevious(prev Operation) (Operation, bool, error) {
	switch p := prev.(type) {
	case nil:
		return op, true, nil
	case *DeleteOp:
		return &SetOp{Value: addUnique(nil, op.Objects)}, true, nil
	case *SetOp:
		list, ok := toList(p.Value)
		if !ok {
			return nil, false, nil
		}
		return &SetOp{Value: addUnique(list, op.Objects)}, true, nil
	case *AddUniqueOp:
		return &AddUniqueOp{Objects: addUnique(p.Objects, op.Objects)}, true, nil
	}
	return nil, false, nil
}

func (op *AddUniqueOp) encode() (any, error) {
	return encodeListOp("AddUnique", op.Objects)
}

// RemoveOp removes every occurrence of each of Objects from the array field.
type RemoveOp struct {
	Objects []any
}

func (op *RemoveOp) apply(old any, obj *Object, key string) (any, error) {
	if old == nil {
		return []any{}, nil
	}
	list, ok := toList(old)
	if !ok {
		return nil, invalidValuef("cannot remove from non-array field %q", key)
	}
	return removeAll(list, op.Objects), nil
}

func (op *RemoveOp) mergeWithPrevious(prev Operation) (Operation, bool, error) {
	switch p := prev.(type) {
	case nil:
		return op, true, nil
	case *DeleteOp:
		return &SetOp{Value: []any{}}, true, nil
	case *SetOp:
		list, ok := toList(p.Value)
		if !ok {
			return nil, false, nil
		}
		return &SetOp{Value: removeAll(list, op.Objects)}, true, nil
	case *RemoveOp:
		return &RemoveOp{Objects: addUnique(p.Objects, op.Objects)}, true, nil
	}
	return nil, false, nil
}

func (op *RemoveOp) encode() (any, error) {
	return encodeListOp("Remove", op.Objects)
}

func encodeListOp(name string, objects []any) (any, error) {
	encoded, err := Encode(objects, true)
	if err != nil {
		return nil, err
	}
	return map[string]any{"__op": name, "objects": encoded}, nil
}

func addUnique(list, objects []any) []any {
	out := copyList(list)
	if out == nil {
		out = []any{}
	}
	for _, candidate := range objects {
		if !containsValue(out, candidate) {
			out = append(out, candidate)
		}
	}
	return out
}

func removeAll(list, objects []any) []any {
	out := make([]any, 0, len(list))
	for _, item := range list {
		if !containsValue(objects, item) {
			out = append(out, item)
		}
	}
	return out
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if valuesEqual(item, v) {
			return true
		}
	}
	return false
}

// RelationOp adds and removes records from a relation field. A record id
// appears in at most one of the two sets.
type RelationOp struct {
	TargetClass string
	adds        []Record
	removes     []Record
}

func newRelationOp(adds, removes []Record) (*RelationOp, error) {
	op := &RelationOp{}
	for _, r := range append(append([]Record{}, adds...), removes...) {
		o := r.base()
		if o.id == "" {
			return nil, ErrUnsavedReference
		}
		if op.TargetClass == "" {
			op.TargetClass = o.className
		} else if op.TargetClass != o.className {
			return nil, invalidValuef("relation objects must share one class, got %s and %s", op.TargetClass, o.className)
		}
	}
	op.adds = mergeRecordSet(nil, adds)
	op.removes = mergeRecordSet(nil, removes)
	return op, nil
}

// Added returns the records the operation adds to the relation.
func (op *RelationOp) Added() []Record { return append([]Record(nil), op.adds...) }

// Removed returns the records the operation removes from the relation.
func (op *RelationOp) Removed() []Record { return append([]Record(nil), op.removes...) }

func (op *RelationOp) apply(old any, obj *Object, key string) (any, error) {
	var rel *Relation
	switch v := old.(type) {
	case nil:
		rel = &Relation{parent: obj, key: key}
	case *Relation:
		rel = v
	case map[string]any:
		if v["__type"] != "Relation" {
			return nil, invalidValuef("field %q is not a relation", key)
		}
		cls, _ := v["className"].(string)
		rel = &Relation{parent: obj, key: key, targetClass: cls}
	default:
		return nil, invalidValuef("field %q is not a relation", key)
	}
	if op.TargetClass != "" {
		if rel.targetClass == "" {
			rel.targetClass = op.TargetClass
		} else if rel.targetClass != op.TargetClass {
			return nil, invalidValuef("relation %q targets %s, not %s", key, rel.targetClass, op.TargetClass)
		}
	}
	return rel, nil
}

func (op *RelationOp) mergeWithPrevious(prev Operation) (Operation, bool, error) {
	switch p := prev.(type) {
	case nil:
		return op, true, nil
	case *RelationOp:
		if p.TargetClass != "" && op.TargetClass != "" && p.TargetClass != op.TargetClass {
			return nil, false, invalidValuef("relation targets %s, not %s", p.TargetClass, op.TargetClass)
		}
		merged := &RelationOp{TargetClass: op.TargetClass}
		if merged.TargetClass == "" {
			merged.TargetClass = p.TargetClass
		}
		merged.adds = mergeRecordSet(subtractRecords(p.adds, op.removes), op.adds)
		merged.removes = mergeRecordSet(subtractRecords(p.removes, op.adds), op.removes)
		return merged, true, nil
	case *DeleteOp, *SetOp:
		// The prior value is gone; the relation starts empty.
		return op, true, nil
	}
	return nil, false, nil
}

func (op *RelationOp) encode() (any, error) {
	var adds, removes map[string]any
	if len(op.adds) > 0 {
		ptrs, err := pointerList(op.adds)
		if err != nil {
			return nil, err
		}
		adds = map[string]any{"__op": "AddRelation", "objects": ptrs}
	}
	if len(op.removes) > 0 {
		ptrs, err := pointerList(op.removes)
		if err != nil {
			return nil, err
		}
		removes = map[string]any{"__op": "RemoveRelation", "objects": ptrs}
	}
	switch {
	case adds != nil && removes != nil:
		return map[string]any{"__op": "Batch", "ops": []any{adds, removes}}, nil
	case removes != nil:
		return removes, nil
	case adds != nil:
		return adds, nil
	}
	return map[string]any{"__op": "AddRelation", "objects": []any{}}, nil
}

func pointerList(records []Record) ([]any, error) {
	out := make([]any, len(records))
	for i, r := range records {
		ptr, err := r.base().Reference()
		if err != nil {
			return nil, err
		}
		out[i] = ptr
	}
	return out, nil
}

// mergeRecordSet appends the records of extra missing from set, by id.
func mergeRecordSet(set, extra []Record) []Record {
	out := append([]Record{}, set...)
	for _, r := range extra {
		if !containsRecord(out, r) {
			out = append(out, r)
		}
	}
	return out
}

func subtractRecords(set, drop []Record) []Record {
	out := make([]Record, 0, len(set))
	for _, r := range set {
		if !containsRecord(drop, r) {
			out = append(out, r)
		}
	}
	return out
}

func containsRecord(set []Record, r Record) bool {
	for _, s := range set {
		if sameRecord(s, r) {
			return true
		}
	}
	return false
}
