package filter

import (
	"fmt"
	"strings"
)

// Node is the interface for all AST nodes
type Node interface {
	String() string
	nodeType() string
}

// BinaryExpr represents a binary expression (AND, OR)
type BinaryExpr struct {
	Op    string
	Left  Node
	Right Node
}

func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left.String(), b.Op, b.Right.String())
}

func (b *BinaryExpr) nodeType() string { return "BinaryExpr" }

// UnaryExpr represents NOT
type UnaryExpr struct {
	Op   string
	Expr Node
}

func (u *UnaryExpr) String() string {
	return fmt.Sprintf("(%s %s)", u.Op, u.Expr.String())
}

func (u *UnaryExpr) nodeType() string { return "UnaryExpr" }

// FieldExpr represents a field comparison (field op value)
type FieldExpr struct {
	Field    string // e.g. "score", "author.name"
	Operator string
	Value    any // string, int64, float64, bool, nil, *DateValue or *SpecialValue
}

func (f *FieldExpr) String() string {
	return fmt.Sprintf("%s %s %s", f.Field, f.Operator, formatValue(f.Value))
}

func (f *FieldExpr) nodeType() string { return "FieldExpr" }

// FunctionCall represents a function call like exists(title)
type FunctionCall struct {
	Name string
	Args []any
}

func (fn *FunctionCall) String() string {
	args := make([]string, len(fn.Args))
	for i, arg := range fn.Args {
		args[i] = formatValue(arg)
	}
	return fmt.Sprintf("%s(%s)", fn.Name, strings.Join(args, ", "))
}

func (fn *FunctionCall) nodeType() string { return "FunctionCall" }

// DateValue is a date literal, resolved when the filter is compiled.
type DateValue struct {
	Raw string // "2024-01-15", "-7d", "today"
}

func (d *DateValue) String() string { return d.Raw }

// SpecialValue represents @me.
type SpecialValue struct {
	Type string
}

func (s *SpecialValue) String() string { return "@" + s.Type }

// FieldRef is a bare identifier argument (a field name) inside a function call.
type FieldRef string

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return fmt.Sprintf("%q", x)
	case FieldRef:
		return string(x)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprintf("%v", v)
}

// SortKey is one key of a sort clause.
type SortKey struct {
	Field      string
	Descending bool
}

// Filter is a parsed filter expression.
type Filter struct {
	Root Node // nil matches everything
	Sort []SortKey
	Raw  string
}

// String renders the filter in canonical form.
func (f *Filter) String() string {
	var parts []string
	if f.Root != nil {
		parts = append(parts, f.Root.String())
	}
	if len(f.Sort) > 0 {
		keys := make([]string, len(f.Sort))
		for i, k := range f.Sort {
			keys[i] = k.Field
			if k.Descending {
				keys[i] = "-" + k.Field
			}
		}
		parts = append(parts, "sort:"+strings.Join(keys, ","))
	}
	return strings.Join(parts, " ")
}

// Operator constants
const (
	OpEq          = "="
	OpNeq         = "!="
	OpLt          = "<"
	OpGt          = ">"
	OpLte         = "<="
	OpGte         = ">="
	OpContains    = "~"
	OpNotContains = "!~"
)

// Boolean operator constants
const (
	OpAnd = "AND"
	OpOr  = "OR"
	OpNot = "NOT"
)

// FunctionSpec describes a filter function's arity.
type FunctionSpec struct {
	Name        string
	Description string
	MinArgs     int
	MaxArgs     int // 0 = unlimited
}

// KnownFunctions lists the functions a filter may call. The first argument
// is always a field name.
var KnownFunctions = map[string]FunctionSpec{
	"exists":  {Name: "exists", Description: "field is set", MinArgs: 1, MaxArgs: 1},
	"missing": {Name: "missing", Description: "field is not set", MinArgs: 1, MaxArgs: 1},
	"in":      {Name: "in", Description: "field equals one of the values", MinArgs: 2},
	"starts":  {Name: "starts", Description: "string field starts with a prefix", MinArgs: 2, MaxArgs: 2},
	"ends":    {Name: "ends", Description: "string field ends with a suffix", MinArgs: 2, MaxArgs: 2},
}

// FieldAliases maps shorthand field names onto their stored keys.
var FieldAliases = map[string]string{
	"id":      "objectId",
	"created": "createdAt",
	"updated": "updatedAt",
}

// resolveField applies FieldAliases to the first path segment.
func resolveField(field string) string {
	head, rest, found := strings.Cut(field, ".")
	if alias, ok := FieldAliases[head]; ok {
		head = alias
	}
	if found {
		return head + "." + rest
	}
	return head
}
