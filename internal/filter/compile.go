package filter

import (
	"errors"
	"fmt"
	"time"

	"github.com/marcus/objsync/internal/dateparse"
	"github.com/marcus/objsync/pkg/remote"
)

// ErrNoCurrentUser is returned when a filter uses @me without a logged-in user.
var ErrNoCurrentUser = errors.New("@me needs a logged-in user")

// Options tune compilation.
type Options struct {
	// CurrentUserID resolves @me to a _User pointer.
	CurrentUserID string
	// Now anchors relative dates; zero means time.Now().
	Now time.Time
}

// Compile turns f into a query over className. Conjunctions become $and,
// disjunctions $or and negations $nor.
func Compile(f *Filter, className string, opts Options) (*remote.Query, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	c := &compiler{className: className, opts: opts}

	q := remote.NewQuery(className)
	if f.Root != nil {
		var err error
		if q, err = c.node(f.Root); err != nil {
			return nil, err
		}
	}
	for _, k := range f.Sort {
		if k.Descending {
			q.AddDescending(k.Field)
		} else {
			q.AddAscending(k.Field)
		}
	}
	return q, q.Err()
}

// ParseQuery parses input and compiles it in one step.
func ParseQuery(input, className string, opts Options) (*remote.Query, error) {
	f, err := Parse(input)
	if err != nil {
		return nil, err
	}
	return Compile(f, className, opts)
}

type compiler struct {
	className string
	opts      Options
}

func (c *compiler) node(n Node) (*remote.Query, error) {
	switch node := n.(type) {
	case *BinaryExpr:
		var parts []*remote.Query
		for _, operand := range flatten(node, node.Op) {
			q, err := c.node(operand)
			if err != nil {
				return nil, err
			}
			parts = append(parts, q)
		}
		if node.Op == OpOr {
			return remote.OrQueries(parts...)
		}
		return remote.AndQueries(parts...)
	case *UnaryExpr:
		inner, err := c.node(node.Expr)
		if err != nil {
			return nil, err
		}
		return remote.NorQueries(inner)
	case *FieldExpr:
		return c.field(node)
	case *FunctionCall:
		return c.function(node)
	}
	return nil, fmt.Errorf("unsupported filter node %T", n)
}

// flatten collects the operands of a chain of the same boolean operator.
func flatten(n Node, op string) []Node {
	b, ok := n.(*BinaryExpr)
	if !ok || b.Op != op {
		return []Node{n}
	}
	return append(flatten(b.Left, op), flatten(b.Right, op)...)
}

func (c *compiler) value(v any) (any, error) {
	switch x := v.(type) {
	case *DateValue:
		t, err := dateparse.ParseFrom(x.Raw, c.opts.Now)
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil
	case *SpecialValue:
		if c.opts.CurrentUserID == "" {
			return nil, ErrNoCurrentUser
		}
		return remote.Pointer(remote.UserClass, c.opts.CurrentUserID), nil
	}
	return v, nil
}

func (c *compiler) field(f *FieldExpr) (*remote.Query, error) {
	q := remote.NewQuery(c.className)
	if f.Value == nil {
		if f.Operator == OpEq {
			return q.DoesNotExist(f.Field), nil
		}
		return q.Exists(f.Field), nil
	}

	v, err := c.value(f.Value)
	if err != nil {
		return nil, err
	}
	switch f.Operator {
	case OpEq:
		q.EqualTo(f.Field, v)
	case OpNeq:
		q.NotEqualTo(f.Field, v)
	case OpLt:
		q.LessThan(f.Field, v)
	case OpGt:
		q.GreaterThan(f.Field, v)
	case OpLte:
		q.LessThanOrEqualTo(f.Field, v)
	case OpGte:
		q.GreaterThanOrEqualTo(f.Field, v)
	case OpContains, OpNotContains:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s needs a string value (field %s)", f.Operator, f.Field)
		}
		// ~ is a case-insensitive substring match.
		q.Matches(f.Field, remote.QuoteRegex(s), "i")
		if f.Operator == OpNotContains {
			return remote.NorQueries(q)
		}
	default:
		return nil, fmt.Errorf("unsupported operator %s", f.Operator)
	}
	return q, q.Err()
}

func (c *compiler) function(fn *FunctionCall) (*remote.Query, error) {
	if len(fn.Args) == 0 {
		return nil, fmt.Errorf("function %s needs a field", fn.Name)
	}
	field, ok := fn.Args[0].(FieldRef)
	if !ok {
		return nil, fmt.Errorf("function %s needs a field, got %v", fn.Name, fn.Args[0])
	}
	q := remote.NewQuery(c.className)
	switch fn.Name {
	case "exists":
		q.Exists(string(field))
	case "missing":
		q.DoesNotExist(string(field))
	case "in":
		values := make([]any, 0, len(fn.Args)-1)
		for _, arg := range fn.Args[1:] {
			v, err := c.value(arg)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		q.ContainedIn(string(field), values)
	case "starts", "ends":
		s, ok := fn.Args[len(fn.Args)-1].(string)
		if len(fn.Args) != 2 || !ok {
			return nil, fmt.Errorf("function %s needs a field and a string", fn.Name)
		}
		if fn.Name == "starts" {
			q.StartsWith(string(field), s)
		} else {
			q.EndsWith(string(field), s)
		}
	default:
		return nil, fmt.Errorf("unknown function: %s", fn.Name)
	}
	return q, q.Err()
}
