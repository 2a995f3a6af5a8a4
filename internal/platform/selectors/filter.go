package selectors

import (
	"cmp"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/louisbranch/adminhub/internal/platform/entitystore"
	"go.einride.tech/aip/filtering"
	"go.einride.tech/aip/ordering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// FieldType declares how a filterable entity field is typed.
type FieldType int

const (
	StringField FieldType = iota
	IntField
	FloatField
	BoolField
)

// Fields maps filterable field names to their types.
type Fields map[string]FieldType

func (f Fields) declarations() (*filtering.Declarations, error) {
	opts := []filtering.DeclarationOption{filtering.DeclareStandardFunctions()}
	for name, fieldType := range f {
		var t *expr.Type
		switch fieldType {
		case IntField:
			t = filtering.TypeInt
		case FloatField:
			t = filtering.TypeFloat
		case BoolField:
			t = filtering.TypeBool
		default:
			t = filtering.TypeString
		}
		opts = append(opts, filtering.DeclareIdent(name, t))
	}
	return filtering.NewDeclarations(opts...)
}

// Compile builds a View from an AIP-160 filter and an AIP-132 order_by
// string. Either may be empty.
func Compile(filter, orderBy string, fields Fields) (*View, error) {
	predicate, err := CompileFilter(filter, fields)
	if err != nil {
		return nil, err
	}
	compare, err := CompileOrder(orderBy)
	if err != nil {
		return nil, err
	}
	return NewView(predicate, compare), nil
}

// CompileFilter turns an AIP-160 filter expression into a Predicate over the
// declared fields. An empty filter matches every record.
func CompileFilter(filter string, fields Fields) (Predicate, error) {
	if strings.TrimSpace(filter) == "" {
		return nil, nil
	}
	decls, err := fields.declarations()
	if err != nil {
		return nil, fmt.Errorf("create declarations: %w", err)
	}
	parsed, err := filtering.ParseFilterString(filter, decls)
	if err != nil {
		return nil, fmt.Errorf("parse filter: %w", err)
	}
	if parsed.CheckedExpr == nil {
		return nil, nil
	}
	return compileExpr(parsed.CheckedExpr.GetExpr())
}

// CompileOrder turns an AIP-132 order_by string ("name, priority desc") into a
// Comparator. Records missing a field sort after records that have it.
func CompileOrder(orderBy string) (Comparator, error) {
	if strings.TrimSpace(orderBy) == "" {
		return nil, nil
	}
	var parsed ordering.OrderBy
	if err := parsed.UnmarshalString(orderBy); err != nil {
		return nil, fmt.Errorf("parse order_by: %w", err)
	}
	fields := parsed.Fields
	return func(a, b *entitystore.Record) int {
		for _, field := range fields {
			left, leftOK := a.Field(field.Path)
			right, rightOK := b.Field(field.Path)
			switch {
			case !leftOK && !rightOK:
				continue
			case !leftOK:
				return 1
			case !rightOK:
				return -1
			}
			result, ok := compareValues(left, right)
			if !ok || result == 0 {
				continue
			}
			if field.Desc {
				return -result
			}
			return result
		}
		return 0
	}, nil
}

func compileExpr(e *expr.Expr) (Predicate, error) {
	if e == nil {
		return nil, fmt.Errorf("nil expression")
	}
	call, ok := e.GetExprKind().(*expr.Expr_CallExpr)
	if !ok {
		return nil, fmt.Errorf("unsupported expression type: %T", e.GetExprKind())
	}
	args := call.CallExpr.GetArgs()
	switch call.CallExpr.GetFunction() {
	case "_&&_", "AND":
		return compileJunction(args, true)
	case "_||_", "OR":
		return compileJunction(args, false)
	case "NOT", "-":
		if len(args) != 1 {
			return nil, fmt.Errorf("NOT requires 1 argument")
		}
		inner, err := compileExpr(args[0])
		if err != nil {
			return nil, err
		}
		return func(r *entitystore.Record) bool { return !inner(r) }, nil
	case "_==_", "=":
		return compileComparison(args, func(c int) bool { return c == 0 }, false)
	case "_!=_", "!=":
		return compileComparison(args, func(c int) bool { return c != 0 }, true)
	case "_<_", "<":
		return compileComparison(args, func(c int) bool { return c < 0 }, false)
	case "_<=_", "<=":
		return compileComparison(args, func(c int) bool { return c <= 0 }, false)
	case "_>_", ">":
		return compileComparison(args, func(c int) bool { return c > 0 }, false)
	case "_>=_", ">=":
		return compileComparison(args, func(c int) bool { return c >= 0 }, false)
	case ":":
		return compileHas(args)
	default:
		return nil, fmt.Errorf("unsupported function: %s", call.CallExpr.GetFunction())
	}
}

func compileJunction(args []*expr.Expr, all bool) (Predicate, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("logical operator requires 2 arguments")
	}
	left, err := compileExpr(args[0])
	if err != nil {
		return nil, err
	}
	right, err := compileExpr(args[1])
	if err != nil {
		return nil, err
	}
	if all {
		return func(r *entitystore.Record) bool { return left(r) && right(r) }, nil
	}
	return func(r *entitystore.Record) bool { return left(r) || right(r) }, nil
}

func compileComparison(args []*expr.Expr, accept func(int) bool, missing bool) (Predicate, error) {
	field, value, err := fieldAndValue(args)
	if err != nil {
		return nil, err
	}
	return func(r *entitystore.Record) bool {
		current, ok := r.Field(field)
		if !ok || current == nil {
			return missing
		}
		result, ok := compareValues(current, value)
		if !ok {
			return missing
		}
		return accept(result)
	}, nil
}

func compileHas(args []*expr.Expr) (Predicate, error) {
	field, value, err := fieldAndValue(args)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(fmt.Sprint(value))
	return func(r *entitystore.Record) bool {
		current, ok := r.Field(field)
		if !ok || current == nil {
			return false
		}
		switch v := current.(type) {
		case string:
			return strings.Contains(strings.ToLower(v), needle)
		case []any:
			for _, item := range v {
				if c, ok := compareValues(item, value); ok && c == 0 {
					return true
				}
			}
			return false
		default:
			c, ok := compareValues(v, value)
			return ok && c == 0
		}
	}, nil
}

func fieldAndValue(args []*expr.Expr) (string, any, error) {
	if len(args) != 2 {
		return "", nil, fmt.Errorf("comparison requires 2 arguments")
	}
	ident, ok := args[0].GetExprKind().(*expr.Expr_IdentExpr)
	if !ok {
		return "", nil, fmt.Errorf("expected identifier, got %T", args[0].GetExprKind())
	}
	constant, ok := args[1].GetExprKind().(*expr.Expr_ConstExpr)
	if !ok {
		return "", nil, fmt.Errorf("expected constant, got %T", args[1].GetExprKind())
	}
	value, err := constantValue(constant.ConstExpr)
	if err != nil {
		return "", nil, err
	}
	return ident.IdentExpr.GetName(), value, nil
}

func constantValue(c *expr.Constant) (any, error) {
	switch kind := c.GetConstantKind().(type) {
	case *expr.Constant_StringValue:
		return kind.StringValue, nil
	case *expr.Constant_Int64Value:
		return kind.Int64Value, nil
	case *expr.Constant_Uint64Value:
		return kind.Uint64Value, nil
	case *expr.Constant_DoubleValue:
		return kind.DoubleValue, nil
	case *expr.Constant_BoolValue:
		return kind.BoolValue, nil
	default:
		return nil, fmt.Errorf("unsupported constant type: %T", kind)
	}
}

// compareValues orders two decoded payload values. Numbers compare
// numerically across Go and JSON representations; mismatched kinds are not
// comparable.
func compareValues(a, b any) (int, bool) {
	if left, ok := toFloat(a); ok {
		right, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		return cmp.Compare(left, right), true
	}
	switch left := a.(type) {
	case string:
		right, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(left, right), true
	case bool:
		right, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case left == right:
			return 0, true
		case !left:
			return -1, true
		default:
			return 1, true
		}
	default:
		return 0, false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
