package formula

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rpattn/reportql/internal/pivot"
)

var errDivisionByZero = errors.New("division by zero")

func (n *literal) eval(*env) (any, error) {
	return n.value, nil
}

func (n *reference) eval(e *env) (any, error) {
	if e.lookup == nil {
		return nil, fmt.Errorf("unknown metric %q", n.id)
	}
	value, ok := e.lookup(n.id)
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", n.id)
	}
	return value, nil
}

func (n *unary) eval(e *env) (any, error) {
	value, err := n.operand.eval(e)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "!":
		return !truthy(value), nil
	case "number":
		return toNumber(value), nil
	default:
		if value == nil {
			return nil, nil
		}
		f, ok := pivot.ToFloat(value)
		if !ok {
			return nil, fmt.Errorf("cannot negate %v", value)
		}
		return -f, nil
	}
}

func (n *binary) eval(e *env) (any, error) {
	switch n.op {
	case "&&":
		left, err := n.left.eval(e)
		if err != nil || !truthy(left) {
			return false, err
		}
		right, err := n.right.eval(e)
		return truthy(right), err
	case "||":
		left, err := n.left.eval(e)
		if err != nil {
			return nil, err
		}
		if truthy(left) {
			return true, nil
		}
		right, err := n.right.eval(e)
		return truthy(right), err
	}

	left, err := n.left.eval(e)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(e)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case "<", "<=", ">", ">=":
		return compare(n.op, left, right)
	case "+":
		if left == nil || right == nil {
			return nil, nil
		}
		_, ls := left.(string)
		_, rs := right.(string)
		if ls || rs {
			return toText(left) + toText(right), nil
		}
	}
	return arithmetic(n.op, left, right)
}

func arithmetic(op string, left, right any) (any, error) {
	if left == nil || right == nil {
		return nil, nil
	}
	l, ok := pivot.ToFloat(left)
	if !ok {
		return nil, fmt.Errorf("non-numeric operand %v for %s", left, op)
	}
	r, ok := pivot.ToFloat(right)
	if !ok {
		return nil, fmt.Errorf("non-numeric operand %v for %s", right, op)
	}
	var result float64
	switch op {
	case "+":
		result = l + r
	case "-":
		result = l - r
	case "*":
		result = l * r
	case "/":
		if r == 0 {
			return nil, errDivisionByZero
		}
		result = l / r
	case "%":
		if r == 0 {
			return nil, errDivisionByZero
		}
		result = math.Mod(l, r)
	default:
		return nil, fmt.Errorf("unsupported operator %s", op)
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return nil, fmt.Errorf("non-finite result for %s", op)
	}
	return result, nil
}

func compare(op string, left, right any) (any, error) {
	if left == nil || right == nil {
		return nil, nil
	}
	var c int
	lt, lIsTime := left.(time.Time)
	rt, rIsTime := right.(time.Time)
	lf, lNum := pivot.ToFloat(left)
	rf, rNum := pivot.ToFloat(right)
	switch {
	case lIsTime && rIsTime:
		c = lt.Compare(rt)
	case lNum && rNum:
		switch {
		case lf < rf:
			c = -1
		case lf > rf:
			c = 1
		}
	default:
		c = strings.Compare(toText(left), toText(right))
	}
	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

func equal(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	if lt, ok := left.(time.Time); ok {
		if rt, ok := right.(time.Time); ok {
			return lt.Equal(rt)
		}
	}
	if lb, ok := left.(bool); ok {
		return lb == truthy(right)
	}
	if rb, ok := right.(bool); ok {
		return rb == truthy(left)
	}
	lf, lNum := pivot.ToFloat(left)
	rf, rNum := pivot.ToFloat(right)
	if lNum && rNum {
		return lf == rf
	}
	return toText(left) == toText(right)
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return strings.TrimSpace(v) != ""
	case time.Time:
		return !v.IsZero()
	}
	if f, ok := pivot.ToFloat(value); ok {
		return f != 0
	}
	return true
}

func toNumber(value any) any {
	if t, ok := value.(time.Time); ok {
		return float64(t.UnixMilli())
	}
	if f, ok := pivot.ToFloat(value); ok {
		return f
	}
	return nil
}

func toText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.Format("2006-01-02")
	}
	return pivot.DisplayValue(value)
}

func toDate(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		return v
	case string:
		if t, ok := pivot.ParseDate(v); ok {
			return t
		}
		return nil
	}
	if f, ok := pivot.ToFloat(value); ok {
		return time.UnixMilli(int64(f)).UTC()
	}
	return nil
}
