package formula

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

type builtin struct {
	minArgs int
	maxArgs int
	// lazy builtins receive unevaluated arguments.
	lazy func(e *env, args []node) (any, error)
	call func(args []any) (any, error)
}

func (b builtin) arity() string {
	switch {
	case b.maxArgs < 0:
		return fmt.Sprintf("at least %d arguments", b.minArgs)
	case b.minArgs == b.maxArgs:
		return fmt.Sprintf("%d arguments", b.minArgs)
	}
	return fmt.Sprintf("%d to %d arguments", b.minArgs, b.maxArgs)
}

var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"number": {minArgs: 1, maxArgs: 1, call: func(args []any) (any, error) {
			return toNumber(args[0]), nil
		}},
		"text": {minArgs: 1, maxArgs: 1, call: func(args []any) (any, error) {
			return toText(args[0]), nil
		}},
		"date": {minArgs: 1, maxArgs: 1, call: func(args []any) (any, error) {
			return toDate(args[0]), nil
		}},
		"len": {minArgs: 1, maxArgs: 1, call: func(args []any) (any, error) {
			return float64(utf8.RuneCountInString(toText(args[0]))), nil
		}},
		"isEmpty": {minArgs: 1, maxArgs: 1, call: func(args []any) (any, error) {
			return args[0] == nil || strings.TrimSpace(toText(args[0])) == "", nil
		}},
		"dateDiff": {minArgs: 2, maxArgs: 3, call: dateDiff},
		"if":       {minArgs: 2, maxArgs: 3, lazy: ifThenElse},
		"round": {minArgs: 1, maxArgs: 2, call: func(args []any) (any, error) {
			value, ok := toNumber(args[0]).(float64)
			if !ok {
				return nil, nil
			}
			places := 0.0
			if len(args) == 2 {
				if p, ok := toNumber(args[1]).(float64); ok {
					places = math.Trunc(p)
				}
			}
			scale := math.Pow(10, places)
			return math.Round(value*scale) / scale, nil
		}},
		"abs": {minArgs: 1, maxArgs: 1, call: func(args []any) (any, error) {
			value, ok := toNumber(args[0]).(float64)
			if !ok {
				return nil, nil
			}
			return math.Abs(value), nil
		}},
		"min": {minArgs: 1, maxArgs: -1, call: func(args []any) (any, error) {
			return extreme(args, func(a, b float64) bool { return a < b }), nil
		}},
		"max": {minArgs: 1, maxArgs: -1, call: func(args []any) (any, error) {
			return extreme(args, func(a, b float64) bool { return a > b }), nil
		}},
		"coalesce": {minArgs: 1, maxArgs: -1, call: func(args []any) (any, error) {
			for _, arg := range args {
				if arg == nil {
					continue
				}
				if s, ok := arg.(string); ok && strings.TrimSpace(s) == "" {
					continue
				}
				return arg, nil
			}
			return nil, nil
		}},
	}
}

func (n *call) eval(e *env) (any, error) {
	if n.fn.lazy != nil {
		return n.fn.lazy(e, n.args)
	}
	args := make([]any, len(n.args))
	for i, arg := range n.args {
		value, err := arg.eval(e)
		if err != nil {
			return nil, err
		}
		args[i] = value
	}
	value, err := n.fn.call(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n.name, err)
	}
	if f, ok := value.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil, fmt.Errorf("%s: non-finite result", n.name)
	}
	return value, nil
}

func ifThenElse(e *env, args []node) (any, error) {
	condition, err := args[0].eval(e)
	if err != nil {
		return nil, err
	}
	if truthy(condition) {
		return args[1].eval(e)
	}
	if len(args) == 3 {
		return args[2].eval(e)
	}
	return nil, nil
}

func extreme(args []any, better func(a, b float64) bool) any {
	var (
		best  float64
		found bool
	)
	for _, arg := range args {
		value, ok := toNumber(arg).(float64)
		if !ok {
			continue
		}
		if !found || better(value, best) {
			best = value
			found = true
		}
	}
	if !found {
		return nil
	}
	return best
}

// dateDiff returns end minus start in the requested unit, days by default.
func dateDiff(args []any) (any, error) {
	start, ok := toDate(args[0]).(time.Time)
	if !ok {
		return nil, nil
	}
	end, ok := toDate(args[1]).(time.Time)
	if !ok {
		return nil, nil
	}
	unit := "days"
	if len(args) == 3 && args[2] != nil {
		unit = strings.ToLower(strings.TrimSpace(toText(args[2])))
	}

	elapsed := end.Sub(start)
	switch unit {
	case "second", "seconds":
		return elapsed.Seconds(), nil
	case "minute", "minutes":
		return elapsed.Minutes(), nil
	case "hour", "hours":
		return elapsed.Hours(), nil
	case "day", "days":
		return elapsed.Hours() / 24, nil
	case "week", "weeks":
		return elapsed.Hours() / (24 * 7), nil
	case "month", "months":
		return float64(calendarMonths(start, end)), nil
	case "year", "years":
		return float64(calendarMonths(start, end) / 12), nil
	}
	return nil, fmt.Errorf("unknown unit %q", unit)
}

// calendarMonths counts whole calendar months between two instants.
func calendarMonths(start, end time.Time) int {
	sign := 1
	if end.Before(start) {
		start, end = end, start
		sign = -1
	}
	months := (end.Year()-start.Year())*12 + int(end.Month()-start.Month())
	if end.Day() < start.Day() {
		months--
	}
	return sign * months
}
