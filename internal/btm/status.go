package btm

import (
	"fmt"
	"math"
	"slices"
	"strings"

	bt "github.com/joeycumines/go-behaviortree"
)

// Status is the runtime status of a node.
type Status uint8

const (
	Unvisited Status = iota
	Running
	Success
	Failure
)

func (s Status) String() string {
	switch s {
	case Unvisited:
		return "unvisited"
	case Running:
		return "running"
	case Success:
		return "success"
	case Failure:
		return "failure"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Terminal reports whether s is Success or Failure.
func (s Status) Terminal() bool { return s == Success || s == Failure }

// BT maps s onto go-behaviortree's status. Unvisited has no equivalent and
// maps to Running.
func (s Status) BT() bt.Status {
	switch s {
	case Success:
		return bt.Success
	case Failure:
		return bt.Failure
	}
	return bt.Running
}

// Source is the value source of a set type, its low nibble.
type Source uint8

const (
	NoSet Source = iota
	FromValue
	FromVar
)

func (s Source) String() string {
	switch s {
	case NoSet:
		return "NoSet"
	case FromValue:
		return "Value"
	case FromVar:
		return "Var"
	}
	return fmt.Sprintf("Source(%d)", uint8(s))
}

func (s Source) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Source) UnmarshalText(b []byte) error {
	for _, v := range [...]Source{NoSet, FromValue, FromVar} {
		if strings.EqualFold(v.String(), string(b)) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("btm: unknown source %q", b)
}

// Predicate is the comparison of a set type, its high nibble.
type Predicate uint8

const (
	Equal Predicate = iota
	NotEqual
	Gt
	Gte
	Lt
	Lte
)

var predicateNames = [...]string{"Equal", "NotEqual", "Gt", "Gte", "Lt", "Lte"}

func (p Predicate) String() string {
	if int(p) < len(predicateNames) {
		return predicateNames[p]
	}
	return fmt.Sprintf("Predicate(%d)", uint8(p))
}

// SetType packs a Source and a Predicate into one byte.
type SetType uint8

// MakeSetType builds a SetType.
func MakeSetType(src Source, pred Predicate) SetType {
	return SetType(uint8(pred)<<4 | uint8(src)&0x0f)
}

func (t SetType) Source() Source       { return Source(t & 0x0f) }
func (t SetType) Predicate() Predicate { return Predicate(t >> 4) }

func (t SetType) String() string {
	return t.Source().String() + "|" + t.Predicate().String()
}

func (t SetType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText parses "Source|Predicate". A bare source implies Equal.
func (t *SetType) UnmarshalText(b []byte) error {
	src, pred, _ := strings.Cut(string(b), "|")
	var s Source
	if err := s.UnmarshalText([]byte(src)); err != nil {
		return err
	}
	p := Equal
	if pred != "" {
		i := slices.IndexFunc(predicateNames[:], func(n string) bool { return strings.EqualFold(n, pred) })
		if i < 0 {
			return fmt.Errorf("btm: unknown predicate %q", pred)
		}
		p = Predicate(i)
	}
	*t = MakeSetType(s, p)
	return nil
}

// compare evaluates actual <pred> expected. Strings support Equal and
// NotEqual only, everything else compares numerically with bools as 0 or 1.
func compare(actual, expected any, pred Predicate) (bool, error) {
	as, aStr := actual.(string)
	es, eStr := expected.(string)
	if aStr || eStr {
		if !aStr || !eStr {
			return false, fmt.Errorf("%w: cannot compare %T with %T", ErrTypeMismatch, actual, expected)
		}
		switch pred {
		case Equal:
			return as == es, nil
		case NotEqual:
			return as != es, nil
		}
		return false, fmt.Errorf("%w: predicate %s on strings", ErrTypeMismatch, pred)
	}
	a, err := number(actual)
	if err != nil {
		return false, err
	}
	e, err := number(expected)
	if err != nil {
		return false, err
	}
	switch pred {
	case Equal:
		return a == e, nil
	case NotEqual:
		return a != e, nil
	case Gt:
		return a > e, nil
	case Gte:
		return a >= e, nil
	case Lt:
		return a < e, nil
	case Lte:
		return a <= e, nil
	}
	return false, fmt.Errorf("%w: unknown predicate %d", ErrTypeMismatch, pred)
}

func number(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case nil:
		return math.NaN(), fmt.Errorf("%w: no value", ErrTypeMismatch)
	}
	return 0, fmt.Errorf("%w: %T is not a number", ErrTypeMismatch, v)
}
