package formula

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// isoDatePattern matches values that are kept as dates instead of being
// coerced to numbers.
var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

const dateLayout = "2006-01-02"

// Day counts that dates may be built from: 0001-01-01 through 9999-12-31.
const (
	minEpochDays = -719162
	maxEpochDays = 2932896
)

type valueKind uint8

const (
	kindNumber valueKind = iota
	kindDate
)

// value is a stack slot: a number or an ISO date text. name is the variable
// the value came from, used in error messages.
type value struct {
	kind valueKind
	num  float64
	text string
	name string
}

func numberValue(x float64) value {
	return value{kind: kindNumber, num: x}
}

// number returns the value as a float. Dates become days since 1970-01-01 so
// that date differences are day counts.
func (v value) number() (float64, error) {
	if v.kind == kindNumber {
		return v.num, nil
	}
	t, err := v.date()
	if err != nil {
		return 0, err
	}
	return float64(epochDays(t)), nil
}

// date returns the value as a UTC calendar date. Numbers are read as days
// since 1970-01-01.
func (v value) date() (time.Time, error) {
	if v.kind == kindNumber {
		if !(v.num >= minEpochDays && v.num <= maxEpochDays) {
			return time.Time{}, &InvalidVariableValueError{Name: v.name, Raw: strconv.FormatFloat(v.num, 'g', -1, 64)}
		}
		return fromEpochDays(v.num), nil
	}
	t, err := time.Parse(dateLayout, v.text[:len(dateLayout)])
	if err != nil {
		return time.Time{}, &InvalidVariableValueError{Name: v.name, Raw: v.text}
	}
	return t, nil
}

// resolveVariable looks name up in env and decides once whether the entry is
// a number or a date.
func resolveVariable(env map[string]any, name string) (value, error) {
	raw, ok := env[name]
	if !ok || raw == nil {
		return value{}, &MissingVariableError{Name: name}
	}

	invalid := func() (value, error) {
		return value{}, &InvalidVariableValueError{Name: name, Raw: fmt.Sprintf("%v", raw)}
	}
	finite := func(x float64) (value, error) {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return invalid()
		}
		return value{kind: kindNumber, num: x, name: name}, nil
	}

	switch v := raw.(type) {
	case float64:
		return finite(v)
	case float32:
		return finite(float64(v))
	case int:
		return finite(float64(v))
	case int8:
		return finite(float64(v))
	case int16:
		return finite(float64(v))
	case int32:
		return finite(float64(v))
	case int64:
		return finite(float64(v))
	case uint:
		return finite(float64(v))
	case uint8:
		return finite(float64(v))
	case uint16:
		return finite(float64(v))
	case uint32:
		return finite(float64(v))
	case uint64:
		return finite(float64(v))
	case json.Number:
		x, err := v.Float64()
		if err != nil {
			return invalid()
		}
		return finite(x)
	case time.Time:
		return value{kind: kindDate, text: v.Format(dateLayout), name: name}, nil
	case *float64:
		if v == nil {
			return value{}, &MissingVariableError{Name: name}
		}
		return finite(*v)
	case string:
		s := strings.TrimSpace(v)
		if isoDatePattern.MatchString(s) {
			return value{kind: kindDate, text: s, name: name}, nil
		}
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return invalid()
		}
		return finite(x)
	}
	return invalid()
}

// epochDays is the number of whole days between 1970-01-01 and t's calendar
// date in t's own location.
func epochDays(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

func fromEpochDays(days float64) time.Time {
	return time.Unix(int64(math.Floor(days))*86400, 0).UTC()
}
