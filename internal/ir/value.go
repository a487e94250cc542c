package ir

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// Coerce converts an input record value to the Go representation stored
// for a column of type t. Nil stays nil so NOT NULL violations surface
// in the engine rather than as coercion errors.
//
// Numbers become float64 or int64 (integers keep integer form), booleans
// become int64 0/1 the way SQLite stores them, timestamps become unix
// milliseconds.
func Coerce(t DataType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeString:
		return cast.ToStringE(v)
	case TypeNumber:
		switch n := v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
			return cast.ToInt64E(n)
		}
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, err
		}
		if f == float64(int64(f)) {
			return int64(f), nil
		}
		return f, nil
	case TypeBoolean:
		b, err := cast.ToBoolE(v)
		if err != nil {
			return nil, err
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	case TypeTimestamp:
		if n, err := cast.ToInt64E(v); err == nil {
			return n, nil
		}
		ts, err := cast.ToTimeE(v)
		if err != nil {
			return nil, err
		}
		return ts.UnixMilli(), nil
	case TypeUnknown:
		return v, nil
	}
	return nil, fmt.Errorf("coerce: unhandled data type %v", t)
}

// NowMillis is the wall-clock stamp recorded in the input ledger.
// Ordering never depends on it; the logical timestep does.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
