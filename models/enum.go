package models

import (
	"database/sql/driver"
	"fmt"
)

// scanEnum loads a persisted enum column and refuses values the parser does
// not recognise.
func scanEnum[T ~string](dst *T, src any, parse func(string) (T, error)) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	case nil:
		return fmt.Errorf("cannot scan NULL into %T", dst)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dst)
	}
	parsed, err := parse(raw)
	if err != nil {
		return err
	}
	*dst = parsed
	return nil
}

func enumValue[T ~string](v T, parse func(string) (T, error)) (driver.Value, error) {
	if _, err := parse(string(v)); err != nil {
		return nil, err
	}
	return string(v), nil
}

func parseEnum[T ~string](kind, raw string, allowed ...T) (T, error) {
	for _, a := range allowed {
		if string(a) == raw {
			return a, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("unknown %s %q", kind, raw)
}
