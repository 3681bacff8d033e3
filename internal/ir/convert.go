package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// ConvertParam converts a raw parameter value to its declared type.
// Recipe arguments and user overrides arrive as strings. Declaration
// defaults arrive as CUE scalars. The empty type returns v unchanged.
func ConvertParam(name, typ string, v any) (any, error) {
	bad := func(err error) error {
		return &ConfigurationError{
			Code:      ErrCodeBadParamValue,
			Message:   fmt.Sprintf("%v is not a legal %s setting: %v", v, typ, err),
			Param:     name,
			Attempted: fmt.Sprint(v),
		}
	}

	switch typ {
	case "":
		return v, nil
	case "str":
		switch val := v.(type) {
		case string:
			return val, nil
		default:
			return fmt.Sprint(val), nil
		}
	case "bool":
		switch val := v.(type) {
		case bool:
			return val, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(val)) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
			return nil, bad(fmt.Errorf("want true or false"))
		}
	case "int":
		switch val := v.(type) {
		case int:
			return int64(val), nil
		case int64:
			return val, nil
		case float64:
			return int64(val), nil
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
			if err != nil {
				return nil, bad(err)
			}
			return i, nil
		}
	case "float":
		switch val := v.(type) {
		case float64:
			return val, nil
		case int:
			return float64(val), nil
		case int64:
			return float64(val), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				return nil, bad(err)
			}
			return f, nil
		}
	default:
		return nil, &ConfigurationError{
			Code:    ErrCodeBadDeclaration,
			Message: fmt.Sprintf("illegal type %q in parameter definitions", typ),
			Param:   name,
		}
	}
	return nil, bad(fmt.Errorf("unsupported value type %T", v))
}
