package variable

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/hubex-fl/hubex/internal/httpserver"
)

// DecodeValue parses a raw JSON value preserving the int/float distinction
// via json.Number. A nil or absent raw decodes to nil.
func DecodeValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding value: %w", err)
	}
	return v, nil
}

func invalidType(what string) *httpserver.APIError {
	return httpserver.NewAPIError(http.StatusUnprocessableEntity, "VAR_INVALID_TYPE", "invalid "+what+" value")
}

func constraintViolation(message, metaKey string, metaValue any) *httpserver.APIError {
	return httpserver.NewAPIError(http.StatusUnprocessableEntity, "VAR_CONSTRAINT_VIOLATION", message).
		WithMeta(metaKey, metaValue)
}

// Coerce converts a decoded JSON value to the tagged representation of the
// given value type. The int and float arms reject booleans, accept
// cross-numeric coercions where lossless, and parse numeric strings. The
// bool arm is strict apart from 0/1 and the usual true/false spellings.
// The json arm keeps the document verbatim.
func Coerce(value any, valueType string) (any, *httpserver.APIError) {
	if value == nil {
		return nil, nil
	}
	switch valueType {
	case TypeString:
		switch v := value.(type) {
		case string:
			return v, nil
		case json.Number:
			return v.String(), nil
		case bool:
			return strconv.FormatBool(v), nil
		default:
			return nil, invalidType("string")
		}

	case TypeInt:
		switch v := value.(type) {
		case bool:
			return nil, invalidType("int")
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n, nil
			}
			if f, err := v.Float64(); err == nil && f == float64(int64(f)) {
				return int64(f), nil
			}
			return nil, invalidType("int")
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n, nil
			}
			return nil, invalidType("int")
		default:
			return nil, invalidType("int")
		}

	case TypeFloat:
		switch v := value.(type) {
		case bool:
			return nil, invalidType("float")
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, nil
			}
			return nil, invalidType("float")
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, nil
			}
			return nil, invalidType("float")
		default:
			return nil, invalidType("float")
		}

	case TypeBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case json.Number:
			if n, err := v.Int64(); err == nil && (n == 0 || n == 1) {
				return n == 1, nil
			}
			return nil, invalidType("bool")
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1", "yes", "y":
				return true, nil
			case "false", "0", "no", "n":
				return false, nil
			}
			return nil, invalidType("bool")
		default:
			return nil, invalidType("bool")
		}

	case TypeJSON:
		return value, nil
	}
	return nil, httpserver.NewAPIError(http.StatusUnprocessableEntity, "VAR_INVALID_TYPE", "unsupported value type")
}

// CoerceForDefinition coerces the value and then checks the definition's
// constraints: min/max for numerics, enum membership and full-regex match
// for strings.
func CoerceForDefinition(def *Definition, value any) (any, *httpserver.APIError) {
	coerced, apiErr := Coerce(value, def.ValueType)
	if apiErr != nil {
		return nil, apiErr
	}
	constraints := def.ConstraintsMap()
	if constraints == nil || coerced == nil {
		return coerced, nil
	}

	if num, ok := asFloat(coerced); ok {
		if def.MinValue != nil && num < *def.MinValue {
			return nil, constraintViolation("value below minimum", "min", *def.MinValue)
		}
		if def.MaxValue != nil && num > *def.MaxValue {
			return nil, constraintViolation("value above maximum", "max", *def.MaxValue)
		}
	}

	if s, ok := coerced.(string); ok {
		if len(def.EnumValues) > 0 {
			found := false
			for _, allowed := range def.EnumValues {
				if s == allowed {
					found = true
					break
				}
			}
			if !found {
				return nil, constraintViolation("value not in enum", "enum", def.EnumValues)
			}
		}
		if def.Regex != nil && *def.Regex != "" {
			re, err := regexp.Compile("^(?:" + *def.Regex + ")$")
			if err != nil {
				return nil, constraintViolation("invalid regex constraint", "regex", *def.Regex)
			}
			if !re.MatchString(s) {
				return nil, constraintViolation("value does not match regex", "regex", *def.Regex)
			}
		}
	}

	return coerced, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// EffectiveValue returns the stored value when present, else the default.
func EffectiveValue(def *Definition, stored any) any {
	if stored != nil {
		return stored
	}
	return def.DefaultValue
}

// MaskIfSecret replaces a non-nil value of a secret definition with the
// masking literal.
func MaskIfSecret(def *Definition, value any) any {
	if def.IsSecret && value != nil {
		return MaskedValue
	}
	return value
}
