package tracker

import (
	"math"
	"net/url"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	durationValidatorPattern = regexp.MustCompile(`^(-)?P(?:\d+Y)?(?:\d+M)?(?:\d+D)?(?:T(?:\d+H)?(?:\d+M)?(?:\d+(?:\.\d+)?S)?)?$`)
	emailPattern             = regexp.MustCompile(`^[A-Za-z0-9._%+\-']+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	phonePattern             = regexp.MustCompile(`^\+?[0-9 ()\-.]{7,20}$`)
)

// Required fails on nil and, unless allowEmptyStrings, on "".
func Required(allowEmptyStrings bool) *Validator {
	params := map[string]any{}
	if allowEmptyStrings {
		params["allowEmptyStrings"] = true
	}
	return NewValidator("required", "'%displayName%' is required", func(value any, _ ValidationContext) bool {
		if value == nil {
			return false
		}
		if s, ok := value.(string); ok && !allowEmptyStrings {
			return s != ""
		}
		return true
	}, params)
}

// MaxLength fails on strings longer than maxLength runes.
func MaxLength(maxLength int) *Validator {
	return NewValidator("maxLength", "'%displayName%' must be a string with %maxLength% characters or less", func(value any, _ ValidationContext) bool {
		if value == nil {
			return true
		}
		s, ok := value.(string)
		return ok && utf8.RuneCountInString(s) <= maxLength
	}, map[string]any{"maxLength": maxLength})
}

// StringLength fails on strings outside [minLength, maxLength].
func StringLength(minLength, maxLength int) *Validator {
	return NewValidator("stringLength", "'%displayName%' must be a string with between %minLength% and %maxLength% characters", func(value any, _ ValidationContext) bool {
		if value == nil {
			return true
		}
		s, ok := value.(string)
		if !ok {
			return false
		}
		n := utf8.RuneCountInString(s)
		return n >= minLength && n <= maxLength
	}, map[string]any{"minLength": minLength, "maxLength": maxLength})
}

// StringValidator fails on non-string values.
func StringValidator() *Validator {
	return typeValidator("string", "'%displayName%' must be a string", func(value any) bool {
		_, ok := value.(string)
		return ok
	})
}

// GuidValidator fails on values that are not GUID strings.
func GuidValidator() *Validator {
	return typeValidator("guid", "'%displayName%' must be a GUID", func(value any) bool {
		switch v := value.(type) {
		case uuid.UUID:
			return true
		case string:
			_, err := uuid.Parse(v)
			return err == nil
		}
		return false
	})
}

// DurationValidator fails on values that are not ISO 8601 durations.
func DurationValidator() *Validator {
	return typeValidator("duration", "'%displayName%' must be a ISO8601 duration string, such as 'P3H24M60S'", func(value any) bool {
		switch v := value.(type) {
		case time.Duration:
			return true
		case string:
			return v != "P" && v != "PT" && durationValidatorPattern.MatchString(v)
		}
		return false
	})
}

// NumberValidator fails on non-numeric values.
func NumberValidator() *Validator {
	return typeValidator("number", "'%displayName%' must be a number", func(value any) bool {
		f, ok := toFloat64(value)
		return ok && !math.IsNaN(f)
	})
}

// IntegerValidator fails on values without an integral numeric value.
func IntegerValidator() *Validator {
	return typeValidator("integer", "'%displayName%' must be an integer", func(value any) bool {
		_, ok := integralValue(value)
		return ok
	})
}

// Int64Validator checks the signed 64 bit range.
func Int64Validator() *Validator { return integerRange("int64", math.MinInt64, math.MaxInt64) }

// Int32Validator checks the signed 32 bit range.
func Int32Validator() *Validator { return integerRange("int32", math.MinInt32, math.MaxInt32) }

// Int16Validator checks the signed 16 bit range.
func Int16Validator() *Validator { return integerRange("int16", math.MinInt16, math.MaxInt16) }

// ByteValidator checks the unsigned 8 bit range.
func ByteValidator() *Validator { return integerRange("byte", 0, math.MaxUint8) }

// BoolValidator fails on non-bool values.
func BoolValidator() *Validator {
	return typeValidator("bool", "'%displayName%' must be a 'true' or 'false' value", func(value any) bool {
		_, ok := value.(bool)
		return ok
	})
}

// DateValidator fails on values that are neither times nor date strings.
func DateValidator() *Validator {
	return typeValidator("date", "'%displayName%' must be a date", func(value any) bool {
		switch v := value.(type) {
		case time.Time:
			return true
		case string:
			_, ok := parseDateString(v)
			return ok
		}
		return false
	})
}

// NoneValidator always passes.
func NoneValidator() *Validator {
	return NewValidator("none", "", func(any, ValidationContext) bool { return true }, nil)
}

// RegularExpression fails on strings that do not match pattern.
func RegularExpression(pattern string) (*Validator, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errorf(ErrInvalidConfig, "invalid regularExpression %q: %v", pattern, err)
	}
	return NewValidator("regularExpression", "'%displayName%' does not match the pattern '%expression%'", func(value any, _ ValidationContext) bool {
		if value == nil {
			return true
		}
		s, ok := value.(string)
		return ok && re.MatchString(s)
	}, map[string]any{"expression": pattern}), nil
}

// EmailAddress fails on strings that are not email addresses.
func EmailAddress() *Validator {
	return typeValidator("emailAddress", "'%displayName%' must be a valid email address", func(value any) bool {
		s, ok := value.(string)
		return ok && emailPattern.MatchString(s)
	})
}

// Phone fails on strings that are not phone numbers.
func Phone() *Validator {
	return typeValidator("phone", "'%displayName%' must be a valid phone number", func(value any) bool {
		s, ok := value.(string)
		return ok && phonePattern.MatchString(s)
	})
}

// URL fails on strings that are not absolute http(s) or ftp URLs.
func URL() *Validator {
	return typeValidator("url", "'%displayName%' must be a valid url", func(value any) bool {
		s, ok := value.(string)
		if !ok {
			return false
		}
		u, err := url.ParseRequestURI(s)
		if err != nil || u.Host == "" {
			return false
		}
		switch u.Scheme {
		case "http", "https", "ftp":
			return true
		}
		return false
	})
}

// ValidatorForDataType returns the type validator for dt, nil when none.
func ValidatorForDataType(dt DataType) *Validator {
	switch dt {
	case DataTypeString:
		return StringValidator()
	case DataTypeInt64:
		return Int64Validator()
	case DataTypeInt32:
		return Int32Validator()
	case DataTypeInt16:
		return Int16Validator()
	case DataTypeByte:
		return ByteValidator()
	case DataTypeDecimal, DataTypeDouble, DataTypeSingle:
		return NumberValidator()
	case DataTypeDateTime, DataTypeDateTimeOffset:
		return DateValidator()
	case DataTypeTime:
		return DurationValidator()
	case DataTypeBoolean:
		return BoolValidator()
	case DataTypeGuid:
		return GuidValidator()
	}
	return nil
}

func addAutoValidators(dp *DataProperty) {
	if !dp.IsNullable {
		dp.Validators = append(dp.Validators, Required(false))
	}
	if dp.IsComplexProperty() {
		return
	}
	if dp.DataType == DataTypeString && dp.MaxLength > 0 {
		dp.Validators = append(dp.Validators, MaxLength(dp.MaxLength))
		return
	}
	if v := ValidatorForDataType(dp.DataType); v != nil {
		dp.Validators = append(dp.Validators, v)
	}
}

// typeValidator passes nil values; required is responsible for those.
func typeValidator(name, template string, check func(any) bool) *Validator {
	return NewValidator(name, template, func(value any, _ ValidationContext) bool {
		return value == nil || check(value)
	}, nil)
}

func integerRange(name string, minValue, maxValue int64) *Validator {
	return NewValidator(name, "'%displayName%' must be an integer between the values of %minValue% and %maxValue%", func(value any, _ ValidationContext) bool {
		if value == nil {
			return true
		}
		n, ok := integralValue(value)
		return ok && n >= minValue && n <= maxValue
	}, map[string]any{"minValue": minValue, "maxValue": maxValue})
}

func integralValue(value any) (int64, bool) {
	if n, ok := toInt64(value); ok {
		return n, true
	}
	f, ok := toFloat64(value)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

func intParam(params map[string]any, key string) (int, bool) {
	n, ok := integralValue(params[key])
	return int(n), ok
}

func init() {
	simple := map[string]func() *Validator{
		"string":       StringValidator,
		"guid":         GuidValidator,
		"duration":     DurationValidator,
		"number":       NumberValidator,
		"integer":      IntegerValidator,
		"int64":        Int64Validator,
		"int32":        Int32Validator,
		"int16":        Int16Validator,
		"byte":         ByteValidator,
		"bool":         BoolValidator,
		"date":         DateValidator,
		"none":         NoneValidator,
		"emailAddress": EmailAddress,
		"phone":        Phone,
		"url":          URL,
	}
	for name, ctor := range simple {
		ctor := ctor
		RegisterValidatorFactory(name, func(map[string]any) (*Validator, error) { return ctor(), nil })
	}
	RegisterValidatorFactory("required", func(params map[string]any) (*Validator, error) {
		allow, _ := params["allowEmptyStrings"].(bool)
		return Required(allow), nil
	})
	RegisterValidatorFactory("maxLength", func(params map[string]any) (*Validator, error) {
		n, ok := intParam(params, "maxLength")
		if !ok {
			return nil, errorf(ErrInvalidConfig, "maxLength validator requires an integer 'maxLength'")
		}
		return MaxLength(n), nil
	})
	RegisterValidatorFactory("stringLength", func(params map[string]any) (*Validator, error) {
		minLength, okMin := intParam(params, "minLength")
		maxLength, okMax := intParam(params, "maxLength")
		if !okMin || !okMax {
			return nil, errorf(ErrInvalidConfig, "stringLength validator requires integer 'minLength' and 'maxLength'")
		}
		return StringLength(minLength, maxLength), nil
	})
	RegisterValidatorFactory("regularExpression", func(params map[string]any) (*Validator, error) {
		pattern, _ := params["expression"].(string)
		return RegularExpression(pattern)
	})
}
