package tracker

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DataType identifies the primitive type of a DataProperty.
type DataType uint8

const (
	DataTypeUndefined DataType = iota
	DataTypeString
	DataTypeInt64
	DataTypeInt32
	DataTypeInt16
	DataTypeByte
	DataTypeDecimal
	DataTypeDouble
	DataTypeSingle
	DataTypeDateTime
	DataTypeDateTimeOffset
	DataTypeTime
	DataTypeBoolean
	DataTypeGuid
	DataTypeBinary
)

const (
	tempKeyStringPrefix = "K_"
	emptyGuid           = "00000000-0000-0000-0000-000000000000"
	binaryDefaultValue  = "AAAAAAAAJ3U="
)

type dataTypeTraits struct {
	name           string
	defaultValue   any
	isNumeric      bool
	isInteger      bool
	isFloat        bool
	isDate         bool
	quoteJSONOData bool
	hasNext        bool
}

var dataTypeTable = map[DataType]dataTypeTraits{
	DataTypeString:         {name: "String", defaultValue: "", hasNext: true},
	DataTypeInt64:          {name: "Int64", defaultValue: int64(0), isNumeric: true, isInteger: true, quoteJSONOData: true, hasNext: true},
	DataTypeInt32:          {name: "Int32", defaultValue: int64(0), isNumeric: true, isInteger: true, hasNext: true},
	DataTypeInt16:          {name: "Int16", defaultValue: int64(0), isNumeric: true, isInteger: true, hasNext: true},
	DataTypeByte:           {name: "Byte", defaultValue: int64(0), isNumeric: true, isInteger: true},
	DataTypeDecimal:        {name: "Decimal", defaultValue: float64(0), isNumeric: true, isFloat: true, quoteJSONOData: true, hasNext: true},
	DataTypeDouble:         {name: "Double", defaultValue: float64(0), isNumeric: true, isFloat: true, hasNext: true},
	DataTypeSingle:         {name: "Single", defaultValue: float64(0), isNumeric: true, isFloat: true, hasNext: true},
	DataTypeDateTime:       {name: "DateTime", defaultValue: time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC), isDate: true, hasNext: true},
	DataTypeDateTimeOffset: {name: "DateTimeOffset", defaultValue: time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC), isDate: true, hasNext: true},
	DataTypeTime:           {name: "Time", defaultValue: "PT0S"},
	DataTypeBoolean:        {name: "Boolean", defaultValue: false},
	DataTypeGuid:           {name: "Guid", defaultValue: emptyGuid, hasNext: true},
	DataTypeBinary:         {name: "Binary"},
	DataTypeUndefined:      {name: "Undefined"},
}

func (dt DataType) traits() dataTypeTraits {
	if t, ok := dataTypeTable[dt]; ok {
		return t
	}
	return dataTypeTable[DataTypeUndefined]
}

func (dt DataType) String() string { return dt.traits().name }

// DefaultValue returns the value a non-nullable property starts with.
func (dt DataType) DefaultValue() any     { return dt.traits().defaultValue }
func (dt DataType) IsNumeric() bool       { return dt.traits().isNumeric }
func (dt DataType) IsInteger() bool       { return dt.traits().isInteger }
func (dt DataType) IsFloat() bool         { return dt.traits().isFloat }
func (dt DataType) IsDate() bool          { return dt.traits().isDate }
func (dt DataType) QuoteJSONOData() bool  { return dt.traits().quoteJSONOData }
func (dt DataType) SupportsGetNext() bool { return dt.traits().hasNext }

// DataTypes lists every data type.
func DataTypes() []DataType {
	return []DataType{
		DataTypeString, DataTypeInt64, DataTypeInt32, DataTypeInt16, DataTypeByte,
		DataTypeDecimal, DataTypeDouble, DataTypeSingle, DataTypeDateTime,
		DataTypeDateTimeOffset, DataTypeTime, DataTypeBoolean, DataTypeGuid,
		DataTypeBinary, DataTypeUndefined,
	}
}

// DataTypeFromName resolves a data type by its name.
func DataTypeFromName(name string) (DataType, bool) {
	for dt, traits := range dataTypeTable {
		if traits.name == name {
			return dt, true
		}
	}
	return DataTypeUndefined, false
}

// DataTypeFromEdm resolves an EDM type name such as "Edm.Int32".
func DataTypeFromEdm(typeName string) DataType {
	parts := strings.Split(typeName, ".")
	if len(parts) < 2 {
		return DataTypeUndefined
	}
	simple := parts[1]
	if simple == "image" {
		return DataTypeByte
	}
	if len(parts) == 2 {
		if dt, ok := DataTypeFromName(simple); ok {
			return dt
		}
		return DataTypeUndefined
	}
	return DataTypeString
}

var (
	guidPattern     = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	durationPattern = regexp.MustCompile(`^(-)?P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)
	localTimeSuffix = regexp.MustCompile(`.\d{3}$`)
)

// DataTypeFromValue infers a data type from a Go value.
func DataTypeFromValue(value any) DataType {
	switch v := value.(type) {
	case time.Time:
		return DataTypeDateTime
	case string:
		if guidPattern.MatchString(v) {
			return DataTypeGuid
		}
		if len(v) > 3 && durationPattern.MatchString(v) {
			return DataTypeTime
		}
		if _, ok := parseDateString(v); ok {
			return DataTypeDateTime
		}
		return DataTypeString
	case bool:
		return DataTypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return DataTypeDouble
	}
	return DataTypeUndefined
}

// Parse coerces value into the canonical Go representation of dt. Values that
// cannot be coerced are returned unchanged so validators can flag them.
func (dt DataType) Parse(value any) any {
	if value == nil {
		return nil
	}
	switch {
	case dt == DataTypeString:
		if s, ok := value.(string); ok {
			return s
		}
		return fmt.Sprint(value)
	case dt.IsInteger():
		return coerceToInt(value)
	case dt.IsFloat():
		return coerceToFloat(value)
	case dt.IsDate():
		return coerceToDate(value)
	case dt == DataTypeBoolean:
		return coerceToBool(value)
	case dt == DataTypeGuid:
		switch v := value.(type) {
		case string:
			return strings.ToLower(strings.TrimSpace(v))
		case uuid.UUID:
			return v.String()
		}
	case dt == DataTypeTime:
		if d, ok := value.(time.Duration); ok {
			return formatDuration(d)
		}
	case dt == DataTypeBinary:
		if b, ok := value.([]byte); ok {
			return base64.StdEncoding.EncodeToString(b)
		}
	}
	return value
}

func coerceToInt(value any) any {
	switch v := value.(type) {
	case string:
		src := strings.TrimSpace(v)
		if src == "" {
			return nil
		}
		if n, err := strconv.ParseInt(src, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(src, 64); err == nil {
			return int64(f)
		}
		return value
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return int64(math.Round(f))
		}
		return value
	case float32:
		return int64(math.Round(float64(v)))
	case float64:
		return int64(math.Round(v))
	}
	if n, ok := toInt64(value); ok {
		return n
	}
	return value
}

func coerceToFloat(value any) any {
	switch v := value.(type) {
	case string:
		src := strings.TrimSpace(v)
		if src == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(src, 64); err == nil {
			return f
		}
		return value
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
		return value
	case float32:
		return float64(v)
	case float64:
		return v
	}
	if n, ok := toInt64(value); ok {
		return float64(n)
	}
	return value
}

func coerceToDate(value any) any {
	switch v := value.(type) {
	case time.Time:
		return v.UTC()
	case string:
		src := strings.TrimSpace(v)
		if src == "" {
			return nil
		}
		if t, ok := parseDateString(src); ok {
			return t
		}
		return value
	}
	if n, ok := toInt64(value); ok {
		return time.UnixMilli(n).UTC()
	}
	return value
}

func coerceToBool(value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "false", "":
		return false
	case "true":
		return true
	}
	return value
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	}
	return 0, false
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	if n, ok := toInt64(value); ok {
		return float64(n), true
	}
	return 0, false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDateString(value string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseRawValue converts a server-shaped value into its client shape.
func (dt DataType) ParseRawValue(value any) any {
	if value == nil {
		return nil
	}
	switch {
	case dt == DataTypeGuid:
		if s, ok := value.(string); ok {
			return strings.ToLower(s)
		}
	case dt.IsDate():
		if s, ok := value.(string); ok {
			if localTimeSuffix.MatchString(s) {
				s += "Z"
			}
			if t, ok := parseDateString(s); ok {
				return t
			}
			return value
		}
		return coerceToDate(value)
	case dt == DataTypeTime:
		if m, ok := value.(map[string]any); ok && m["__edmType"] == "Edm.Time" {
			if ms, ok := toFloat64(m["ms"]); ok {
				return fmt.Sprintf("PT%dS", int64(math.Floor(ms/1000)))
			}
		}
	case dt == DataTypeBinary:
		if m, ok := value.(map[string]any); ok {
			if v, ok := m["$value"]; ok {
				return v
			}
		}
	}
	return dt.Parse(value)
}

// Normalize returns a value suitable for equality comparisons.
func (dt DataType) Normalize(value any) any {
	if dt.IsDate() {
		if t, ok := value.(time.Time); ok {
			return t.UnixMilli()
		}
	}
	return value
}

// ComparableFunc returns the normalizer used to compare values of dt.
func ComparableFunc(dt DataType) func(any) any {
	switch {
	case dt.IsDate():
		return dt.Normalize
	case dt == DataTypeTime:
		return func(value any) any {
			s, ok := value.(string)
			if !ok {
				return value
			}
			if seconds, ok := durationToSeconds(s); ok {
				return seconds
			}
			return value
		}
	default:
		return func(value any) any { return value }
	}
}

var nextNumber atomic.Int64

func init() {
	ResetTempKeySequence()
}

// ResetTempKeySequence restarts the numeric temporary key sequence.
func ResetTempKeySequence() {
	nextNumber.Store(-1)
}

func getNextNumber() int64 {
	return nextNumber.Add(-1) + 1
}

// GetNext returns the next temporary key value for dt.
func (dt DataType) GetNext() (any, bool) {
	switch {
	case !dt.SupportsGetNext():
		return nil, false
	case dt == DataTypeString:
		return tempKeyStringPrefix + strconv.FormatInt(getNextNumber(), 10), true
	case dt == DataTypeGuid:
		return uuid.NewString(), true
	case dt.IsDate():
		return time.Now().UTC(), true
	case dt.IsFloat():
		return float64(getNextNumber()), true
	default:
		return getNextNumber(), true
	}
}

// ConcurrencyValue returns the next optimistic-concurrency value following previous.
func (dt DataType) ConcurrencyValue(previous any) (any, bool) {
	switch {
	case dt == DataTypeGuid, dt == DataTypeString:
		return uuid.NewString(), true
	case dt.IsDate():
		now := time.Now().UTC()
		if prev, ok := previous.(time.Time); ok && !now.After(prev) {
			now = prev.Add(time.Millisecond)
		}
		return now, true
	case dt.IsInteger():
		prev, _ := toInt64(previous)
		return prev + 1, true
	}
	return nil, false
}

// FormatOData renders value as an OData literal.
func (dt DataType) FormatOData(value any) string {
	if value == nil {
		return "null"
	}
	switch dt {
	case DataTypeString:
		s := fmt.Sprint(value)
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	case DataTypeInt64:
		return fmt.Sprintf("%vL", value)
	case DataTypeInt32, DataTypeInt16, DataTypeByte:
		if n, ok := toInt64(dt.Parse(value)); ok {
			return strconv.FormatInt(n, 10)
		}
		return fmt.Sprint(value)
	case DataTypeDecimal:
		return formatFloat(value) + "m"
	case DataTypeDouble:
		return formatFloat(value) + "d"
	case DataTypeSingle:
		return formatFloat(value) + "f"
	case DataTypeDateTime:
		return "datetime'" + formatISODate(value) + "'"
	case DataTypeDateTimeOffset:
		return "datetimeoffset'" + formatISODate(value) + "'"
	case DataTypeTime:
		return "time'" + fmt.Sprint(value) + "'"
	case DataTypeBoolean:
		if b, ok := dt.Parse(value).(bool); ok {
			return strconv.FormatBool(b)
		}
		return fmt.Sprint(value)
	case DataTypeGuid:
		return "guid'" + fmt.Sprint(value) + "'"
	case DataTypeBinary:
		return "binary'" + fmt.Sprint(value) + "'"
	default:
		return fmt.Sprint(value)
	}
}

func formatFloat(value any) string {
	if f, ok := toFloat64(value); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(value)
}

func formatISODate(value any) string {
	if t, ok := coerceToDate(value).(time.Time); ok {
		return t.UTC().Format("2006-01-02T15:04:05.000Z")
	}
	return fmt.Sprint(value)
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("PT%dS", int64(d/time.Second))
}

func durationToSeconds(value string) (float64, bool) {
	m := durationPattern.FindStringSubmatch(value)
	if m == nil {
		return 0, false
	}
	weights := []float64{31536000, 2592000, 86400, 3600, 60, 1}
	total := 0.0
	for i, weight := range weights {
		part := m[i+2]
		if part == "" {
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return 0, false
		}
		total += f * weight
	}
	if m[1] == "-" {
		total = -total
	}
	return total, true
}

// MarshalText encodes the data type by name.
func (dt DataType) MarshalText() ([]byte, error) {
	return []byte(dt.String()), nil
}

// UnmarshalText decodes a data type name.
func (dt *DataType) UnmarshalText(text []byte) error {
	parsed, ok := DataTypeFromName(string(text))
	if !ok {
		return fmt.Errorf("tracker: Unable to find a DataType enumeration by the name of: %s", text)
	}
	*dt = parsed
	return nil
}
