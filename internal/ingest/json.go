package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"doorguard/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.EventFields, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]any) *normalize.EventFields {
	fields := &normalize.EventFields{Extras: map[string]string{}}
	for key, val := range obj {
		if val == nil {
			continue
		}
		fields.Extras[strings.ToLower(key)] = jsonScalar(val)
	}
	fields.Timestamp = normalize.FirstNonEmpty(fields.Extras, normalize.TimestampAliases...)
	fields.Location = normalize.FirstNonEmpty(fields.Extras, normalize.LocationAliases...)
	fields.Key = normalize.FirstNonEmpty(fields.Extras, normalize.KeyAliases...)
	return fields
}

// jsonScalar keeps integral numbers free of exponent notation so numeric
// codes and unix timestamps survive.
func jsonScalar(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(v)
}
