package types

import (
	"encoding/json"
	"fmt"
	"sort"
)

// DefaultMeasurementName is the metric family every UPS record is written under.
const DefaultMeasurementName = "ups"

// Canonical field names. Both sources use the same name for the same quantity
// so their series line up in the database.
const (
	FieldUtilityState        = "utility_state"
	FieldOutputState         = "output_state"
	FieldBatteryState        = "battery_state"
	FieldUtilityStateWarning = "utility_state_warning"
	FieldOutputStateWarning  = "output_state_warning"
	FieldBatteryStateWarning = "battery_state_warning"
	FieldUtilityVoltage      = "utility_voltage"
	FieldOutputVoltage       = "output_voltage"
	FieldBatteryVoltage      = "battery_voltage"
	FieldOutputLoad          = "output_load"
	FieldOutputWatts         = "output_watts"
	FieldOutputAmps          = "output_amps"
	FieldOutputLoadWarning   = "output_load_warning"
	FieldBatteryCapacity     = "battery_capacity"
	FieldBatteryRuntimeHour  = "battery_runtime_hour"
	FieldBatteryRuntimeMin   = "battery_runtime_minute"
)

// Measurement is one fully populated UPS telemetry record. It is immutable:
// the constructor copies the field map and Fields returns a copy.
type Measurement struct {
	name   string
	fields map[string]any
}

// NewMeasurement validates and copies fields into a new Measurement.
// Every value must be a float64, int64 or string.
func NewMeasurement(name string, fields map[string]any) (Measurement, error) {
	if name == "" {
		return Measurement{}, fmt.Errorf("measurement: name is required")
	}
	if len(fields) == 0 {
		return Measurement{}, fmt.Errorf("measurement %q: no fields", name)
	}
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		switch v.(type) {
		case float64, int64, string:
		default:
			return Measurement{}, fmt.Errorf("measurement %q: field %q has unsupported type %T", name, k, v)
		}
		cp[k] = v
	}
	return Measurement{name: name, fields: cp}, nil
}

// Name returns the metric family name.
func (m Measurement) Name() string { return m.name }

// Len returns the number of fields.
func (m Measurement) Len() int { return len(m.fields) }

// Fields returns a copy of the field map.
func (m Measurement) Fields() map[string]any {
	cp := make(map[string]any, len(m.fields))
	for k, v := range m.fields {
		cp[k] = v
	}
	return cp
}

// Keys returns the field names in sorted order.
func (m Measurement) Keys() []string {
	keys := make([]string, 0, len(m.fields))
	for k := range m.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Float returns the float64 value of key and whether it was present with that kind.
func (m Measurement) Float(key string) (float64, bool) {
	v, ok := m.fields[key].(float64)
	return v, ok
}

// Int returns the int64 value of key and whether it was present with that kind.
func (m Measurement) Int(key string) (int64, bool) {
	v, ok := m.fields[key].(int64)
	return v, ok
}

// String returns the string value of key and whether it was present with that kind.
func (m Measurement) String(key string) (string, bool) {
	v, ok := m.fields[key].(string)
	return v, ok
}

// MarshalJSON encodes the measurement as {"name": ..., "fields": {...}}.
func (m Measurement) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name   string         `json:"name"`
		Fields map[string]any `json:"fields"`
	}{Name: m.name, Fields: m.fields})
}
