package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const defaultTag = "Unknown"

// Reading is one temperature/humidity sample from a device.
type Reading struct {
	DeviceID    string    `json:"deviceId"`
	DeviceName  string    `json:"deviceName"`
	Location    string    `json:"location"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	At          time.Time `json:"time"`

	// label is the name as sent by the device, or its id when none was sent.
	// Set by ParseReading; never stored.
	label string
}

// DeviceLabel is how the device is named in alert text: the deviceName the
// sensor sent (even "Unknown"), else its deviceId.
func (r Reading) DeviceLabel() string {
	if r.label != "" {
		return r.label
	}
	if r.DeviceName != "" {
		return r.DeviceName
	}
	return r.DeviceID
}

// ValidationError reports a request body that cannot become a Reading.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid reading: " + e.Reason
	}
	return fmt.Sprintf("invalid reading: %s %s", e.Field, e.Reason)
}

type rawReading struct {
	DeviceID    json.RawMessage `json:"deviceId"`
	DeviceName  string          `json:"deviceName"`
	Location    string          `json:"location"`
	Temperature json.RawMessage `json:"temperature"`
	Humidity    json.RawMessage `json:"humidity"`
}

// ParseReading decodes a sensor POST body.
//
// deviceId, temperature and humidity are required; numbers may arrive as JSON
// numbers or numeric strings. deviceName and location default to "Unknown".
func ParseReading(body []byte, now time.Time) (Reading, error) {
	var raw rawReading
	if err := json.Unmarshal(body, &raw); err != nil {
		return Reading{}, &ValidationError{Reason: "body is not a JSON object"}
	}

	id, err := parseID(raw.DeviceID)
	if err != nil {
		return Reading{}, err
	}
	temp, err := parseNumber("temperature", raw.Temperature)
	if err != nil {
		return Reading{}, err
	}
	hum, err := parseNumber("humidity", raw.Humidity)
	if err != nil {
		return Reading{}, err
	}

	label := strings.TrimSpace(raw.DeviceName)
	if label == "" {
		label = id
	}
	return Reading{
		DeviceID:    id,
		DeviceName:  orDefault(raw.DeviceName),
		Location:    orDefault(raw.Location),
		Temperature: temp,
		Humidity:    hum,
		At:          now,
		label:       label,
	}, nil
}

func parseID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", &ValidationError{Field: "deviceId", Reason: "is required"}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s = strings.TrimSpace(s); s == "" {
			return "", &ValidationError{Field: "deviceId", Reason: "is required"}
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", &ValidationError{Field: "deviceId", Reason: "must be a string or number"}
}

func parseNumber(field string, raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, &ValidationError{Field: field, Reason: "is required"}
	}

	var v float64
	var s string
	switch {
	case json.Unmarshal(raw, &v) == nil:
	case json.Unmarshal(raw, &s) == nil:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, &ValidationError{Field: field, Reason: "must be numeric"}
		}
		v = f
	default:
		return 0, &ValidationError{Field: field, Reason: "must be numeric"}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ValidationError{Field: field, Reason: "must be finite"}
	}
	return v, nil
}

func orDefault(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return defaultTag
	}
	return s
}
