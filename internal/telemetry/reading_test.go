package telemetry

import (
	"errors"
	"testing"
	"time"
)

func TestParseReading(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name    string
		body    string
		want    Reading
		wantErr string
	}{
		{
			name: "full",
			body: `{"deviceId":"esp-1","deviceName":"Kitchen","location":"Home","temperature":21.5,"humidity":40}`,
			want: Reading{DeviceID: "esp-1", DeviceName: "Kitchen", Location: "Home", Temperature: 21.5, Humidity: 40, At: now, label: "Kitchen"},
		},
		{
			name: "defaults and numeric strings",
			body: `{"deviceId":7,"temperature":"31.2","humidity":" 55 "}`,
			want: Reading{DeviceID: "7", DeviceName: "Unknown", Location: "Unknown", Temperature: 31.2, Humidity: 55, At: now, label: "7"},
		},
		{
			name: "zero temperature is present",
			body: `{"deviceId":"d","temperature":0,"humidity":0}`,
			want: Reading{DeviceID: "d", DeviceName: "Unknown", Location: "Unknown", At: now, label: "d"},
		},
		{name: "missing device", body: `{"temperature":20,"humidity":30}`, wantErr: "deviceId"},
		{name: "empty device", body: `{"deviceId":"  ","temperature":20,"humidity":30}`, wantErr: "deviceId"},
		{name: "missing temperature", body: `{"deviceId":"d","humidity":30}`, wantErr: "temperature"},
		{name: "null humidity", body: `{"deviceId":"d","temperature":20,"humidity":null}`, wantErr: "humidity"},
		{name: "non numeric", body: `{"deviceId":"d","temperature":"hot","humidity":30}`, wantErr: "temperature"},
		{name: "bool", body: `{"deviceId":"d","temperature":true,"humidity":30}`, wantErr: "temperature"},
		{name: "not json", body: `deviceId=d`, wantErr: ""},
		{name: "array", body: `[1,2]`, wantErr: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseReading([]byte(tt.body), now)
			if tt.want == (Reading{}) {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("err = %v, want ValidationError", err)
				}
				if ve.Field != tt.wantErr {
					t.Fatalf("field = %q, want %q", ve.Field, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseReading: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDeviceLabel(t *testing.T) {
	t.Parallel()
	now := time.Now()
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "named", body: `{"deviceId":"d1","deviceName":"Attic","temperature":31,"humidity":1}`, want: "Attic"},
		{name: "sent Unknown", body: `{"deviceId":"d1","deviceName":"Unknown","temperature":31,"humidity":1}`, want: "Unknown"},
		{name: "no name", body: `{"deviceId":"d1","temperature":31,"humidity":1}`, want: "d1"},
		{name: "blank name", body: `{"deviceId":"d1","deviceName":" ","temperature":31,"humidity":1}`, want: "d1"},
	}
	for _, tt := range tests {
		r, err := ParseReading([]byte(tt.body), now)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got := r.DeviceLabel(); got != tt.want {
			t.Fatalf("%s: label = %q, want %q", tt.name, got, tt.want)
		}
	}
	if got := (Reading{DeviceID: "d1", DeviceName: "Attic"}).DeviceLabel(); got != "Attic" {
		t.Fatalf("stored label = %q", got)
	}
	if got := (Reading{DeviceID: "d1"}).DeviceLabel(); got != "d1" {
		t.Fatalf("stored label = %q", got)
	}
}
