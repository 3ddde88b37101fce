package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "sensorpush/pkg/logx"
)

func TestInfluxWriteIsLineProtocol(t *testing.T) {
	t.Parallel()
	var (
		gotPath string
		gotBody string
		gotAuth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	st, err := openInflux(InfluxConfig{URL: srv.URL, Token: "tok", Org: "home", Bucket: "sensors", Timeout: 5 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("openInflux: %v", err)
	}
	defer st.Close()

	at := time.Unix(1700000000, 0)
	err = st.Write(context.Background(), Reading{
		DeviceID: "esp-1", DeviceName: "Kitchen", Location: "Home",
		Temperature: 31.5, Humidity: 40, At: at,
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if !strings.HasPrefix(gotPath, "/api/v2/write") || !strings.Contains(gotPath, "bucket=sensors") {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Token tok" {
		t.Fatalf("auth = %q", gotAuth)
	}
	for _, want := range []string{"sensor_readings,", "deviceId=esp-1", "deviceName=Kitchen", "location=Home", "temperature=31.5", "humidity=40", "1700000000000000000"} {
		if !strings.Contains(gotBody, want) {
			t.Fatalf("line protocol %q missing %q", gotBody, want)
		}
	}
}

func TestInfluxWriteSurfacesServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"unauthorized","message":"unauthorized access"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	st, err := openInflux(InfluxConfig{URL: srv.URL, Org: "o", Bucket: "b"}, logx.Nop())
	if err != nil {
		t.Fatalf("openInflux: %v", err)
	}
	defer st.Close()
	if err := st.Write(context.Background(), Reading{DeviceID: "d"}); err == nil {
		t.Fatal("expected write error")
	}
}
