package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  addr: "127.0.0.1:0"
security:
  api_key: "${SENSOR_API_KEY}"
logging:
  level: info
  console: true
vapid:
  public_key: "${VAPID_PUBLIC_KEY}"
  private_key: "${VAPID_PRIVATE_KEY}"
  subject: "${VAPID_SUBJECT:-mailto:ops@example.com}"
push:
  timeout: 5s
storage:
  driver: sqlite
  path: ./data/readings.db
  retention: 720h
  prune_schedule: "@daily"
housekeeping:
  stats_schedule: "*/15 * * * *"
`

func fakeEnv(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAMLExpandsEnv(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "sensorpush.yaml", validYAML))
	m.SetEnvLookup(fakeEnv(map[string]string{
		"SENSOR_API_KEY":    `k"ey`,
		"VAPID_PUBLIC_KEY":  "BPUB",
		"VAPID_PRIVATE_KEY": "priv",
	}))

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Security.APIKey != `k"ey` {
		t.Fatalf("api_key = %q", cfg.Security.APIKey)
	}
	if cfg.VAPID.Subject != "mailto:ops@example.com" {
		t.Fatalf("subject default not applied: %q", cfg.VAPID.Subject)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Push.Timeout != "5s" {
		t.Fatalf("unexpected cfg %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatal("Load must commit")
	}
}

func TestLoadKeepsLargeChatID(t *testing.T) {
	t.Parallel()
	body := validYAML + "mirror:\n  enabled: true\n  token: \"${TG_TOKEN}\"\n  chat_id: -1234567890123456789\n"
	m := NewManager(writeFile(t, "sensorpush.yaml", body))
	m.SetEnvLookup(fakeEnv(map[string]string{
		"SENSOR_API_KEY":    "k",
		"VAPID_PUBLIC_KEY":  "BPUB",
		"VAPID_PRIVATE_KEY": "priv",
		"TG_TOKEN":          "123:abc",
	}))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mirror == nil || cfg.Mirror.ChatID != -1234567890123456789 || cfg.Mirror.Token != "123:abc" {
		t.Fatalf("mirror = %+v", cfg.Mirror)
	}
}

func TestLoadJSONWithComments(t *testing.T) {
	t.Parallel()
	body := `{
  // sensors authenticate with this
  "security": {"api_key": "abc"},
  "vapid": {"public_key": "p", "private_key": "q", "subject": "https://example.com"},
  "storage": {"driver": "memory"}, /* trailing comma next */
}`
	m := NewManager(writeFile(t, "sensorpush.jsonc", body))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Security.APIKey != "abc" {
		t.Fatalf("api_key = %q", cfg.Security.APIKey)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "c.yaml", validYAML+"\nplugins: {}\n"))
	m.SetEnvLookup(fakeEnv(map[string]string{"SENSOR_API_KEY": "k", "VAPID_PUBLIC_KEY": "p", "VAPID_PRIVATE_KEY": "q"}))
	if _, err := m.Load(); err == nil || !strings.Contains(err.Error(), "plugins") {
		t.Fatalf("err = %v, want unknown field error", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Security: SecurityConfig{APIKey: "k"},
			VAPID:    VAPIDConfig{PublicKey: "p", PrivateKey: "q", Subject: "mailto:a@b.c"},
		}
	}
	if err := Validate(base()); err != nil {
		t.Fatalf("minimal config: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"api key", func(c *Config) { c.Security.APIKey = " " }, "security.api_key"},
		{"vapid keys", func(c *Config) { c.VAPID.PrivateKey = "" }, "vapid.public_key"},
		{"subject", func(c *Config) { c.VAPID.Subject = "" }, "vapid.subject"},
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"duration", func(c *Config) { c.Push.Timeout = "soon" }, "push.timeout"},
		{"negative duration", func(c *Config) { c.Server.IdleTimeout = "-1s" }, "server.idle_timeout"},
		{"urgency", func(c *Config) { c.Push.Urgency = "asap" }, "push.urgency"},
		{"driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"sqlite path", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.path"},
		{"influx", func(c *Config) { c.Storage.Driver = "influx"; c.Storage.Influx.URL = "http://x" }, "storage.influx"},
		{"cron", func(c *Config) { c.Housekeeping.StatsSchedule = "every tuesday" }, "housekeeping.stats_schedule"},
		{"tz", func(c *Config) { c.Housekeeping.Timezone = "Mars/Olympus" }, "housekeeping.timezone"},
		{"mirror", func(c *Config) { c.Mirror = &MirrorConfig{Enabled: true} }, "mirror.token"},
	}
	for _, tt := range tests {
		c := base()
		tt.mutate(c)
		err := Validate(c)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: err = %v, want mention of %q", tt.name, err, tt.want)
		}
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	a := &Config{Security: SecurityConfig{APIKey: "old"}, Server: ServerConfig{Addr: ":3000"}}
	b := &Config{Security: SecurityConfig{APIKey: "new"}, Server: ServerConfig{Addr: ":4000"}, Push: PushConfig{RatePerSec: 5}}

	c := SummarizeChange(a, b)
	for _, s := range []string{"server", "security", "push"} {
		if !c.Has(s) {
			t.Fatalf("missing section %q in %v", s, c.Sections)
		}
	}
	if c.Has("logging") {
		t.Fatal("logging did not change")
	}
	if len(c.RestartRequired) != 1 || c.RestartRequired[0] != "server" {
		t.Fatalf("RestartRequired = %v", c.RestartRequired)
	}
	if !SummarizeChange(a, a).Empty() {
		t.Fatal("identical configs must produce an empty change")
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "sensorpush.json")
	write := func(key string) {
		body := `{"security":{"api_key":"` + key + `"},"vapid":{"public_key":"p","private_key":"q","subject":"mailto:a@b.c"}}`
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("one")

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is rejected and not published.
	write("")
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg.Security)
	case <-time.After(600 * time.Millisecond):
	}

	write("two")
	select {
	case cfg := <-ch:
		if cfg.Security.APIKey != "two" {
			t.Fatalf("api_key = %q", cfg.Security.APIKey)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload not published")
	}
	if m.Get().Security.APIKey != "two" {
		t.Fatal("reload not committed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
