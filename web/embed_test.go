package web

import (
	"io/fs"
	"strings"
	"testing"
)

func TestStaticFiles(t *testing.T) {
	t.Parallel()
	st := Static()
	for _, name := range []string{"index.html", "main.js", "sw.js"} {
		if _, err := fs.Stat(st, name); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}

	sw, err := fs.ReadFile(st, "sw.js")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"'push'", "waitUntil", "'notificationclick'", "openWindow", "includeUncontrolled"} {
		if !strings.Contains(string(sw), want) {
			t.Fatalf("sw.js missing %s", want)
		}
	}

	mainJS, _ := fs.ReadFile(st, "main.js")
	for _, want := range []string{"/api/vapid-public-key", "/api/subscribe", "userVisibleOnly: true", "PushManager"} {
		if !strings.Contains(string(mainJS), want) {
			t.Fatalf("main.js missing %s", want)
		}
	}
}
