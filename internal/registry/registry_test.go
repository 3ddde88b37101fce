package registry

import (
	"fmt"
	"sync"
	"testing"

	"sensorpush/internal/push"
)

func sub(ep string) push.Subscription {
	return push.Subscription{Endpoint: ep, Keys: push.Keys{P256dh: "p-" + ep, Auth: "a-" + ep}}
}

func TestAddIsIdempotentPerEndpoint(t *testing.T) {
	t.Parallel()
	r := New()
	if !r.Add(sub("E1")) {
		t.Fatal("first Add should report newly added")
	}
	if r.Add(sub("E1")) {
		t.Fatal("second Add with same endpoint should be a no-op")
	}
	if got := r.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}
	// A different key set under the same endpoint does not replace the record.
	dup := sub("E1")
	dup.Keys.Auth = "other"
	r.Add(dup)
	if got := r.Snapshot()[0].Keys.Auth; got != "a-E1" {
		t.Fatalf("Auth = %q, want original", got)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	r := New()
	r.Add(sub("E1"))
	r.Add(sub("E2"))

	if !r.Remove("E1") {
		t.Fatal("Remove(E1) = false")
	}
	if r.Remove("E1") {
		t.Fatal("second Remove(E1) should be a no-op")
	}
	if r.Remove("missing") {
		t.Fatal("Remove(missing) should be a no-op")
	}
	if r.Contains("E1") || !r.Contains("E2") {
		t.Fatalf("unexpected contents %v", r.Snapshot())
	}
}

func TestSnapshotIsIsolatedFromMutation(t *testing.T) {
	t.Parallel()
	r := New()
	r.Add(sub("E1"))
	r.Add(sub("E2"))

	snap := r.Snapshot()
	r.Remove("E1")
	r.Add(sub("E3"))

	if len(snap) != 2 || snap[0].Endpoint != "E1" || snap[1].Endpoint != "E2" {
		t.Fatalf("snapshot changed: %v", snap)
	}
	snap[0].Endpoint = "mutated"
	if r.Contains("mutated") {
		t.Fatal("mutating the snapshot leaked into the registry")
	}
}

func TestConcurrentAddSameEndpoint(t *testing.T) {
	t.Parallel()
	r := New()
	var wg sync.WaitGroup
	var mu sync.Mutex
	added := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Add(sub("E1")) {
				mu.Lock()
				added++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if r.Len() != 1 || added != 1 {
		t.Fatalf("Len = %d, newly added = %d; want 1 and 1", r.Len(), added)
	}
}

func TestConcurrentAddRemoveSnapshot(t *testing.T) {
	t.Parallel()
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		ep := fmt.Sprintf("E%d", i)
		wg.Add(3)
		go func() { defer wg.Done(); r.Add(sub(ep)) }()
		go func() { defer wg.Done(); r.Remove(ep) }()
		go func() {
			defer wg.Done()
			seen := map[string]bool{}
			for _, s := range r.Snapshot() {
				if seen[s.Endpoint] {
					t.Errorf("duplicate endpoint %q in snapshot", s.Endpoint)
				}
				seen[s.Endpoint] = true
			}
		}()
	}
	wg.Wait()
	if got := len(r.Snapshot()); got != r.Len() {
		t.Fatalf("snapshot len %d != Len %d", got, r.Len())
	}
}
