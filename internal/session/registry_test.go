package session

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testController(sessionID, userID string) (*Controller, *atomic.Bool) {
	var cancelled atomic.Bool
	c := &Controller{
		sessionID: sessionID,
		userID:    userID,
		model:     "claude-3-5-sonnet-20241022",
		startedAt: time.Now(),
		cancel:    func() { cancelled.Store(true) },
		logger:    slog.Default(),
	}
	return c, &cancelled
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	c, _ := testController("session-1", "user-1")

	reg.Register(c)

	if !reg.IsLive("session-1") {
		t.Error("expected session-1 to be live after register")
	}
	if reg.IsLive("session-2") {
		t.Error("expected session-2 to not be live")
	}
	if got := reg.Count(); got != 1 {
		t.Errorf("expected count 1, got %d", got)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	reg := NewRegistry()
	c, _ := testController("session-1", "user-1")

	reg.Register(c)
	reg.Unregister(c)

	if reg.IsLive("session-1") {
		t.Error("expected session-1 to not be live after unregister")
	}
	if got := reg.Count(); got != 0 {
		t.Errorf("expected count 0, got %d", got)
	}
}

func TestRegistry_RegisterReplacesExisting(t *testing.T) {
	reg := NewRegistry()
	old, oldCancelled := testController("session-1", "user-1")
	reg.Register(old)

	replacement, _ := testController("session-1", "user-1")
	reg.Register(replacement)

	if !oldCancelled.Load() {
		t.Error("expected replaced controller to be shut down")
	}
	if got := reg.Count(); got != 1 {
		t.Errorf("expected count 1 after replacement, got %d", got)
	}
}

func TestRegistry_UnregisterStale(t *testing.T) {
	reg := NewRegistry()
	old, _ := testController("session-1", "user-1")
	reg.Register(old)

	replacement, _ := testController("session-1", "user-1")
	reg.Register(replacement)

	// The replaced controller unregisters itself as its run loop
	// exits. That must not evict the current controller.
	reg.Unregister(old)

	if !reg.IsLive("session-1") {
		t.Error("expected session-1 to survive stale unregister")
	}

	reg.Unregister(replacement)
	if reg.IsLive("session-1") {
		t.Error("expected session-1 to be gone after real unregister")
	}
}

func TestRegistry_Active(t *testing.T) {
	reg := NewRegistry()
	c1, _ := testController("session-1", "user-1")
	c2, _ := testController("session-2", "user-2")
	c2.setInstanceID("inst-2")

	reg.Register(c1)
	reg.Register(c2)

	active := reg.Active()
	if len(active) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(active))
	}

	byID := make(map[string]Info, len(active))
	for _, info := range active {
		byID[info.SessionID] = info
	}
	if info, ok := byID["session-2"]; !ok {
		t.Error("expected session-2 in active list")
	} else {
		if info.UserID != "user-2" {
			t.Errorf("expected user-2, got %q", info.UserID)
		}
		if info.InstanceID != "inst-2" {
			t.Errorf("expected inst-2, got %q", info.InstanceID)
		}
		if info.Model != "claude-3-5-sonnet-20241022" {
			t.Errorf("unexpected model %q", info.Model)
		}
	}
}

func TestRegistry_CloseUser(t *testing.T) {
	reg := NewRegistry()
	c1, cancelled1 := testController("session-1", "user-1")
	c2, cancelled2 := testController("session-2", "user-1")
	c3, cancelled3 := testController("session-3", "user-2")

	reg.Register(c1)
	reg.Register(c2)
	reg.Register(c3)

	closed := reg.CloseUser("user-1", "account closed")
	if closed != 2 {
		t.Errorf("expected 2 sessions closed, got %d", closed)
	}
	if !cancelled1.Load() || !cancelled2.Load() {
		t.Error("expected both user-1 controllers to be shut down")
	}
	if cancelled3.Load() {
		t.Error("expected user-2 controller to stay running")
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	reg := NewRegistry()
	c1, cancelled1 := testController("session-1", "user-1")
	c2, cancelled2 := testController("session-2", "user-2")

	reg.Register(c1)
	reg.Register(c2)
	reg.CloseAll("server shutdown")

	if !cancelled1.Load() || !cancelled2.Load() {
		t.Error("expected all controllers to be shut down")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("session-%d", n)
			c, _ := testController(id, fmt.Sprintf("user-%d", n%3))
			reg.Register(c)
			reg.IsLive(id)
			reg.Active()
			reg.Unregister(c)
		}(i)
	}

	wg.Wait()
	if got := reg.Count(); got != 0 {
		t.Errorf("expected empty registry after concurrent churn, got %d", got)
	}
}
