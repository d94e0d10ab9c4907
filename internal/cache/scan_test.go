package cache

import (
	"fmt"
	"testing"
)

func TestClearPatternCompleteness(t *testing.T) {
	c, _, ctx, cleanup := newTestClient(t)
	defer cleanup()

	const matching, other = 25, 7
	for i := 0; i < matching; i++ {
		c.Set(ctx, fmt.Sprintf("session:%d", i), "v", 0)
	}
	for i := 0; i < other; i++ {
		c.Set(ctx, fmt.Sprintf("user:%d", i), "v", 0)
	}

	if n := c.ClearPattern(ctx, "session:*", 10); n != matching {
		t.Fatalf("expected %d deletions, got %d", matching, n)
	}
	for i := 0; i < matching; i++ {
		if _, ok := c.Get(ctx, fmt.Sprintf("session:%d", i)); ok {
			t.Fatalf("session:%d should be gone", i)
		}
	}
	for i := 0; i < other; i++ {
		if _, ok := c.Get(ctx, fmt.Sprintf("user:%d", i)); !ok {
			t.Fatalf("user:%d should survive", i)
		}
	}
}

func TestClearPatternEmptyInputs(t *testing.T) {
	c, mr, ctx, cleanup := newTestClient(t)
	defer cleanup()

	if n := c.ClearPattern(ctx, "", 10); n != 0 {
		t.Fatalf("empty pattern must delete nothing, got %d", n)
	}
	if n := c.ClearPattern(ctx, "nothing:*", 10); n != 0 {
		t.Fatalf("no matches must delete nothing, got %d", n)
	}

	// aborted scan reports partial progress instead of raising
	c.Set(ctx, "p:1", "v", 0)
	mr.Close()
	if n := c.ClearPattern(ctx, "p:*", 10); n != 0 {
		t.Fatalf("aborted scan must report progress so far, got %d", n)
	}
}
