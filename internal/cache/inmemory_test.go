package cache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestInMemoryCache_RoundTrip(t *testing.T) {
	c := NewInMemoryCache(time.Hour)
	defer c.Close()
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("Get missing: err = %v, want ErrNotFound", err)
	}

	want := []byte(`{"widgets":[1,2,3]}`)
	if err := c.Set(ctx, "k", want, time.Minute); err != nil {
		t.Fatal(err)
	}

	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Get = %q, want %q", got, want)
	}

	// Mutating the returned slice must not affect the stored value.
	got[0] = 'X'
	again, _ := c.Get(ctx, "k")
	if !bytes.Equal(again, want) {
		t.Fatal("stored value was mutated through a Get result")
	}
}

func TestInMemoryCache_TTLExpiry(t *testing.T) {
	c := NewInMemoryCache(time.Hour)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if ok, _ := c.Exists(ctx, "k"); !ok {
		t.Fatal("entry missing before TTL")
	}

	time.Sleep(30 * time.Millisecond)
	if _, err := c.Get(ctx, "k"); err != ErrNotFound {
		t.Fatalf("Get after TTL: err = %v, want ErrNotFound", err)
	}
	if ok, _ := c.Exists(ctx, "k"); ok {
		t.Fatal("Exists true after TTL")
	}
}

func TestInMemoryCache_ZeroTTLNeverExpires(t *testing.T) {
	c := NewInMemoryCache(10 * time.Millisecond)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Fatalf("zero-TTL entry expired: %v", err)
	}
}

func TestInMemoryCache_DeleteAndClose(t *testing.T) {
	c := NewInMemoryCache(time.Hour)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("deleting absent key errored: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	// Set after Close is a no-op, not a panic.
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
}

func TestTieredCache_L2HitRepopulatesL1(t *testing.T) {
	l1 := NewInMemoryCache(time.Hour)
	l2 := NewInMemoryCache(time.Hour)
	tc := NewTieredCache(l1, l2, time.Minute)
	defer tc.Close()
	ctx := context.Background()

	// Seed only L2, simulating another replica's write.
	if err := l2.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}

	got, err := tc.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v" {
		t.Fatalf("Get = %q", got)
	}
	if _, err := l1.Get(ctx, "k"); err != nil {
		t.Fatal("L2 hit did not repopulate L1")
	}
}

func TestTieredCache_WritesBothLayers(t *testing.T) {
	l1 := NewInMemoryCache(time.Hour)
	l2 := NewInMemoryCache(time.Hour)
	tc := NewTieredCache(l1, l2, time.Minute)
	defer tc.Close()
	ctx := context.Background()

	if err := tc.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	for name, layer := range map[string]Cache{"l1": l1, "l2": l2} {
		if ok, _ := layer.Exists(ctx, "k"); !ok {
			t.Fatalf("%s missing entry after tiered Set", name)
		}
	}

	if err := tc.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := l1.Exists(ctx, "k"); ok {
		t.Fatal("l1 still has entry after tiered Delete")
	}
	if ok, _ := l2.Exists(ctx, "k"); ok {
		t.Fatal("l2 still has entry after tiered Delete")
	}
}
