package cache

import (
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	c, err := New(1<<20, time.Minute)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	c.Set("depsdev:pypi/chainlit@1.1.200", []byte(`{"nodes":[]}`))
	c.Wait()

	got, ok := c.Get("depsdev:pypi/chainlit@1.1.200")
	if !ok || string(got) != `{"nodes":[]}` {
		t.Fatalf("Get() = %q, %v", got, ok)
	}

	c.Delete("depsdev:pypi/chainlit@1.1.200")
	if _, ok := c.Get("depsdev:pypi/chainlit@1.1.200"); ok {
		t.Error("expected miss after Delete")
	}
}

func TestCache_Miss(t *testing.T) {
	c, err := New(1<<20, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, ok := c.Get("absent"); ok {
		t.Error("expected miss")
	}
}

func TestCache_Nil(t *testing.T) {
	var c *Cache
	c.Set("k", []byte("v"))
	c.Wait()
	if _, ok := c.Get("k"); ok {
		t.Error("nil cache should always miss")
	}
	c.Delete("k")
	c.Close()
}
