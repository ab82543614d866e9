package tokencache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// exerciseCache checks the contract every backend must satisfy.
func exerciseCache(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, KeyToken); err != nil || ok {
		t.Fatalf("Get on empty cache = ok %v, err %v", ok, err)
	}
	if err := c.Set(ctx, KeyToken, "T1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := c.Get(ctx, KeyToken)
	if err != nil || !ok || v != "T1" {
		t.Fatalf("Get after Set = %q, %v, %v", v, ok, err)
	}
	if err := c.Set(ctx, KeyToken, "T2"); err != nil {
		t.Fatalf("second Set: %v", err)
	}
	if v, _, _ := c.Get(ctx, KeyToken); v != "T2" {
		t.Fatalf("last write should win, got %q", v)
	}
	if err := c.Set(ctx, KeyUser, `{"id":"u1"}`); err != nil {
		t.Fatalf("Set user: %v", err)
	}
	if err := c.Remove(ctx, KeyToken); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := c.Get(ctx, KeyToken); ok {
		t.Fatal("key still present after Remove")
	}
	if v, ok, _ := c.Get(ctx, KeyUser); !ok || v != `{"id":"u1"}` {
		t.Fatalf("unrelated key affected by Remove: %q %v", v, ok)
	}
	if err := c.Remove(ctx, "missing"); err != nil {
		t.Fatalf("Remove of a missing key: %v", err)
	}
}

func TestMemoryCache(t *testing.T) {
	exerciseCache(t, NewMemory())
}

func TestFileCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	exerciseCache(t, NewFile(path))

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("file mode = %v, want 0600", perm)
	}
}

func TestFileCacheObservesOtherWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	a, b := NewFile(path), NewFile(path)
	ctx := context.Background()
	if err := a.Set(ctx, KeyToken, "from-a"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v := Lookup(ctx, b, KeyToken); v != "from-a" {
		t.Fatalf("second handle read %q", v)
	}
}

func TestFileCacheCorruptedDocumentIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := NewFile(path)
	if _, ok, err := c.Get(context.Background(), KeyToken); ok || err != nil {
		t.Fatalf("Get on corrupted file = %v, %v", ok, err)
	}
	exerciseCache(t, c)
}

func TestSealedCache(t *testing.T) {
	inner := NewMemory()
	sealed, err := NewSealed(inner, "correct horse", nil)
	if err != nil {
		t.Fatalf("NewSealed: %v", err)
	}
	exerciseCache(t, sealed)

	ctx := context.Background()
	if err := sealed.Set(ctx, KeyRefreshToken, "R1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	raw, _, _ := inner.Get(ctx, KeyRefreshToken)
	if raw == "" || raw == "R1" {
		t.Fatalf("inner cache holds plaintext: %q", raw)
	}

	other, err := NewSealed(inner, "wrong passphrase", nil)
	if err != nil {
		t.Fatalf("NewSealed: %v", err)
	}
	if _, ok, err := other.Get(ctx, KeyRefreshToken); ok || !errors.Is(err, ErrSealBroken) {
		t.Fatalf("wrong key Get = %v, %v", ok, err)
	}

	// Values are bound to their key.
	if err := inner.Set(ctx, KeyToken, raw); err != nil {
		t.Fatalf("inner Set: %v", err)
	}
	if _, _, err := sealed.Get(ctx, KeyToken); !errors.Is(err, ErrSealBroken) {
		t.Fatalf("swapped value should not open, err = %v", err)
	}
}

func TestNewSealedRequiresPassphrase(t *testing.T) {
	if _, err := NewSealed(NewMemory(), "", nil); err == nil {
		t.Fatal("expected error for empty passphrase")
	}
	if _, err := NewSealed(nil, "x", nil); err == nil {
		t.Fatal("expected error for nil inner cache")
	}
}

func TestLookupAndClear(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, KeyToken, "T")
	_ = m.Set(ctx, KeyUser, "U")
	_ = m.Set(ctx, KeyRefreshToken, "R")
	_ = m.Set(ctx, "theme", "dark")

	if Lookup(ctx, m, KeyToken) != "T" {
		t.Fatal("Lookup missed stored token")
	}
	if Lookup(ctx, nil, KeyToken) != "" {
		t.Fatal("Lookup on nil cache should be empty")
	}
	if err := Clear(ctx, m); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("Clear should keep unrelated keys, len = %d", m.Len())
	}
}

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, Options{})
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, ok := mem.Cache.(*Memory); !ok {
		t.Fatalf("default backend = %T, want *Memory", mem.Cache)
	}

	file, err := Open(ctx, Options{Backend: "FILE", FilePath: filepath.Join(t.TempDir(), "s.json"), Secret: "s3cret"})
	if err != nil {
		t.Fatalf("Open file: %v", err)
	}
	if _, ok := file.Cache.(*Sealed); !ok {
		t.Fatalf("secret should seal the backend, got %T", file.Cache)
	}
	exerciseCache(t, file)
	if err := file.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := Open(ctx, Options{Backend: "etcd"}); err == nil {
		t.Fatal("expected unknown backend error")
	}
	if _, err := Open(ctx, Options{Backend: BackendPostgres}); err == nil {
		t.Fatal("expected missing DSN error")
	}
}
