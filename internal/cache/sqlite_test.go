package cache

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caches.db")

	db, err := OpenSQLite(path, 0)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	store, err := db.OpenStore("plant-health-cache-v1")
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}

	entries := []*Entry{
		testEntry("GET http://example.test/", "index"),
		testEntry("GET http://example.test/icon-192.png", "png"),
	}
	if err := store.PutAll(entries); err != nil {
		t.Fatalf("PutAll failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db, err = OpenSQLite(path, 0)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer db.Close()

	names, err := db.Names()
	if err != nil {
		t.Fatalf("Names failed: %v", err)
	}
	if len(names) != 1 || names[0] != "plant-health-cache-v1" {
		t.Errorf("Names mismatch: got %v", names)
	}

	store, _ = db.OpenStore("plant-health-cache-v1")
	if store.Len() != 2 {
		t.Fatalf("Len mismatch: got %d, want 2", store.Len())
	}
	got, ok := store.Get("GET http://example.test/icon-192.png")
	if !ok {
		t.Fatal("Entry missing after reopen")
	}
	if string(got.Body) != "png" {
		t.Errorf("Body mismatch: got %s, want png", got.Body)
	}
	if got.Header.Get("Content-Type") != "text/plain" {
		t.Errorf("Header mismatch: got %q", got.Header.Get("Content-Type"))
	}

	keys := store.Keys()
	if len(keys) != 2 || keys[0] != "GET http://example.test/" {
		t.Errorf("Keys mismatch: got %v", keys)
	}
}

func TestSQLiteStore_CachesAreIsolated(t *testing.T) {
	db, err := OpenSQLite(":memory:", 0)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer db.Close()

	a, _ := db.OpenStore("a")
	b, _ := db.OpenStore("b")

	key := "GET http://example.test/"
	if err := a.PutAll([]*Entry{testEntry(key, "from-a")}); err != nil {
		t.Fatalf("PutAll failed: %v", err)
	}

	if _, ok := b.Get(key); ok {
		t.Error("Entry leaked into another cache")
	}
	if b.Len() != 0 {
		t.Errorf("Len mismatch: got %d, want 0", b.Len())
	}
	if a.Size() == 0 {
		t.Error("Expected non-zero size for populated cache")
	}
}

func TestSQLiteStore_EvictsLeastRecentlyUsed(t *testing.T) {
	db, err := OpenSQLite(":memory:", 2500)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer db.Close()

	store, err := db.OpenStore("plant-health-cache-v1")
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}

	body := strings.Repeat("x", 1000)
	put := func(key string) {
		t.Helper()
		if err := store.PutAll([]*Entry{testEntry(key, body)}); err != nil {
			t.Fatalf("PutAll %s failed: %v", key, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	put("GET http://example.test/a")
	put("GET http://example.test/b")
	if _, ok := store.Get("GET http://example.test/a"); !ok {
		t.Fatal("Entry a missing before eviction")
	}
	time.Sleep(5 * time.Millisecond)
	put("GET http://example.test/c")

	if _, ok := store.Get("GET http://example.test/b"); ok {
		t.Error("Least recently used entry b was not evicted")
	}
	for _, key := range []string{"GET http://example.test/a", "GET http://example.test/c"} {
		if _, ok := store.Get(key); !ok {
			t.Errorf("Entry %s evicted", key)
		}
	}
	if got := store.Stats().Evictions; got != 1 {
		t.Errorf("Evictions mismatch: got %d, want 1", got)
	}
	if size := store.Size(); size > 2500 {
		t.Errorf("Size %d exceeds capacity", size)
	}

	big := testEntry("GET http://example.test/big", strings.Repeat("x", 3000))
	if err := store.PutAll([]*Entry{big}); !errors.Is(err, ErrItemTooLarge) {
		t.Errorf("Expected ErrItemTooLarge, got %v", err)
	}
	if store.Len() != 2 {
		t.Errorf("Len mismatch after rejected batch: got %d, want 2", store.Len())
	}
}
