package kv

import "testing"

func TestMemStoreSetGet(t *testing.T) {
	m := NewMemStore()
	if err := m.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := m.Get([]byte("a"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "1" {
		t.Fatalf("expected 1, got %q", v)
	}
}

func TestMemStoreGetMissingKeyReturnsNil(t *testing.T) {
	m := NewMemStore()
	v, err := m.Get([]byte("missing"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != nil {
		t.Fatalf("expected nil for missing key, got %q", v)
	}
}

func TestMemStoreHasAndDelete(t *testing.T) {
	m := NewMemStore()
	_ = m.Set([]byte("k"), []byte("v"))

	ok, err := m.Has([]byte("k"))
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if !ok {
		t.Fatalf("expected Has to report true after Set")
	}

	if err := m.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, err = m.Has([]byte("k"))
	if err != nil {
		t.Fatalf("Has after delete: %v", err)
	}
	if ok {
		t.Fatalf("expected Has to report false after Delete")
	}
}

func TestMemStoreSetCopiesValue(t *testing.T) {
	m := NewMemStore()
	value := []byte("original")
	if err := m.Set([]byte("k"), value); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value[0] = 'X' // mutate caller's slice after Set

	stored, err := m.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(stored) != "original" {
		t.Fatalf("expected Set to defensively copy, got %q", stored)
	}
}
