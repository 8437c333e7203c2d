package store

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/bobboyms/transactional-kv/pkg/types"
)

// appendMerge concatena delta ao valor existente com um separador,
// exercitando merge-updates de verdade (não substituição).
func appendMerge(key, existing, delta []byte) []byte {
	if len(existing) == 0 {
		return append([]byte(nil), delta...)
	}
	out := append([]byte(nil), existing...)
	out = append(out, ',')
	return append(out, delta...)
}

// openStores abre os dois engines com a mesma configuração para os
// testes de contrato.
func openStores(t *testing.T, merge types.Merge) map[string]Store {
	t.Helper()

	memCfg := Config{InMemory: true, Merge: merge}
	mem, err := Open(memCfg)
	if err != nil {
		t.Fatalf("failed to open memstore: %v", err)
	}

	pebCfg := DefaultConfig(t.TempDir())
	pebCfg.Merge = merge
	peb, err := Open(pebCfg)
	if err != nil {
		t.Fatalf("failed to open pebble store: %v", err)
	}

	t.Cleanup(func() {
		mem.Close()
		peb.Close()
	})

	return map[string]Store{"mem": mem, "pebble": peb}
}

func TestLookupInsertDelete(t *testing.T) {
	for name, s := range openStores(t, nil) {
		t.Run(name, func(t *testing.T) {
			key := []byte("k1")

			_, found, err := s.Lookup(key)
			if err != nil {
				t.Fatalf("Lookup failed: %v", err)
			}
			if found {
				t.Fatal("fresh store should not contain k1")
			}

			if err := s.Insert(key, []byte("v1")); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			v, found, err := s.Lookup(key)
			if err != nil || !found {
				t.Fatalf("Lookup after insert: found=%v err=%v", found, err)
			}
			if !bytes.Equal(v, []byte("v1")) {
				t.Errorf("expected v1, got %q", v)
			}

			// Blind put substitui
			if err := s.Insert(key, []byte("v2")); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			v, _, _ = s.Lookup(key)
			if !bytes.Equal(v, []byte("v2")) {
				t.Errorf("expected v2, got %q", v)
			}

			if err := s.Delete(key); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			_, found, _ = s.Lookup(key)
			if found {
				t.Error("key should be gone after delete")
			}
		})
	}
}

func TestUpdateMergesWithExisting(t *testing.T) {
	for name, s := range openStores(t, appendMerge) {
		t.Run(name, func(t *testing.T) {
			key := []byte("list")

			// Update sem valor prévio: delta vira o valor
			if err := s.Update(key, []byte("a")); err != nil {
				t.Fatalf("Update failed: %v", err)
			}
			if err := s.Update(key, []byte("b")); err != nil {
				t.Fatalf("Update failed: %v", err)
			}
			if err := s.Update(key, []byte("c")); err != nil {
				t.Fatalf("Update failed: %v", err)
			}

			v, found, err := s.Lookup(key)
			if err != nil || !found {
				t.Fatalf("Lookup: found=%v err=%v", found, err)
			}
			if !bytes.Equal(v, []byte("a,b,c")) {
				t.Errorf("expected merged a,b,c, got %q", v)
			}

			// Merge sobre um insert
			if err := s.Insert([]byte("base"), []byte("x")); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			if err := s.Update([]byte("base"), []byte("y")); err != nil {
				t.Fatalf("Update failed: %v", err)
			}
			v, _, _ = s.Lookup([]byte("base"))
			if !bytes.Equal(v, []byte("x,y")) {
				t.Errorf("expected x,y, got %q", v)
			}
		})
	}
}

func TestScanRange(t *testing.T) {
	for name, s := range openStores(t, nil) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 20; i++ {
				key := []byte(fmt.Sprintf("k%02d", i))
				if err := s.Insert(key, []byte(fmt.Sprintf("v%d", i))); err != nil {
					t.Fatalf("Insert failed: %v", err)
				}
			}

			it, err := s.Scan([]byte("k05"), []byte("k10"))
			if err != nil {
				t.Fatalf("Scan failed: %v", err)
			}

			var got []string
			for it.Valid() {
				got = append(got, string(it.Key()))
				it.Next()
			}
			if err := it.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			want := []string{"k05", "k06", "k07", "k08", "k09"}
			if len(got) != len(want) {
				t.Fatalf("expected %v, got %v", want, got)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("expected %v, got %v", want, got)
				}
			}
		})
	}
}

func TestScanOpenBounds(t *testing.T) {
	for name, s := range openStores(t, nil) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"a", "b", "c"} {
				s.Insert([]byte(k), []byte("v"))
			}

			it, err := s.Scan(nil, nil)
			if err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
			count := 0
			for it.Valid() {
				count++
				it.Next()
			}
			it.Close()

			if count != 3 {
				t.Errorf("full scan expected 3 keys, got %d", count)
			}
		})
	}
}

func TestCustomComparatorOrdering(t *testing.T) {
	reverse := func(a, b []byte) int { return -bytes.Compare(a, b) }

	memCfg := Config{InMemory: true, Compare: reverse}
	mem, _ := Open(memCfg)
	defer mem.Close()

	pebCfg := DefaultConfig(t.TempDir())
	pebCfg.Compare = reverse
	peb, err := Open(pebCfg)
	if err != nil {
		t.Fatalf("failed to open pebble with custom comparator: %v", err)
	}
	defer peb.Close()

	for name, s := range map[string]Store{"mem": mem, "pebble": peb} {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"a", "b", "c"} {
				s.Insert([]byte(k), []byte("v"))
			}

			it, err := s.Scan(nil, nil)
			if err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
			defer it.Close()

			if !it.Valid() || !bytes.Equal(it.Key(), []byte("c")) {
				t.Fatalf("reverse order: first key should be c, got %q", it.Key())
			}
		})
	}
}

func TestCloseIsTerminal(t *testing.T) {
	mem, _ := Open(Config{InMemory: true})
	if err := mem.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := mem.Insert([]byte("k"), []byte("v")); err == nil {
		t.Error("insert on closed store should fail")
	}
	if _, _, err := mem.Lookup([]byte("k")); err == nil {
		t.Error("lookup on closed store should fail")
	}
}

func TestPebbleReopenPersists(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig(dir)
	cfg.SyncWrites = true
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := s.Insert([]byte("durable"), []byte("yes")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = Open(cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	v, found, err := s.Lookup([]byte("durable"))
	if err != nil || !found {
		t.Fatalf("Lookup after reopen: found=%v err=%v", found, err)
	}
	if !bytes.Equal(v, []byte("yes")) {
		t.Errorf("expected yes, got %q", v)
	}
}
