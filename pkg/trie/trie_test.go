package trie

import (
	"bytes"
	"testing"

	"github.com/chronoshard/tsdb/pkg/bitmap"
)

func TestTrie_InsertGet(t *testing.T) {
	tr := New()
	p := bitmap.FromIDs(1, 2, 3)
	tr.Insert([]byte("host\x00server1"), p)

	got, ok := tr.Get([]byte("host\x00server1"))
	if !ok {
		t.Fatal("expected key to be found")
	}
	if got != p {
		t.Fatal("Get returned a different posting pointer than inserted")
	}

	if _, ok := tr.Get([]byte("host\x00server2")); ok {
		t.Fatal("unexpected key found")
	}
}

func TestTrie_GetMutCreatesEmpty(t *testing.T) {
	tr := New()
	p := tr.GetMut([]byte("a"))
	p.Add(1)

	got, ok := tr.Get([]byte("a"))
	if !ok || !got.Contains(1) {
		t.Fatal("GetMut should create and return a mutable posting visible via Get")
	}
}

func TestTrie_Remove(t *testing.T) {
	tr := New()
	tr.Insert([]byte("a"), bitmap.New())
	tr.Insert([]byte("b"), bitmap.New())

	tr.Remove([]byte("a"))
	if _, ok := tr.Get([]byte("a")); ok {
		t.Fatal("expected a to be removed")
	}
	if _, ok := tr.Get([]byte("b")); !ok {
		t.Fatal("expected b to remain")
	}
	if tr.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tr.Len())
	}
}

func TestTrie_All_Ascending(t *testing.T) {
	tr := New()
	keys := [][]byte{[]byte("c"), []byte("a"), []byte("b")}
	for _, k := range keys {
		tr.Insert(k, bitmap.New())
	}

	var got [][]byte
	for k := range tr.All() {
		got = append(got, k)
	}

	want := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Fatalf("All() order[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTrie_PrefixScan(t *testing.T) {
	tr := New()
	for _, k := range []string{"host\x00a", "host\x00b", "region\x00c"} {
		tr.Insert([]byte(k), bitmap.New())
	}

	var got []string
	for k := range tr.PrefixScan([]byte("host\x00")) {
		got = append(got, string(k))
	}

	want := []string{"host\x00a", "host\x00b"}
	if len(got) != len(want) {
		t.Fatalf("PrefixScan returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("PrefixScan[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTrie_Range(t *testing.T) {
	tr := New()
	for _, k := range []string{"a", "b", "c", "d"} {
		tr.Insert([]byte(k), bitmap.New())
	}

	var got []string
	for k := range tr.Range([]byte("b"), []byte("d")) {
		got = append(got, string(k))
	}

	want := []string{"b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Range returned %v, want %v", got, want)
	}
}

func TestTrie_RangeUnboundedAbove(t *testing.T) {
	tr := New()
	for _, k := range []string{"a", "b", "c"} {
		tr.Insert([]byte(k), bitmap.New())
	}

	var got []string
	for k := range tr.Range([]byte("b"), nil) {
		got = append(got, string(k))
	}

	want := []string{"b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Range returned %v, want %v", got, want)
	}
}
