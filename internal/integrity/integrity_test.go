package integrity_test

import (
	"errors"
	"math"
	"testing"

	"github.com/fernbooks/ledgercore/internal/integrity"
)

func TestHash_keyOrderInvariant(t *testing.T) {
	a, err := integrity.Hash(map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatal(err)
	}
	b, err := integrity.Hash(map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("hashes differ for identical content: %q vs %q", a, b)
	}
}

func TestHash_nestedKeyOrderInvariant(t *testing.T) {
	a, _ := integrity.Hash(map[string]any{
		"outer": map[string]any{"x": []any{1, 2, 3}, "y": "z"},
		"n":     nil,
	})
	b, _ := integrity.Hash(map[string]any{
		"n":     nil,
		"outer": map[string]any{"y": "z", "x": []any{1, 2, 3}},
	})
	if a != b {
		t.Errorf("nested hashes differ: %q vs %q", a, b)
	}
}

func TestHash_structAndMapEquivalence(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	a, err := integrity.Hash(payload{Name: "cash", Count: 3})
	if err != nil {
		t.Fatal(err)
	}
	b, err := integrity.Hash(map[string]any{"count": 3, "name": "cash"})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("struct and equivalent map hash differently: %q vs %q", a, b)
	}
}

func TestHash_contentSensitive(t *testing.T) {
	a, _ := integrity.Hash(map[string]any{"amount": "100.00"})
	b, _ := integrity.Hash(map[string]any{"amount": "100.01"})
	if a == b {
		t.Error("different content produced identical hashes")
	}
}

func TestHash_arrayOrderMatters(t *testing.T) {
	a, _ := integrity.Hash([]any{1, 2})
	b, _ := integrity.Hash([]any{2, 1})
	if a == b {
		t.Error("sequence order must be significant")
	}
}

func TestCanonicalize_sortsKeys(t *testing.T) {
	got, err := integrity.Canonicalize(map[string]any{"b": 1, "a": 2})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":2,"b":1}`
	if string(got) != want {
		t.Errorf("Canonicalize: got %s, want %s", got, want)
	}
}

func TestHash_unhashable(t *testing.T) {
	cases := map[string]any{
		"channel": make(chan int),
		"func":    func() {},
		"nan":     math.NaN(),
		"inf":     math.Inf(1),
	}
	for name, v := range cases {
		if _, err := integrity.Hash(v); !errors.Is(err, integrity.ErrUnhashablePayload) {
			t.Errorf("%s: got err %v, want ErrUnhashablePayload", name, err)
		}
	}
}

func TestHash_cycle(t *testing.T) {
	m := map[string]any{}
	m["self"] = m
	if _, err := integrity.Hash(m); !errors.Is(err, integrity.ErrUnhashablePayload) {
		t.Errorf("cyclic payload: got err %v, want ErrUnhashablePayload", err)
	}
}

func TestHash_stableAcrossCalls(t *testing.T) {
	payload := map[string]any{"tenant": "t-1", "lines": []any{"a", "b"}}
	first, _ := integrity.Hash(payload)
	for i := 0; i < 50; i++ {
		if h, _ := integrity.Hash(payload); h != first {
			t.Fatalf("hash unstable on iteration %d", i)
		}
	}
}
