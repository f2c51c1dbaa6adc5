package sink

import "testing"

func TestContentHashKeyOrderIndependent(t *testing.T) {
	a := []byte(`{"price": 1.5, "symbol": "SPY", "volume": 100}`)
	b := []byte(`{"volume":100,"symbol":"SPY","price":1.5}`)

	hashA, err := ContentHash(a)
	if err != nil {
		t.Fatalf("ContentHash(a) error: %v", err)
	}
	hashB, err := ContentHash(b)
	if err != nil {
		t.Fatalf("ContentHash(b) error: %v", err)
	}

	if hashA != hashB {
		t.Errorf("hashes differ for equivalent payloads: %s vs %s", hashA, hashB)
	}
}

func TestContentHashWhitespaceIndependent(t *testing.T) {
	a := []byte(`{"x": [1, 2, 3]}`)
	b := []byte("{\n  \"x\": [1,2,3]\n}")

	hashA, _ := ContentHash(a)
	hashB, _ := ContentHash(b)
	if hashA != hashB {
		t.Errorf("whitespace changed the hash: %s vs %s", hashA, hashB)
	}
}

func TestContentHashDistinguishesValues(t *testing.T) {
	a := []byte(`{"price": 1.5}`)
	b := []byte(`{"price": 1.6}`)

	hashA, _ := ContentHash(a)
	hashB, _ := ContentHash(b)
	if hashA == hashB {
		t.Error("different payloads produced the same hash")
	}
}

func TestContentHashPreservesNumberPrecision(t *testing.T) {
	// Large ints and high-precision decimals must not be mangled through
	// float64 on the way to the canonical form.
	a := []byte(`{"id": 9007199254740993}`)
	b := []byte(`{"id": 9007199254740992}`)

	hashA, err := ContentHash(a)
	if err != nil {
		t.Fatalf("ContentHash(a) error: %v", err)
	}
	hashB, err := ContentHash(b)
	if err != nil {
		t.Fatalf("ContentHash(b) error: %v", err)
	}
	if hashA == hashB {
		t.Error("adjacent large integers hashed identically")
	}
}

func TestContentHashRejectsMalformedJSON(t *testing.T) {
	if _, err := ContentHash([]byte(`{"broken":`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}
