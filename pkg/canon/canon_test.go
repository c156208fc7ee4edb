package canon

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestEncodeDeterministicKeyOrder(t *testing.T) {
	a := map[string]Value{"b": 1, "a": 2, "c": 3}
	b := map[string]Value{"c": 3, "a": 2, "b": 1}

	encA, err := Encode(a)
	if err != nil {
		t.Fatalf("encode a: %v", err)
	}
	encB, err := Encode(b)
	if err != nil {
		t.Fatalf("encode b: %v", err)
	}
	if !bytes.Equal(encA, encB) {
		t.Fatalf("expected identical bytes regardless of map insertion order")
	}
}

func TestEncodeNFCNormalization(t *testing.T) {
	// "é" as NFD (e + combining acute) vs NFC (precomposed) must encode identically.
	nfd := map[string]Value{"text": "é"}
	nfc := map[string]Value{"text": "é"}

	encNFD, err := Encode(nfd)
	if err != nil {
		t.Fatalf("encode nfd: %v", err)
	}
	encNFC, err := Encode(nfc)
	if err != nil {
		t.Fatalf("encode nfc: %v", err)
	}
	if !bytes.Equal(encNFD, encNFC) {
		t.Fatalf("expected NFD and NFC forms to encode identically")
	}
}

func TestEncodeRejectsNonFiniteNumbers(t *testing.T) {
	_, err := Encode(map[string]Value{"x": math.NaN()})
	var ee *EncodeError
	if !errors.As(err, &ee) {
		t.Fatalf("expected EncodeError for NaN, got %v", err)
	}
}

func TestEncodeRejectsNonEncodableType(t *testing.T) {
	type weird struct{ X int }
	_, err := Encode(weird{X: 1})
	var ee *EncodeError
	if !errors.As(err, &ee) {
		t.Fatalf("expected EncodeError for struct, got %v", err)
	}
	if !errors.Is(err, ErrNonEncodable) {
		t.Fatalf("expected errors.Is to match ErrNonEncodable")
	}
}

func TestEncodeEmptyContent(t *testing.T) {
	b, err := Encode(nil)
	if err != nil {
		t.Fatalf("encode nil: %v", err)
	}
	if len(b) == 0 {
		t.Fatalf("expected non-empty encoding of nil")
	}
}
