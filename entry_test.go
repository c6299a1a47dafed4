package cachestore

import (
	"testing"
)

func TestDecodeVariantsRoundtrip(t *testing.T) {
	variants := map[string]*VariantRecord{
		"abc": {Vary: []string{"Accept"}, Status: 200, URI: "http://example.com/"},
	}
	raw, err := encodeVariants(variants)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := decodeVariants(raw)
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := decoded["abc"]
	if !ok || rec.Status != 200 || len(rec.Vary) != 1 || rec.Vary[0] != "Accept" {
		t.Fatalf("Decoded record is %+v", rec)
	}
}

func TestDecodeVariantsLegacy(t *testing.T) {
	raw := []byte(`{"non-varying":{"headers":{"Content-Type":["text/plain"]},"status":200,"uri":"http://example.com/"}}`)
	decoded, err := decodeVariants(raw)
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := decoded[NonVaryingKey]
	if !ok || rec.Status != 200 {
		t.Fatalf("Decoded legacy record is %+v", rec)
	}
}

func TestDecodeVariantsGarbage(t *testing.T) {
	if _, err := decodeVariants([]byte("not json at all")); err == nil {
		t.Fatal("Garbage payload decoded without error")
	}
	if _, err := decodeVariants([]byte(`"just a string"`)); err == nil {
		t.Fatal("String payload decoded without error")
	}
}
