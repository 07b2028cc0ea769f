package dbtypes

import "testing"

func TestIntArrayRoundTrip(t *testing.T) {
	arr := IntArray{6, 12, 24}
	val, err := arr.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if val != "{6,12,24}" {
		t.Fatalf("unexpected literal %v", val)
	}

	var parsed IntArray
	if err := parsed.Scan(val); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(parsed) != 3 || parsed[0] != 6 || parsed[2] != 24 {
		t.Fatalf("unexpected parsed array %v", parsed)
	}
}

func TestIntArrayScanEmptyAndNil(t *testing.T) {
	var arr IntArray
	if err := arr.Scan(nil); err != nil {
		t.Fatalf("Scan nil: %v", err)
	}
	if len(arr) != 0 {
		t.Fatalf("expected empty array, got %v", arr)
	}
	if err := arr.Scan("{}"); err != nil {
		t.Fatalf("Scan empty literal: %v", err)
	}
	if len(arr) != 0 {
		t.Fatalf("expected empty array, got %v", arr)
	}
}

func TestIntArrayContains(t *testing.T) {
	arr := IntArray{6, 12}
	if !arr.Contains(6) || arr.Contains(9) {
		t.Fatalf("Contains misbehaved for %v", arr)
	}
}

func TestIntArrayScanRejectsGarbage(t *testing.T) {
	var arr IntArray
	if err := arr.Scan("{6,twelve}"); err == nil {
		t.Fatal("expected parse error")
	}
}
