package document

import (
	"errors"
	"testing"
	"time"
)

// TestCodecRoundTrip tests that every type survives encoding.
func TestCodecRoundTrip(t *testing.T) {
	d := New().
		Set("_id", NewID()).
		Set("i32", int32(-5)).
		Set("i64", int64(1)<<50).
		Set("f", 3.25).
		Set("s", "héllo").
		Set("b", true).
		Set("t", time.UnixMilli(1700000000123)).
		Set("bin", []byte{0, 1, 2}).
		Set("null", nil).
		Set("min", MinValue()).
		Set("max", MaxValue()).
		Set("arr", Array(Int32(1), String("x"), Doc(New().Set("k", 1)))).
		Set("doc", New().Set("nested", New().Set("deep", "yes")))

	got, err := Decode(Encode(d))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !got.Equal(d) {
		t.Errorf("Decode(Encode(d)) = %v, want %v", got, d)
	}
	for _, k := range d.Keys() {
		if got.Value(k).Type() != d.Value(k).Type() {
			t.Errorf("%s type = %v, want %v", k, got.Value(k).Type(), d.Value(k).Type())
		}
	}
}

// TestDecodeTruncated tests that every prefix of an encoding is rejected.
func TestDecodeTruncated(t *testing.T) {
	b := Encode(New().Set("a", "some text").Set("b", int64(9)))
	for i := 0; i < len(b); i++ {
		if _, err := Decode(b[:i]); err == nil {
			t.Fatalf("Decode(prefix %d) succeeded, want error", i)
		}
	}
}

// TestDecodeUnknownType tests rejection of bad type tags.
func TestDecodeUnknownType(t *testing.T) {
	_, _, err := DecodeValue([]byte{0xEE})
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("DecodeValue error = %v, want ErrUnknownType", err)
	}
}

// TestDecodeValueLength tests that DecodeValue reports consumed bytes.
func TestDecodeValueLength(t *testing.T) {
	b := EncodeValue(String("abc"))
	b = append(b, 0xFF)
	v, n, err := DecodeValue(b)
	if err != nil {
		t.Fatalf("DecodeValue failed: %v", err)
	}
	if v.AsString() != "abc" || n != len(b)-1 {
		t.Errorf("DecodeValue = (%v, %d), want (\"abc\", %d)", v, n, len(b)-1)
	}
}
