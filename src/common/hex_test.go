package common

import (
	"bytes"
	"testing"
)

func TestHexRoundTrip(t *testing.T) {
	data := []byte{0x00, 0xde, 0xad, 0xbe, 0xef}

	s := EncodeToString(data)
	if s != "0X00DEADBEEF" {
		t.Fatalf("EncodeToString should be 0X00DEADBEEF, not %s", s)
	}

	for _, in := range []string{s, "0x00deadbeef", "00DEADBEEF"} {
		res, err := DecodeFromString(in)
		if err != nil {
			t.Fatalf("DecodeFromString(%s): %v", in, err)
		}
		if !bytes.Equal(res, data) {
			t.Fatalf("DecodeFromString(%s) = %X", in, res)
		}
	}

	if _, err := DecodeFromString("0XZZ"); err == nil {
		t.Fatalf("DecodeFromString should fail on non-hex input")
	}
}

func TestIsStore(t *testing.T) {
	err := NewStoreErr("Transaction", KeyNotFound, "0XAB")

	if !IsStore(err, KeyNotFound) {
		t.Fatalf("IsStore should match KeyNotFound")
	}
	if IsStore(err, KeyAlreadyExists) {
		t.Fatalf("IsStore should not match KeyAlreadyExists")
	}
	if err.Error() != "Transaction, 0XAB, Not Found" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}
