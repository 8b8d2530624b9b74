package cryptutil_test

import (
	"bytes"
	"testing"

	"github.com/fieldgate/credcore/internal/cryptutil"
)

func testKey() []byte {
	key := make([]byte, cryptutil.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey()
	cases := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("exactly-16-bytes"),
		[]byte("prod-pin_access_tool-7603489"),
		bytes.Repeat([]byte{0xAB}, 100),
	}

	for _, plaintext := range cases {
		enc, err := cryptutil.Encrypt(key, plaintext, nil)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		if len(enc.IV) != cryptutil.BlockSize {
			t.Fatalf("iv length = %d, want %d", len(enc.IV), cryptutil.BlockSize)
		}

		got, err := cryptutil.Decrypt(key, enc.IV, enc.Ciphertext)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("round trip mismatch: got %q, want %q", got, plaintext)
		}
	}
}

func TestEncryptInvalidKeySize(t *testing.T) {
	_, err := cryptutil.Encrypt(make([]byte, 15), []byte("x"), nil)
	if err == nil {
		t.Fatal("expected ErrInvalidKeySize")
	}
}

func TestEncryptInvalidIVSize(t *testing.T) {
	_, err := cryptutil.Encrypt(testKey(), []byte("x"), make([]byte, 8))
	if err == nil {
		t.Fatal("expected ErrInvalidIVSize")
	}
}

func TestDecryptInvalidPadding(t *testing.T) {
	key := testKey()
	enc, err := cryptutil.Encrypt(key, []byte("hello world"), nil)
	if err != nil {
		t.Fatal(err)
	}

	// Corrupt the last byte of the final block so the padding is invalid.
	corrupted := append([]byte(nil), enc.Ciphertext...)
	corrupted[len(corrupted)-1] ^= 0xFF

	if _, err := cryptutil.Decrypt(key, enc.IV, corrupted); err == nil {
		t.Fatal("expected invalid padding to be rejected")
	}
}

func TestDecryptRejectsEmptyAndMisalignedCiphertext(t *testing.T) {
	key := testKey()
	iv := make([]byte, cryptutil.BlockSize)

	if _, err := cryptutil.Decrypt(key, iv, nil); err == nil {
		t.Fatal("expected empty ciphertext to be rejected")
	}
	if _, err := cryptutil.Decrypt(key, iv, make([]byte, 17)); err == nil {
		t.Fatal("expected non-block-aligned ciphertext to be rejected")
	}
}

func TestRandomProducesRequestedLength(t *testing.T) {
	got, err := cryptutil.Random(16)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 16 {
		t.Fatalf("len = %d, want 16", len(got))
	}
}

func TestRandomDistinctAcrossCalls(t *testing.T) {
	const n = 64
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		b, err := cryptutil.Random(16)
		if err != nil {
			t.Fatal(err)
		}
		seen[string(b)] = struct{}{}
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct values out of %d draws", len(seen), n)
	}
}

func TestConstantTimeEqual(t *testing.T) {
	a := []byte{1, 2, 3}
	b := []byte{1, 2, 3}
	c := []byte{1, 2, 4}

	if !cryptutil.ConstantTimeEqual(a, b) {
		t.Fatal("expected equal slices to compare equal")
	}
	if cryptutil.ConstantTimeEqual(a, c) {
		t.Fatal("expected differing slices to compare unequal")
	}
	if cryptutil.ConstantTimeEqual(a, []byte{1, 2}) {
		t.Fatal("expected differing lengths to compare unequal")
	}
}
