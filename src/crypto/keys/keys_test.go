package keys

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mosaicnetworks/dagger/src/crypto"
)

func TestSimpleKeyfile(t *testing.T) {
	dir := t.TempDir()

	simpleKeyfile := NewSimpleKeyfile(filepath.Join(dir, "priv_key"))

	// Try a read, should get nothing
	key, err := simpleKeyfile.ReadKey()
	if err == nil {
		t.Fatalf("ReadKey should generate an error")
	}
	if key != nil {
		t.Fatalf("key is not nil")
	}

	key, _ = GenerateECDSAKey()

	if err := simpleKeyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	nKey, err := simpleKeyfile.ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if nKey.D.Cmp(key.D) != 0 {
		t.Fatalf("Keys do not match")
	}

	if !bytes.Equal(FromPublicKey(&nKey.PublicKey), FromPublicKey(&key.PublicKey)) {
		t.Fatalf("Public keys do not match")
	}
}

func TestFilePermissions(t *testing.T) {
	dir := t.TempDir()

	key, _ := GenerateECDSAKey()
	rawKey := []byte(PrivateKeyHex(key))

	keyPath := filepath.Join(dir, "priv_key")
	if err := os.WriteFile(keyPath, rawKey, 0600); err != nil {
		t.Fatal(err)
	}

	shouldErr := []os.FileMode{
		0777, 0766, 0744,
		0677, 0666, 0644,
		0477, 0466, 0444,
	}

	for _, fm := range shouldErr {
		if err := os.Chmod(keyPath, fm); err != nil {
			t.Fatal(err)
		}

		if _, err := NewSimpleKeyfile(keyPath).ReadKey(); err == nil {
			t.Fatalf("%o || keyfile should return permissions error", fm)
		}
	}

	shouldNotErr := []os.FileMode{
		0700, 0600,
	}

	for _, fm := range shouldNotErr {
		if err := os.Chmod(keyPath, fm); err != nil {
			t.Fatal(err)
		}

		if _, err := NewSimpleKeyfile(keyPath).ReadKey(); err != nil {
			t.Fatalf("%o || keyfile should not return error. Got %v", fm, err)
		}
	}
}

func TestDumpParsePrivateKey(t *testing.T) {
	key, _ := GenerateECDSAKey()

	dump := DumpPrivateKey(key)
	if len(dump) != PrivateKeySize {
		t.Fatalf("dump should be %d bytes, not %d", PrivateKeySize, len(dump))
	}

	parsed, err := ParsePrivateKey(dump)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(FromPublicKey(&parsed.PublicKey), FromPublicKey(&key.PublicKey)) {
		t.Fatalf("parsed key should derive the same public key")
	}

	if _, err := ParsePrivateKey(make([]byte, PrivateKeySize)); err == nil {
		t.Fatalf("zero key should be rejected")
	}
	if _, err := ParsePrivateKey(dump[:10]); err == nil {
		t.Fatalf("short key should be rejected")
	}
}

func TestSignVerify(t *testing.T) {
	privKey, _ := GenerateECDSAKey()
	pub := FromPublicKey(&privKey.PublicKey)

	if len(pub) != PublicKeySize {
		t.Fatalf("public key should be %d bytes, not %d", PublicKeySize, len(pub))
	}

	digest := crypto.Hash([]byte("J'aime mieux forger mon ame que la meubler"))

	sig, err := Sign(privKey, digest[:])
	if err != nil {
		t.Fatal(err)
	}

	if len(sig) != SignatureSize {
		t.Fatalf("signature should be %d bytes, not %d", SignatureSize, len(sig))
	}

	// deterministic
	sig2, _ := Sign(privKey, digest[:])
	if !bytes.Equal(sig, sig2) {
		t.Fatalf("signatures of the same message should be identical")
	}

	ok, err := Verify(pub, digest[:], sig)
	if err != nil || !ok {
		t.Fatalf("signature should verify. ok=%v err=%v", ok, err)
	}

	other := crypto.Hash([]byte("other"))
	ok, err = Verify(pub, other[:], sig)
	if err != nil {
		t.Fatalf("mismatch should not be an error: %v", err)
	}
	if ok {
		t.Fatalf("signature should not verify a different message")
	}

	otherKey, _ := GenerateECDSAKey()
	ok, err = Verify(FromPublicKey(&otherKey.PublicKey), digest[:], sig)
	if err != nil || ok {
		t.Fatalf("signature should not verify under another key. ok=%v err=%v", ok, err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	privKey, _ := GenerateECDSAKey()
	pub := FromPublicKey(&privKey.PublicKey)
	digest := crypto.Hash([]byte("msg"))
	sig, _ := Sign(privKey, digest[:])

	cases := []struct {
		name string
		pub  []byte
		sig  []byte
	}{
		{"short signature", pub, sig[:63]},
		{"long signature", pub, append(append([]byte{}, sig...), 0)},
		{"zero signature", pub, make([]byte, SignatureSize)},
		{"empty key", nil, sig},
		{"short key", pub[:20], sig},
		{"not a point", append([]byte{0x02}, bytes.Repeat([]byte{0xff}, 32)...), sig},
	}

	for _, c := range cases {
		ok, err := Verify(c.pub, digest[:], c.sig)
		if ok {
			t.Fatalf("%s: should not verify", c.name)
		}
		if !IsCryptoError(err) {
			t.Fatalf("%s: should return a CryptoError, got %v", c.name, err)
		}
	}
}

func TestSignatureEncoding(t *testing.T) {
	privKey, _ := GenerateECDSAKey()
	digest := crypto.Hash([]byte("msg"))

	sig, _ := Sign(privKey, digest[:])

	r, s, err := DecodeSignature(sig)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(EncodeSignature(r, s), sig) {
		t.Fatalf("re-encoded signature differs")
	}
}
