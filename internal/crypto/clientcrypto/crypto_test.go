package clientcrypto

import (
	"bytes"
	"crypto/subtle"
	"testing"
)

func TestRand_LengthUniq(t *testing.T) {
	t.Parallel()
	const n = 48
	a, err := Rand(n)
	if err != nil {
		t.Fatalf("Rand: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, _ := Rand(n)
	if bytes.Equal(a, b) {
		t.Fatalf("Rand produced equal slices")
	}
}

func TestDeriveMasterKey_DeterministicAndSaltDependent(t *testing.T) {
	t.Parallel()
	pw := []byte("secret-pass")
	k1 := DeriveMasterKey(pw, []byte("salt-1"))
	k2 := DeriveMasterKey(pw, []byte("salt-1"))
	if subtle.ConstantTimeCompare(k1, k2) != 1 {
		t.Fatalf("DeriveMasterKey not deterministic")
	}
	if subtle.ConstantTimeCompare(k1, DeriveMasterKey(pw, []byte("salt-2"))) != 0 {
		t.Fatalf("DeriveMasterKey must change with salt")
	}
}

func TestDeriveKey_PerPurpose(t *testing.T) {
	t.Parallel()
	master, _ := Rand(KeyLen)
	a, err := DeriveKey(master, "session")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	b, _ := DeriveKey(master, "other")
	a2, _ := DeriveKey(master, "session")
	if len(a) != KeyLen {
		t.Fatalf("len=%d", len(a))
	}
	if bytes.Equal(a, b) {
		t.Fatalf("purposes must yield different keys")
	}
	if !bytes.Equal(a, a2) {
		t.Fatalf("DeriveKey not deterministic")
	}
}

func TestSealOpen(t *testing.T) {
	t.Parallel()
	key, _ := Rand(KeyLen)
	aad := []byte("ctx")
	pt := []byte(`{"token":"abc"}`)

	sealed, err := Seal(key, pt, aad)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	out, err := Open(key, sealed, aad)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(out, pt) {
		t.Fatalf("roundtrip mismatch")
	}

	if _, err := Open(key, sealed, []byte("other")); err == nil {
		t.Fatalf("Open with wrong aad must fail")
	}
	other, _ := Rand(KeyLen)
	if _, err := Open(other, sealed, aad); err == nil {
		t.Fatalf("Open with wrong key must fail")
	}
	if _, err := Open(key, []byte{1, 2}, aad); err == nil {
		t.Fatalf("Open of short input must fail")
	}
}
