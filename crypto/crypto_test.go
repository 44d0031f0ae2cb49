package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	stderrors "errors"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	contractvm "github.com/wippyai/contract-vm"
)

func signSecp(t *testing.T, key *secp256k1.PrivateKey, hash []byte) (rs []byte, recid byte) {
	t.Helper()
	compact := ecdsa.SignCompact(key, hash, false)
	return compact[1:], compact[0] - 27
}

func TestSecp256k1Verify(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	hash := sha256.Sum256([]byte("hello"))
	sig, _ := signSecp(t, key, hash[:])
	pub := key.PubKey()

	var c Default
	for name, pk := range map[string][]byte{
		"compressed":   pub.SerializeCompressed(),
		"uncompressed": pub.SerializeUncompressed(),
	} {
		ok, err := c.Secp256k1Verify(hash[:], sig, pk)
		if err != nil || !ok {
			t.Errorf("%s: Verify = %v, %v", name, ok, err)
		}
	}

	other := sha256.Sum256([]byte("other"))
	if ok, _ := c.Secp256k1Verify(other[:], sig, pub.SerializeCompressed()); ok {
		t.Error("signature verified for a different hash")
	}
}

func TestSecp256k1Verify_MalformedInput(t *testing.T) {
	key, _ := secp256k1.GeneratePrivateKey()
	hash := sha256.Sum256([]byte("hello"))
	sig, _ := signSecp(t, key, hash[:])
	pub := key.PubKey().SerializeCompressed()

	tests := []struct {
		name           string
		hash, sig, pub []byte
	}{
		{"short hash", hash[:31], sig, pub},
		{"short signature", hash[:], sig[:63], pub},
		{"zero r", hash[:], append(make([]byte, 32), sig[32:]...), pub},
		{"bad pubkey length", hash[:], sig, pub[:20]},
		{"bad pubkey", hash[:], sig, append([]byte{0x07}, pub[1:]...)},
	}
	var c Default
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Secp256k1Verify(tc.hash, tc.sig, tc.pub)
			var ue *contractvm.UserError
			if !stderrors.As(err, &ue) {
				t.Errorf("err = %v, want UserError", err)
			}
		})
	}
}

func TestSecp256k1RecoverPubkey(t *testing.T) {
	key, _ := secp256k1.GeneratePrivateKey()
	hash := sha256.Sum256([]byte("recover me"))
	sig, recid := signSecp(t, key, hash[:])

	var c Default
	got, err := c.Secp256k1RecoverPubkey(hash[:], sig, recid)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !bytes.Equal(got, key.PubKey().SerializeUncompressed()) {
		t.Error("recovered key differs")
	}

	if _, err := c.Secp256k1RecoverPubkey(hash[:], sig, 2); err == nil {
		t.Error("expected error for recovery param 2")
	}
}

func TestEd25519Verify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("message")
	sig := ed25519.Sign(priv, msg)

	var c Default
	if ok, err := c.Ed25519Verify(msg, sig, pub); err != nil || !ok {
		t.Errorf("Verify = %v, %v", ok, err)
	}
	if ok, _ := c.Ed25519Verify([]byte("tampered"), sig, pub); ok {
		t.Error("tampered message verified")
	}
	if _, err := c.Ed25519Verify(msg, sig[:10], pub); err == nil {
		t.Error("expected error for short signature")
	}
}
