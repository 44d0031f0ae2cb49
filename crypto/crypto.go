// Package crypto is the default signature collaborator. secp256k1 uses the
// decred implementation; ed25519 uses the standard library.
package crypto

import (
	"crypto/ed25519"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	contractvm "github.com/wippyai/contract-vm"
)

// Input sizes accepted by the verifiers.
const (
	MessageHashSize = 32
	// ECDSASignatureSize is r || s without a recovery byte.
	ECDSASignatureSize   = 64
	CompressedPubkeySize = 33
	// UncompressedPubkeySize includes the 0x04 prefix.
	UncompressedPubkeySize = 65
	EdSignatureSize        = ed25519.SignatureSize
	EdPubkeySize           = ed25519.PublicKeySize
	// MaxEdMessageSize bounds messages passed to Ed25519Verify.
	MaxEdMessageSize = 128 * 1024
)

// Default implements contractvm.Crypto. Malformed input is reported as a
// contractvm.UserError so the contract sees an error code.
type Default struct{}

var _ contractvm.Crypto = Default{}

func (Default) Secp256k1Verify(hash, signature, pubkey []byte) (bool, error) {
	if len(hash) != MessageHashSize {
		return false, contractvm.NewUserError(fmt.Sprintf("message hash must be %d bytes, got %d", MessageHashSize, len(hash)))
	}
	r, s, err := parseRS(signature)
	if err != nil {
		return false, err
	}
	if len(pubkey) != CompressedPubkeySize && len(pubkey) != UncompressedPubkeySize {
		return false, contractvm.NewUserError(fmt.Sprintf("public key must be %d or %d bytes, got %d",
			CompressedPubkeySize, UncompressedPubkeySize, len(pubkey)))
	}
	pub, err := secp256k1.ParsePubKey(pubkey)
	if err != nil {
		return false, contractvm.NewUserError("invalid public key: " + err.Error())
	}
	// Only low-s signatures are canonical.
	if s.IsOverHalfOrder() {
		return false, nil
	}
	return ecdsa.NewSignature(&r, &s).Verify(hash, pub), nil
}

func (Default) Secp256k1RecoverPubkey(hash, signature []byte, recoveryParam byte) ([]byte, error) {
	if len(hash) != MessageHashSize {
		return nil, contractvm.NewUserError(fmt.Sprintf("message hash must be %d bytes, got %d", MessageHashSize, len(hash)))
	}
	if len(signature) != ECDSASignatureSize {
		return nil, contractvm.NewUserError(fmt.Sprintf("signature must be %d bytes, got %d", ECDSASignatureSize, len(signature)))
	}
	if recoveryParam > 1 {
		return nil, contractvm.NewUserError(fmt.Sprintf("recovery param must be 0 or 1, got %d", recoveryParam))
	}
	compact := make([]byte, 0, 1+ECDSASignatureSize)
	compact = append(compact, 27+recoveryParam)
	compact = append(compact, signature...)
	pub, _, err := ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return nil, contractvm.NewUserError("recover public key: " + err.Error())
	}
	return pub.SerializeUncompressed(), nil
}

func (Default) Ed25519Verify(message, signature, pubkey []byte) (bool, error) {
	if len(message) > MaxEdMessageSize {
		return false, contractvm.NewUserError(fmt.Sprintf("message exceeds %d bytes", MaxEdMessageSize))
	}
	if len(signature) != EdSignatureSize {
		return false, contractvm.NewUserError(fmt.Sprintf("signature must be %d bytes, got %d", EdSignatureSize, len(signature)))
	}
	if len(pubkey) != EdPubkeySize {
		return false, contractvm.NewUserError(fmt.Sprintf("public key must be %d bytes, got %d", EdPubkeySize, len(pubkey)))
	}
	return ed25519.Verify(ed25519.PublicKey(pubkey), message, signature), nil
}

func parseRS(signature []byte) (r, s secp256k1.ModNScalar, err error) {
	if len(signature) != ECDSASignatureSize {
		return r, s, contractvm.NewUserError(fmt.Sprintf("signature must be %d bytes, got %d", ECDSASignatureSize, len(signature)))
	}
	if overflow := r.SetByteSlice(signature[:32]); overflow || r.IsZero() {
		return r, s, contractvm.NewUserError("signature r is out of range")
	}
	if overflow := s.SetByteSlice(signature[32:]); overflow || s.IsZero() {
		return r, s, contractvm.NewUserError("signature s is out of range")
	}
	return r, s, nil
}
