// Package signer implements secp256k1 ECDSA signing of 32-byte digests,
// producing the 65-byte compact r‖s‖v form this system's verifiers (and
// any ledger-side signer-recovery operation) expect.
package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidDigest names a digest that is not exactly 32 bytes. Sign does
// not return it: its [32]byte parameter already fixes the length.
var ErrInvalidDigest = errors.New("signer: digest must be exactly 32 bytes")

// ErrKeyNotConfigured is returned by components that depend on a signer
// that was never constructed because no signing key was configured.
var ErrKeyNotConfigured = errors.New("signer: no signing key configured")

// Signer holds a process-wide secp256k1 signing key, loaded once at
// startup and read-only thereafter. Any number of goroutines may call Sign
// concurrently without additional synchronization.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    string
}

// New loads a signer from a hex-encoded secp256k1 private key scalar
// (optionally "0x"-prefixed). It fails if the key is absent or is not a
// valid scalar on the curve — per the spec, the signing component must
// refuse to start rather than silently operate unsigned.
func New(privateKeyHex string) (*Signer, error) {
	if privateKeyHex == "" {
		return nil, ErrKeyNotConfigured
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("signer: invalid signing key: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	return &Signer{privateKey: key, address: addr.Hex()}, nil
}

// Address returns the Ethereum-style address derived from the signer's
// public key, useful for operational identification (not used as an
// on-chain identity by this system).
func (s *Signer) Address() string {
	return s.address
}

// Sign produces the 65-byte compact signature r(32)‖s(32)‖v(1) over digest,
// with v = 27 + recovery and s forced into the canonical lower half of the
// curve order. digest must be exactly 32 bytes (the Keccak-256 output of a
// canonicalized payload).
func (s *Signer) Sign(digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("signer: sign failed: %w", err)
	}
	// crypto.Sign returns r(32)||s(32)||recovery(1) with recovery in {0,1}
	// and s already canonicalized to the lower half of the curve order by
	// go-ethereum's secp256k1 binding. Re-encode v per the ledger-compatible
	// 27/28 convention the spec requires.
	out := make([]byte, 65)
	copy(out, sig[:64])
	out[64] = sig[64] + 27
	return out, nil
}

// SignHex is a convenience wrapper returning the signature as
// "0x" + 130 lowercase hex characters.
func (s *Signer) SignHex(digest [32]byte) (string, error) {
	sig, err := s.Sign(digest)
	if err != nil {
		return "", err
	}
	return "0x" + crypto.Bytes2Hex(sig), nil
}
