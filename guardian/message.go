package guardian

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/auth3labs/auth3guard/identity"
)

// NewNonce returns a fresh unpredictable request nonce: 32 random bytes,
// hex-encoded with a 0x prefix.
func NewNonce() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("guardian: nonce generation failed: %w", err)
	}
	return "0x" + hex.EncodeToString(b[:]), nil
}

// RecoveryDigest computes the canonical message a guardian signs to approve a
// recovery request: the keccak256 hash of the ABI-packed tuple
// (principal, newCommitment, nonce, openedAt). The encoding is deterministic,
// so every guardian signs byte-identical input.
func RecoveryDigest(req *identity.RecoveryRequest) (common.Hash, error) {
	addressTy, _ := abi.NewType("address", "", nil)
	bytesTy, _ := abi.NewType("bytes", "", nil)
	bytes32Ty, _ := abi.NewType("bytes32", "", nil)
	intTy, _ := abi.NewType("int256", "", nil)

	arguments := abi.Arguments{
		{Type: addressTy},
		{Type: bytesTy},
		{Type: bytes32Ty},
		{Type: intTy},
	}

	nonceBytes, err := hex.DecodeString(trimHexPrefix(req.Nonce))
	if err != nil || len(nonceBytes) != 32 {
		return common.Hash{}, fmt.Errorf("guardian: malformed nonce %q", req.Nonce)
	}
	var nonce [32]byte
	copy(nonce[:], nonceBytes)

	packed, err := arguments.Pack(
		common.HexToAddress(req.PrincipalID),
		req.NewCommitment,
		nonce,
		big.NewInt(req.OpenedAt.Unix()),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("guardian: packing recovery message: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}

// Sign produces a guardian's 65-byte secp256k1 approval signature over the
// request's canonical message. Used by guardian-side tooling and tests; the
// protocol itself only ever verifies.
func Sign(req *identity.RecoveryRequest, key *ecdsa.PrivateKey) ([]byte, error) {
	digest, err := RecoveryDigest(req)
	if err != nil {
		return nil, err
	}
	return crypto.Sign(digest.Bytes(), key)
}

// RecoverSigner returns the address that produced sig over the request's
// canonical message.
func RecoverSigner(req *identity.RecoveryRequest, sig []byte) (common.Address, error) {
	digest, err := RecoveryDigest(req)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("guardian: signature recovery failed: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
