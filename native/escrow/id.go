package escrow

import (
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// identifierModulus bounds derived identifiers to sixteen decimal digits.
var identifierModulus = uint256.NewInt(10_000_000_000_000_000)

// DeriveIdentifier computes the agreement identifier for the supplied parties.
// The inputs are tightly packed, hashed with keccak256 and the digest, read as
// an unsigned 256-bit integer, is reduced modulo 10^16. Identical inputs always
// yield the same identifier so both parties can agree on it before the
// agreement is opened; choosing a secret that avoids collisions is up to them.
func DeriveIdentifier(seller, buyer, assetRegistry [20]byte, secret [32]byte) [32]byte {
	digest := ethcrypto.Keccak256(seller[:], buyer[:], assetRegistry[:], secret[:])
	value := new(uint256.Int).SetBytes(digest)
	value.Mod(value, identifierModulus)
	return value.Bytes32()
}

// SecretFromText derives a 32-byte secret from free text, matching the
// keccak256(text) convention used by off-chain tooling.
func SecretFromText(text string) [32]byte {
	return ethcrypto.Keccak256Hash([]byte(text))
}

// FormatID renders an identifier as a decimal string.
func FormatID(id [32]byte) string {
	value := new(uint256.Int).SetBytes32(id[:])
	return value.Dec()
}

// ParseID accepts a decimal identifier or a 0x-prefixed hex value of at most
// 32 bytes.
func ParseID(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, fmt.Errorf("escrow: identifier required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		cleaned := trimmed[2:]
		if len(cleaned)%2 == 1 {
			cleaned = "0" + cleaned
		}
		decoded, err := hex.DecodeString(cleaned)
		if err != nil {
			return out, fmt.Errorf("escrow: invalid hex identifier: %w", err)
		}
		if len(decoded) > len(out) {
			return out, fmt.Errorf("escrow: identifier exceeds 32 bytes")
		}
		copy(out[len(out)-len(decoded):], decoded)
		return out, nil
	}
	parsed, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return out, fmt.Errorf("escrow: invalid identifier %q: %w", trimmed, err)
	}
	return parsed.Bytes32(), nil
}

// ParseSecret decodes a 0x-prefixed 32-byte secret. Any other input is treated
// as free text and hashed with SecretFromText.
func ParseSecret(value string) ([32]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [32]byte{}, fmt.Errorf("escrow: secret required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		decoded, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return [32]byte{}, fmt.Errorf("escrow: invalid hex secret: %w", err)
		}
		if len(decoded) != 32 {
			return [32]byte{}, fmt.Errorf("escrow: secret must be 32 bytes (got %d)", len(decoded))
		}
		var out [32]byte
		copy(out[:], decoded)
		return out, nil
	}
	return SecretFromText(trimmed), nil
}
