package xrpl

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// rippleAlphabet is the base58 alphabet used by XRPL addresses.
var rippleAlphabet = base58.NewAlphabet("rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz")

const (
	accountIDVersion = 0x00
	accountIDLen     = 20
	checksumLen      = 4
)

// Address validation errors.
var (
	ErrAddressEncoding = errors.New("address is not ripple base58")
	ErrAddressLength   = errors.New("address has wrong length")
	ErrAddressVersion  = errors.New("address is not a classic account address")
	ErrAddressChecksum = errors.New("address checksum mismatch")
)

// Key types reported by SigningKeyType.
const (
	KeyTypeEd25519   = "ed25519"
	KeyTypeSecp256k1 = "secp256k1"
)

// DecodeAddress returns the 20-byte account ID of a classic r-address.
func DecodeAddress(addr string) ([]byte, error) {
	raw, err := base58.DecodeAlphabet(addr, rippleAlphabet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAddressEncoding, err)
	}
	if len(raw) != 1+accountIDLen+checksumLen {
		return nil, ErrAddressLength
	}
	if raw[0] != accountIDVersion {
		return nil, ErrAddressVersion
	}
	payload, sum := raw[:1+accountIDLen], raw[1+accountIDLen:]
	if !bytes.Equal(checksum(payload), sum) {
		return nil, ErrAddressChecksum
	}
	return payload[1:], nil
}

// EncodeAddress renders a 20-byte account ID as a classic r-address.
func EncodeAddress(accountID []byte) (string, error) {
	if len(accountID) != accountIDLen {
		return "", ErrAddressLength
	}
	payload := make([]byte, 0, 1+accountIDLen+checksumLen)
	payload = append(payload, accountIDVersion)
	payload = append(payload, accountID...)
	payload = append(payload, checksum(payload)...)
	return base58.EncodeAlphabet(payload, rippleAlphabet), nil
}

// ValidAddress reports whether addr is a well-formed classic address.
func ValidAddress(addr string) bool {
	_, err := DecodeAddress(addr)
	return err == nil
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:checksumLen]
}

// SigningKeyType classifies a hex SigningPubKey. Ed25519 keys carry a 0xED
// prefix and must decode to a curve point; secp256k1 keys are compressed
// (0x02/0x03). Anything else, including the empty key of multi-signed
// transactions, yields "".
func SigningKeyType(pubKeyHex string) string {
	if pubKeyHex == "" {
		return ""
	}
	key, err := hex.DecodeString(strings.ToLower(pubKeyHex))
	if err != nil || len(key) != 33 {
		return ""
	}
	switch key[0] {
	case 0xED:
		if _, err := new(edwards25519.Point).SetBytes(key[1:]); err != nil {
			return ""
		}
		return KeyTypeEd25519
	case 0x02, 0x03:
		return KeyTypeSecp256k1
	}
	return ""
}
