package solana

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ErrSignerNotRequired is returned when the transaction does not require the
// keypair's signature.
var ErrSignerNotRequired = errors.New("keypair is not a required signer")

// Keypair is an ed25519 trading wallet.
type Keypair struct {
	priv ed25519.PrivateKey
}

// KeypairFromBase58 decodes a base58 secret key. Both the 64-byte
// secret+public form and the 32-byte seed form are accepted.
func KeypairFromBase58(secret string) (*Keypair, error) {
	raw, err := base58.Decode(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}

	switch len(raw) {
	case ed25519.SeedSize:
		return &Keypair{priv: ed25519.NewKeyFromSeed(raw)}, nil
	case ed25519.PrivateKeySize:
		priv := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if !priv.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(raw[ed25519.SeedSize:])) {
			return nil, errors.New("secret key: public half does not match seed")
		}
		return &Keypair{priv: priv}, nil
	default:
		return nil, fmt.Errorf("secret key: unexpected length %d", len(raw))
	}
}

// PublicKey returns the raw public key.
func (k *Keypair) PublicKey() ed25519.PublicKey {
	return k.priv.Public().(ed25519.PublicKey)
}

// Address returns the base58 wallet address.
func (k *Keypair) Address() string {
	return base58.Encode(k.PublicKey())
}

// Sign signs msg.
func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

// SignTransaction signs a base64 serialized (legacy or v0) transaction and
// returns it base64 encoded with the keypair's signature slot filled.
func (k *Keypair) SignTransaction(unsignedTx string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(unsignedTx)
	if err != nil {
		return "", fmt.Errorf("decode transaction: %w", err)
	}

	numSigs, n, err := decodeShortVec(raw)
	if err != nil {
		return "", fmt.Errorf("signature count: %w", err)
	}
	sigStart := n
	msgStart := sigStart + numSigs*ed25519.SignatureSize
	if msgStart > len(raw) {
		return "", errors.New("transaction truncated in signatures")
	}
	msg := raw[msgStart:]

	keys, required, err := messageSigners(msg)
	if err != nil {
		return "", err
	}
	if required > numSigs {
		return "", fmt.Errorf("transaction has %d signature slots, needs %d", numSigs, required)
	}

	pub := k.PublicKey()
	idx := -1
	for i := 0; i < required && i < len(keys); i++ {
		if pub.Equal(ed25519.PublicKey(keys[i])) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", ErrSignerNotRequired
	}

	out := make([]byte, len(raw))
	copy(out, raw)
	copy(out[sigStart+idx*ed25519.SignatureSize:], k.Sign(msg))
	return base64.StdEncoding.EncodeToString(out), nil
}

// messageSigners returns the static account keys of a message and the number
// of required signatures.
func messageSigners(msg []byte) ([][]byte, int, error) {
	off := 0
	if len(msg) > 0 && msg[0]&0x80 != 0 {
		off = 1 // versioned message prefix
	}
	if len(msg) < off+3 {
		return nil, 0, errors.New("message header truncated")
	}
	required := int(msg[off])
	off += 3

	numKeys, n, err := decodeShortVec(msg[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("account key count: %w", err)
	}
	off += n
	if len(msg) < off+numKeys*ed25519.PublicKeySize {
		return nil, 0, errors.New("message truncated in account keys")
	}

	keys := make([][]byte, numKeys)
	for i := range keys {
		keys[i] = msg[off+i*ed25519.PublicKeySize : off+(i+1)*ed25519.PublicKeySize]
	}
	return keys, required, nil
}

// decodeShortVec decodes a compact-u16 length prefix.
func decodeShortVec(b []byte) (int, int, error) {
	val := 0
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, errors.New("short vec truncated")
		}
		val |= int(b[i]&0x7f) << (7 * i)
		if b[i]&0x80 == 0 {
			return val, i + 1, nil
		}
	}
	return 0, 0, errors.New("short vec too long")
}

// IsValidAddress reports whether s is a base58 encoded 32-byte public key.
func IsValidAddress(s string) bool {
	raw, err := base58.Decode(s)
	return err == nil && len(raw) == ed25519.PublicKeySize
}

// IsOnCurve reports whether the address is a valid ed25519 point. Wallets
// are on the curve; program derived addresses are not.
func IsOnCurve(address string) bool {
	raw, err := base58.Decode(address)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(raw)
	return err == nil
}
