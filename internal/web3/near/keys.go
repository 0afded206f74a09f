package near

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/hdevalence/ed25519consensus"

	xerrors "NFTMarket-Harness/internal/errors"
)

const (
	// KeyTypeED25519 is the only curve the harness signs with.
	KeyTypeED25519 uint8 = 0

	ed25519Prefix = "ed25519:"
)

// PublicKey is the borsh layout of a NEAR public key.
type PublicKey struct {
	KeyType uint8
	Data    [ed25519.PublicKeySize]byte
}

// ParsePublicKey accepts "ed25519:<base58>" or a bare base58 string.
func ParsePublicKey(raw string) (PublicKey, error) {
	data, err := decodeKeyString(raw)
	if err != nil {
		return PublicKey{}, err
	}
	if len(data) != ed25519.PublicKeySize {
		return PublicKey{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(data)))
	}
	var pk PublicKey
	copy(pk.Data[:], data)
	return pk, nil
}

func (k PublicKey) String() string {
	return ed25519Prefix + base58.Encode(k.Data[:])
}

// Verify checks sig over msg with the consensus verification rules.
func (k PublicKey) Verify(msg []byte, sig Signature) bool {
	if k.KeyType != KeyTypeED25519 || sig.KeyType != KeyTypeED25519 {
		return false
	}
	return ed25519consensus.Verify(ed25519.PublicKey(k.Data[:]), msg, sig.Data[:])
}

func (k PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *PublicKey) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParsePublicKey(raw)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Signature is the borsh layout of a NEAR signature.
type Signature struct {
	KeyType uint8
	Data    [ed25519.SignatureSize]byte
}

func (s Signature) String() string {
	return ed25519Prefix + base58.Encode(s.Data[:])
}

// KeyPair holds an ed25519 signing key.
type KeyPair struct {
	public  PublicKey
	private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh random key.
func GenerateKeyPair() (*KeyPair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return newKeyPair(priv), nil
}

// KeyPairFromSeed derives the key for a 32 byte seed.
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed)))
	}
	return newKeyPair(ed25519.NewKeyFromSeed(seed)), nil
}

// ParseKeyPair reads a secret in the near-cli format. Both the 64 byte
// seed+public form and a bare 32 byte seed are accepted.
func ParseKeyPair(secret string) (*KeyPair, error) {
	data, err := decodeKeyString(secret)
	if err != nil {
		return nil, err
	}
	switch len(data) {
	case ed25519.PrivateKeySize:
		kp := newKeyPair(ed25519.NewKeyFromSeed(data[:ed25519.SeedSize]))
		if string(kp.public.Data[:]) != string(data[ed25519.SeedSize:]) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "secret key does not match its embedded public key")
		}
		return kp, nil
	case ed25519.SeedSize:
		return KeyPairFromSeed(data)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("secret key has unexpected length %d", len(data)))
	}
}

func newKeyPair(priv ed25519.PrivateKey) *KeyPair {
	kp := &KeyPair{private: priv}
	copy(kp.public.Data[:], priv.Public().(ed25519.PublicKey))
	return kp
}

// PublicKey returns the public half.
func (kp *KeyPair) PublicKey() PublicKey { return kp.public }

// Sign signs msg. NEAR transactions are signed over their sha256 hash.
func (kp *KeyPair) Sign(msg []byte) Signature {
	var sig Signature
	copy(sig.Data[:], ed25519.Sign(kp.private, msg))
	return sig
}

// String renders the secret in the format near-cli stores on disk.
func (kp *KeyPair) String() string {
	return ed25519Prefix + base58.Encode(kp.private)
}

func decodeKeyString(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if idx := strings.IndexByte(raw, ':'); idx >= 0 {
		if !strings.EqualFold(raw[:idx], "ed25519") {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unsupported key type %q", raw[:idx]))
		}
		raw = raw[idx+1:]
	}
	if raw == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "empty key")
	}
	data := base58.Decode(raw)
	if len(data) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "key is not valid base58")
	}
	return data, nil
}
