package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
)

// DefaultKeyBits is the RSA modulus size used for generated keys.
const DefaultKeyBits = 2048

var (
	ErrNoPEMBlock    = errors.New("no PEM block found")
	ErrNotRSAKey     = errors.New("key is not an RSA private key")
	ErrKeyTooShort   = errors.New("RSA key must be at least 2048 bits")
	ErrEmptyKeyInput = errors.New("empty key material")
)

// KeyPair is the signing keypair. It is loaded once at startup and treated as
// read-only afterwards.
type KeyPair struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

// NewKeyPair wraps a private key and derives its key id.
func NewKeyPair(key *rsa.PrivateKey) (*KeyPair, error) {
	if key == nil {
		return nil, ErrEmptyKeyInput
	}
	if key.N.BitLen() < DefaultKeyBits {
		return nil, ErrKeyTooShort
	}

	return &KeyPair{
		KeyID:      Thumbprint(&key.PublicKey),
		PrivateKey: key,
		PublicKey:  &key.PublicKey,
	}, nil
}

// GenerateRSAKey generates a new RSA private key. It returns the key and any error that
// occurred during the generation process.
func GenerateRSAKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, DefaultKeyBits)
}

// GenerateKeyPair generates an ephemeral keypair. Tokens signed with it do not
// survive a restart.
func GenerateKeyPair() (*KeyPair, error) {
	key, err := GenerateRSAKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	return NewKeyPair(key)
}

// ParsePrivateKeyPEM parses a PKCS#1 or PKCS#8 encoded RSA private key.
func ParsePrivateKeyPEM(data []byte) (*KeyPair, error) {
	if len(data) == 0 {
		return nil, ErrEmptyKeyInput
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrNoPEMBlock
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return NewKeyPair(key)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrNotRSAKey
	}

	return NewKeyPair(key)
}

// LoadFromFile reads a PEM encoded private key from path.
func LoadFromFile(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
	}

	return ParsePrivateKeyPEM(data)
}

// EncodePrivateKeyPEM encodes key as a PKCS#8 PEM block.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodePublicKeyPEM encodes key as a PKIX PEM block.
func EncodePublicKeyPEM(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// Thumbprint returns the RFC 7638 JWK thumbprint of key, base64url encoded.
func Thumbprint(key *rsa.PublicKey) string {
	n := base64.RawURLEncoding.EncodeToString(key.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes())

	// Members in lexicographic order, no whitespace.
	canonical := fmt.Sprintf(`{"e":"%s","kty":"RSA","n":"%s"}`, e, n)
	sum := sha256.Sum256([]byte(canonical))

	return base64.RawURLEncoding.EncodeToString(sum[:])
}
