package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/hkdf"
)

// ErrAuthentication is returned for every signature, key or MAC failure.
// Callers must not distinguish between the causes on the wire.
var ErrAuthentication = errors.New("authentication failed")

const (
	// SessionKeySize is the length of the derived HMAC key
	SessionKeySize = 32

	ikmSize   = 32
	saltSize  = 16
	nonceSize = 16

	sessionInfoPrefix = "hearth-session-v1:"
)

// GenerateRandomBytes generates random bytes
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// GenerateRandomString generates a random string
func GenerateRandomString(n int) (string, error) {
	b, err := GenerateRandomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Nonce returns a fresh base64 nonce
func Nonce() (string, error) {
	b, err := GenerateRandomBytes(nonceSize)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// NowSeconds returns the current unix time in seconds
func NowSeconds() int64 {
	return time.Now().Unix()
}

// ========== ECDSA P-256 ==========

// GenerateSigningKey creates a new P-256 key pair
func GenerateSigningKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// ParsePrivateKeyPEM parses an "EC PRIVATE KEY" or PKCS#8 "PRIVATE KEY" block.
func ParsePrivateKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	switch block.Type {
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		ec, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is %T, want ECDSA", key)
		}
		return ec, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

// MarshalPrivateKeyPEM encodes key as an "EC PRIVATE KEY" block
func MarshalPrivateKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// MarshalPublicKeyPEM encodes pub as a PKIX "PUBLIC KEY" block
func MarshalPublicKeyPEM(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePublicKeyPEM parses a PKIX P-256 public key
func ParsePublicKeyPEM(pemStr string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("%w: malformed public key PEM", ErrAuthentication)
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	ec, ok := key.(*ecdsa.PublicKey)
	if !ok || ec.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: public key is not P-256", ErrAuthentication)
	}

	return ec, nil
}

// Sign signs SHA-256(data) and returns the base64 ASN.1 signature
func Sign(key *ecdsa.PrivateKey, data []byte) (string, error) {
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 ASN.1 signature against a PEM public key
func Verify(pubPEM string, data []byte, sig string) error {
	pub, err := ParsePublicKeyPEM(pubPEM)
	if err != nil {
		return err
	}
	return VerifyKey(pub, data, sig)
}

// VerifyKey checks a base64 ASN.1 signature against a parsed public key
func VerifyKey(pub *ecdsa.PublicKey, data []byte, sig string) error {
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("%w: signature encoding", ErrAuthentication)
	}

	digest := sha256.Sum256(data)
	if !ecdsa.VerifyASN1(pub, digest[:], raw) {
		return fmt.Errorf("%w: signature mismatch", ErrAuthentication)
	}

	return nil
}

// ========== Session key derivation ==========

// SessionKeyMaterial holds the HKDF inputs sent to the device and the key
// derived from them. Key never leaves the process.
type SessionKeyMaterial struct {
	IKM  []byte
	Salt []byte
	Info string
	Key  []byte
}

// DeriveSessionKey generates fresh IKM, salt and info and derives a session key
func DeriveSessionKey() (*SessionKeyMaterial, error) {
	ikm, err := GenerateRandomBytes(ikmSize)
	if err != nil {
		return nil, fmt.Errorf("generate ikm: %w", err)
	}

	salt, err := GenerateRandomBytes(saltSize)
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	id, err := GenerateRandomString(12)
	if err != nil {
		return nil, fmt.Errorf("generate info: %w", err)
	}
	info := sessionInfoPrefix + id

	key, err := HKDFSHA256(ikm, salt, []byte(info), SessionKeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: hkdf: %v", ErrAuthentication, err)
	}

	return &SessionKeyMaterial{IKM: ikm, Salt: salt, Info: info, Key: key}, nil
}

// HKDFSHA256 derives length bytes using HKDF-SHA256 (RFC 5869)
func HKDFSHA256(ikm, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ========== Frame MAC ==========

// CanonicalJSON returns the RFC 8785 (JCS) form of a JSON object with the
// "mac" member dropped. This is the byte string frame MACs are computed over.
func CanonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	delete(obj, "mac")

	stripped, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}

	canonical, err := jcs.Transform(stripped)
	if err != nil {
		return nil, fmt.Errorf("canonicalize frame: %w", err)
	}
	return canonical, nil
}

// MAC computes the base64 HMAC-SHA256 of the canonical form of frame
func MAC(key, frame []byte) (string, error) {
	canonical, err := CanonicalJSON(frame)
	if err != nil {
		return "", err
	}

	h := hmac.New(sha256.New, key)
	h.Write(canonical)
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// VerifyMAC recomputes the MAC of frame and compares it in constant time
func VerifyMAC(key, frame []byte, mac string) error {
	got, err := base64.StdEncoding.DecodeString(mac)
	if err != nil {
		return fmt.Errorf("%w: mac encoding", ErrAuthentication)
	}

	expected, err := MAC(key, frame)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	want, _ := base64.StdEncoding.DecodeString(expected)

	if !hmac.Equal(got, want) {
		return fmt.Errorf("%w: mac mismatch", ErrAuthentication)
	}

	return nil
}
