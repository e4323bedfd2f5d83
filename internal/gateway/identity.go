package gateway

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hearth-security/hearth-server/internal/config"
	"github.com/hearth-security/hearth-server/internal/protocol"
	"github.com/hearth-security/hearth-server/pkg/crypto"
)

// Identity is the static key the gateway signs handshake acks with
type Identity struct {
	key          *ecdsa.PrivateKey
	publicKeyPEM string
	certChainPEM string
}

// NewIdentity wraps a signing key and its optional certificate chain
func NewIdentity(key *ecdsa.PrivateKey, certChainPEM string) (*Identity, error) {
	pub, err := crypto.MarshalPublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	return &Identity{
		key:          key,
		publicKeyPEM: pub,
		certChainPEM: certChainPEM,
	}, nil
}

// LoadIdentity reads the signing key and certificate chain named in cfg.
// Without a key file an ephemeral key is generated.
func LoadIdentity(cfg *config.GatewayConfig) (*Identity, error) {
	var key *ecdsa.PrivateKey
	if cfg.SigningKeyFile == "" {
		var err error
		key, err = crypto.GenerateSigningKey()
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		log.Warn().Msg("No signing key configured, using an ephemeral key; devices will not trust it across restarts")
	} else {
		data, err := os.ReadFile(cfg.SigningKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		key, err = crypto.ParsePrivateKeyPEM(data)
		if err != nil {
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
	}

	var chain string
	if cfg.CertChainFile != "" {
		data, err := os.ReadFile(cfg.CertChainFile)
		if err != nil {
			return nil, fmt.Errorf("read certificate chain: %w", err)
		}
		chain = string(data)
	}

	return NewIdentity(key, chain)
}

// PublicKeyPEM returns the PEM of the signing key
func (id *Identity) PublicKeyPEM() string {
	return id.publicKeyPEM
}

// SignAck signs a hello_ack or session_ack in place
func (id *Identity) SignAck(ack *protocol.HandshakeAck) error {
	sig, err := crypto.Sign(id.key, ack.SignedData())
	if err != nil {
		return fmt.Errorf("sign %s: %w", ack.Type, err)
	}
	ack.Sig = sig
	return nil
}

// Bootstrap builds the signed bootstrap document
func (id *Identity) Bootstrap(now time.Time) (*protocol.Bootstrap, error) {
	b := &protocol.Bootstrap{
		TS:            now.Unix(),
		CertChainPEM:  id.certChainPEM,
		PubSignKeyPEM: id.publicKeyPEM,
	}

	sig, err := crypto.Sign(id.key, b.SignedData())
	if err != nil {
		return nil, fmt.Errorf("sign bootstrap: %w", err)
	}
	b.Sig = sig
	return b, nil
}
