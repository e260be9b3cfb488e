// Package identity loads or generates the validator's node keypair, stored
// on disk as a raw 64-byte public-key/private-key-seed pair. Ed25519 key
// generation is treated as an external cryptographic primitive: this
// package uses the standard library's crypto/ed25519 directly rather than
// a third-party dependency, since no example in the retrieval pool supplies
// an Ed25519 implementation of its own.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "identity")

// keypairFileSize is the raw on-disk layout: 32-byte public key followed by
// 32-byte private key seed.
const keypairFileSize = 64

// Keypair is a validator's node identity.
type Keypair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// NodeID derives the "node_" + 16 hex characters identifier used in the
// cluster HANDSHAKE payload, from the first 8 bytes of the public key.
func (k Keypair) NodeID() string {
	return fmt.Sprintf("node_%x", k.PublicKey[:8])
}

// LoadOrGenerate reads a 64-byte keypair from path. A missing file, or one
// whose size does not match exactly 64 bytes, triggers regeneration and a
// fresh save to path.
func LoadOrGenerate(path string) (Keypair, error) {
	data, err := os.ReadFile(path)
	if err == nil && len(data) == keypairFileSize {
		kp := Keypair{
			PublicKey:  append(ed25519.PublicKey(nil), data[:32]...),
			PrivateKey: ed25519.NewKeyFromSeed(data[32:64]),
		}
		return kp, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return Keypair{}, fmt.Errorf("identity: read keypair file: %w", err)
	}
	if err == nil {
		log.WithField("path", path).Warn("keypair file size mismatch, regenerating")
	}

	kp, genErr := Generate()
	if genErr != nil {
		return Keypair{}, genErr
	}
	if saveErr := kp.Save(path); saveErr != nil {
		return Keypair{}, saveErr
	}
	log.WithField("path", path).Info("generated new validator identity")
	return kp, nil
}

// Generate creates a fresh Ed25519 keypair.
func Generate() (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("identity: generate keypair: %w", err)
	}
	return Keypair{PublicKey: pub, PrivateKey: priv}, nil
}

// Save writes the keypair to path as 32 bytes of public key followed by 32
// bytes of private-key seed.
func (k Keypair) Save(path string) error {
	buf := make([]byte, keypairFileSize)
	copy(buf[:32], k.PublicKey)
	copy(buf[32:64], k.PrivateKey.Seed())
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return fmt.Errorf("identity: write keypair file: %w", err)
	}
	return nil
}
