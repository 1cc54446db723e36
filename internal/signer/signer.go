// Package signer provides the signing credential used when rewriting
// commits. The rewrite loop only sees the Signer interface, so tests can
// substitute a generated in-memory key and the interactive passphrase prompt
// stays isolated from the pipeline logic.
package signer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// ErrNoPrivateKey is returned by Entity when the signer has no private key
// material, e.g. when signing is delegated to git/gpg.
var ErrNoPrivateKey = errors.New("signer: no private key material")

// PassphraseFunc supplies the passphrase for an encrypted private key. It is
// only called when the key is actually encrypted and may block on operator
// input.
type PassphraseFunc func() ([]byte, error)

type Signer interface {
	// KeyID returns the key selector passed to git commit -S<id> by the CLI
	// backend. Empty means git's configured default signing key.
	KeyID() string

	// Entity returns the decrypted OpenPGP key used for object-level signing
	// by the native backend. Returns ErrNoPrivateKey when unavailable.
	Entity() (*openpgp.Entity, error)

	// ArmoredPublicKey returns the armored public key used to verify
	// signatures, or "" when the signer cannot provide one.
	ArmoredPublicKey() (string, error)
}

// GPGConfig selects a key by id and leaves all key handling to git/gpg.
// Producing a signature through it may block on gpg's own passphrase prompt.
type GPGConfig struct {
	ID string
}

func (g GPGConfig) KeyID() string { return g.ID }

func (g GPGConfig) Entity() (*openpgp.Entity, error) { return nil, ErrNoPrivateKey }

func (g GPGConfig) ArmoredPublicKey() (string, error) { return "", nil }

// keySigner wraps a decrypted in-memory OpenPGP entity.
type keySigner struct {
	entity *openpgp.Entity
}

// FromEntity wraps an already decrypted entity. Used by tests and by
// LoadFile.
func FromEntity(entity *openpgp.Entity) Signer {
	return &keySigner{entity: entity}
}

// LoadFile reads an armored OpenPGP private key from path. When the key is
// encrypted, passphrase is invoked once and the result is used to decrypt the
// primary key and every signing-capable subkey.
func LoadFile(path string, passphrase PassphraseFunc) (Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse signing key %s: %w", path, err)
	}
	var entity *openpgp.Entity
	for _, e := range entities {
		if e.PrivateKey != nil {
			entity = e
			break
		}
	}
	if entity == nil {
		return nil, fmt.Errorf("signing key %s contains no private key", path)
	}
	if err := decryptEntity(entity, passphrase); err != nil {
		return nil, fmt.Errorf("unlock signing key %s: %w", path, err)
	}
	return &keySigner{entity: entity}, nil
}

func decryptEntity(entity *openpgp.Entity, passphrase PassphraseFunc) error {
	if !needsPassphrase(entity) {
		return nil
	}
	if passphrase == nil {
		return errors.New("key is encrypted and no passphrase source is configured")
	}
	pass, err := passphrase()
	if err != nil {
		return err
	}
	if entity.PrivateKey != nil && entity.PrivateKey.Encrypted {
		if err := entity.PrivateKey.Decrypt(pass); err != nil {
			return err
		}
	}
	for _, sub := range entity.Subkeys {
		if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
			if err := sub.PrivateKey.Decrypt(pass); err != nil {
				return err
			}
		}
	}
	return nil
}

func needsPassphrase(entity *openpgp.Entity) bool {
	if entity.PrivateKey != nil && entity.PrivateKey.Encrypted {
		return true
	}
	for _, sub := range entity.Subkeys {
		if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
			return true
		}
	}
	return false
}

func (k *keySigner) KeyID() string {
	if k.entity == nil || k.entity.PrimaryKey == nil {
		return ""
	}
	return k.entity.PrimaryKey.KeyIdString()
}

func (k *keySigner) Entity() (*openpgp.Entity, error) {
	if k.entity == nil {
		return nil, ErrNoPrivateKey
	}
	return k.entity, nil
}

func (k *keySigner) ArmoredPublicKey() (string, error) {
	if k.entity == nil {
		return "", ErrNoPrivateKey
	}
	var b strings.Builder
	w, err := armor.Encode(&b, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", err
	}
	if err := k.entity.Serialize(w); err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Identity returns the primary user id of the signing key, or "" when
// unknown. Used for log messages only.
func Identity(s Signer) string {
	entity, err := s.Entity()
	if err != nil || entity == nil {
		return ""
	}
	for _, id := range entity.Identities {
		return id.Name
	}
	return ""
}
