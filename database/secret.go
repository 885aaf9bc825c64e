package database

import (
	"crypto/rand"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"

	"github.com/FeatheredSystems/TytoDB/tytoerr"
)

const (
	secretFileName      = ".secret"
	secretLength        = 32
	walIntegrityKeyLen  = 32
)

var walIntegrityInfo = []byte("tytodb-wal-integrity")

// loadOrCreateSecret reads the database's shared secret from dir/.secret,
// generating and persisting a fresh random one on first run.
func loadOrCreateSecret(dir string) ([]byte, error) {
	path := filepath.Join(dir, secretFileName)
	raw, err := os.ReadFile(path)
	if err == nil {
		if len(raw) != secretLength {
			return nil, tytoerr.New(tytoerr.BadHeader, "database.loadOrCreateSecret",
				"existing .secret is not 32 bytes")
		}
		return raw, nil
	}
	if !os.IsNotExist(err) {
		return nil, tytoerr.Wrap(tytoerr.Io, "database.loadOrCreateSecret", err)
	}
	secret := make([]byte, secretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, tytoerr.Wrap(tytoerr.Io, "database.loadOrCreateSecret", err)
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, tytoerr.Wrap(tytoerr.Io, "database.loadOrCreateSecret", err)
	}
	return secret, nil
}

// deriveWALIntegrityKey derives the per-process key used to HMAC-tag every
// container's WAL, via HKDF-SHA256 over the shared secret (spec's ambient
// durability hardening: detect a tampered or silently corrupted write-ahead
// log before replaying it into staging).
func deriveWALIntegrityKey(secret []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, walIntegrityInfo)
	key := make([]byte, walIntegrityKeyLen)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, tytoerr.Wrap(tytoerr.Io, "database.deriveWALIntegrityKey", err)
	}
	return key, nil
}
