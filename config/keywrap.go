// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/luxfi/geth/crypto"
)

// Encrypted keys are stored as "enc:<hex nonce||ciphertext>" and opened
// with a passphrase-derived AES-GCM key. Plain hex keys are accepted as
// is outside test fixtures.
const encPrefix = "enc:"

// ErrBadKeyWrapper is returned for malformed encrypted entries.
var ErrBadKeyWrapper = errors.New("malformed encrypted key")

func gcmFor(passphrase string) (cipher.AEAD, error) {
	derived := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(derived[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptKey wraps a hex private key under the passphrase.
func EncryptKey(hexKey, passphrase string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return "", err
	}
	gcm, err := gcmFor(passphrase)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, raw, nil)
	return encPrefix + hex.EncodeToString(sealed), nil
}

// DecodeKey opens a signer entry: plain hex, or an encrypted wrapper
// when the passphrase is set.
func DecodeKey(entry, passphrase string) (*ecdsa.PrivateKey, error) {
	if !strings.HasPrefix(entry, encPrefix) {
		return crypto.HexToECDSA(strings.TrimPrefix(entry, "0x"))
	}
	sealed, err := hex.DecodeString(strings.TrimPrefix(entry, encPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKeyWrapper, err)
	}
	gcm, err := gcmFor(passphrase)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, ErrBadKeyWrapper
	}
	raw, err := gcm.Open(nil, sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKeyWrapper, err)
	}
	return crypto.ToECDSA(raw)
}
