package socket

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveSharedKey performs X25519 ECDH + HKDF-SHA256 to produce an
// AES-256-GCM cipher for end-to-end encrypting messages over a
// Handle.
func DeriveSharedKey(privateKey *ecdh.PrivateKey, peerPublicKeyB64 string) (cipher.AEAD, error) {
	peerPubBytes, err := base64.StdEncoding.DecodeString(peerPublicKeyB64)
	if err != nil {
		return nil, fmt.Errorf("socket: decode peer public key: %w", err)
	}
	peerPub, err := ecdh.X25519().NewPublicKey(peerPubBytes)
	if err != nil {
		return nil, fmt.Errorf("socket: parse peer public key: %w", err)
	}

	shared, err := privateKey.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("socket: ecdh: %w", err)
	}

	salt := make([]byte, 32)
	kdf := hkdf.New(sha256.New, shared, salt, []byte("webos-socket"))
	aesKey := make([]byte, 32)
	if _, err := io.ReadFull(kdf, aesKey); err != nil {
		return nil, fmt.Errorf("socket: hkdf: %w", err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("socket: aes: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptMessage encrypts plaintext with AES-256-GCM, returning
// base64(nonce || ciphertext || tag) suitable for a text WebSocket frame.
func EncryptMessage(gcm cipher.AEAD, plaintext []byte) (string, error) {
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptMessage reverses EncryptMessage.
func DecryptMessage(gcm cipher.AEAD, encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("socket: decode: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("socket: ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// GenerateKeyPair creates a fresh X25519 keypair for a socket's E2E
// handshake, returning the base64-encoded public key to exchange with
// the peer.
func GenerateKeyPair() (*ecdh.PrivateKey, string, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("socket: generate key: %w", err)
	}
	return priv, base64.StdEncoding.EncodeToString(priv.PublicKey().Bytes()), nil
}
