package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// 密文前缀，用来区分加密值与历史遗留的明文值
const prefix = "sealed:"

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32
)

var ErrDecrypt = errors.New("secret: wrong passphrase or corrupted value")

// Box 基于口令的对称加密，用于保存本地令牌
type Box struct {
	passphrase []byte
	// scrypt 参数，测试中可调小
	n, r, p int
}

func New(passphrase string) *Box {
	return &Box{passphrase: []byte(passphrase), n: 1 << 15, r: 8, p: 1}
}

// Enabled 未配置口令时 Seal/Open 原样透传
func (b *Box) Enabled() bool { return b != nil && len(b.passphrase) > 0 }

func (b *Box) deriveKey(salt []byte) (*[keySize]byte, error) {
	k, err := scrypt.Key(b.passphrase, salt, b.n, b.r, b.p, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	var key [keySize]byte
	copy(key[:], k)
	return &key, nil
}

// Seal 加密，输出 sealed:<base64(salt|nonce|box)>
func (b *Box) Seal(plain string) (string, error) {
	if !b.Enabled() || plain == "" {
		return plain, nil
	}
	var salt [saltSize]byte
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return "", err
	}
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	key, err := b.deriveKey(salt[:])
	if err != nil {
		return "", err
	}

	out := make([]byte, 0, saltSize+nonceSize+len(plain)+secretbox.Overhead)
	out = append(out, salt[:]...)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, []byte(plain), &nonce, key)
	return prefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open 解密；没有前缀的值视为明文
func (b *Box) Open(value string) (string, error) {
	if len(value) < len(prefix) || value[:len(prefix)] != prefix {
		return value, nil
	}
	if !b.Enabled() {
		return "", fmt.Errorf("%w: no passphrase configured", ErrDecrypt)
	}
	raw, err := base64.RawStdEncoding.DecodeString(value[len(prefix):])
	if err != nil || len(raw) < saltSize+nonceSize+secretbox.Overhead {
		return "", ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[saltSize:saltSize+nonceSize])
	key, err := b.deriveKey(raw[:saltSize])
	if err != nil {
		return "", err
	}
	plain, ok := secretbox.Open(nil, raw[saltSize+nonceSize:], &nonce, key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
