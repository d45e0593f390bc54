package bouncer

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
)

// CallbackToken is the correlation data embedded in a Slack message's
// callback_id. It round-trips through Slack opaquely and ties a button click
// back to its comment and installation.
type CallbackToken struct {
	CommentID      string `json:"c"`
	InstallationID string `json:"i"`
	HandshakeToken string `json:"h"`
}

func (t CallbackToken) Encode() (string, error) {
	enc, err := json.Marshal(t)
	if err != nil {
		return "", errors.Wrap(err, "marshaling callback token")
	}
	return string(enc), nil
}

func DecodeCallbackToken(s string) (CallbackToken, error) {
	var t CallbackToken
	err := json.Unmarshal([]byte(s), &t)
	return t, errors.Wrap(err, "unmarshaling callback token")
}

// Installation access tokens are stored encrypted with the installation's
// handshake token as the passphrase, in the OpenSSL "Salted__" envelope:
// base64(Salted__ || salt[8] || AES-256-CBC ciphertext), with key and IV
// derived by the MD5 EVP_BytesToKey construction. The installations were
// enrolled with this exact scheme, so it must be preserved bit for bit.

const opensslSaltHeader = "Salted__"

// DecryptToken decrypts an installation access token with a handshake token.
func DecryptToken(encrypted, passphrase string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", errors.Wrap(err, "decoding encrypted token")
	}
	if len(raw) < 16 || string(raw[:8]) != opensslSaltHeader {
		return "", errors.New("encrypted token missing salt header")
	}
	salt := raw[8:16]
	data := raw[16:]
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", errors.New("encrypted token has bad length")
	}

	key, iv := evpBytesToKey([]byte(passphrase), salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errors.Wrap(err, "creating cipher")
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)

	plain, err = pkcs7Unpad(plain)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// EncryptToken is the inverse of DecryptToken. The onboarding handshake uses
// it when storing a fresh installation's access token.
func EncryptToken(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 8)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "generating salt")
	}

	key, iv := evpBytesToKey([]byte(passphrase), salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errors.Wrap(err, "creating cipher")
	}

	padded := pkcs7Pad([]byte(plaintext))
	out := make([]byte, 16+len(padded))
	copy(out, opensslSaltHeader)
	copy(out[8:], salt)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[16:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// evpBytesToKey derives a 32-byte AES key and 16-byte IV from a passphrase
// and salt by iterated MD5 (OpenSSL EVP_BytesToKey with one round).
func evpBytesToKey(passphrase, salt []byte) (key, iv []byte) {
	var derived, prev []byte
	for len(derived) < 48 {
		h := md5.New()
		h.Write(prev)
		h.Write(passphrase)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:32], derived[32:48]
}

func pkcs7Pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.New("empty plaintext")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errors.New("bad padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errors.New("bad padding")
		}
	}
	return b[:len(b)-n], nil
}
