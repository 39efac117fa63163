package msgcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

const (
	// EncodingAESKeyLen is the length of the base64 key material configured
	// on the vendor console.
	EncodingAESKeyLen = 43

	// padBlock is the PKCS#7 block size the vendor pads to. It is not the AES block size.
	padBlock  = 32
	randomLen = 16
	lenPrefix = 4
)

var (
	ErrInvalidKey  = errors.New("invalid EncodingAESKey")
	ErrCiphertext  = errors.New("malformed ciphertext")
	ErrPadding     = errors.New("malformed padding")
	ErrLength      = errors.New("length prefix out of range")
	ErrReceiverID  = errors.New("receiver id mismatch")
	ErrEncoding    = errors.New("payload is not valid text")
	ErrRandomBytes = errors.New("random source failed")
)

// Error is returned by every failed crypto operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "msgcrypt " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// randReader is swapped in tests that need deterministic output.
var randReader io.Reader = rand.Reader

// DeriveKey decodes a 43 character EncodingAESKey into the 32 byte AES key.
func DeriveKey(encodingAESKey string) ([]byte, error) {
	if len(encodingAESKey) != EncodingAESKeyLen {
		return nil, &Error{Op: "derive key", Err: fmt.Errorf("%w: want %d characters, got %d", ErrInvalidKey, EncodingAESKeyLen, len(encodingAESKey))}
	}
	key, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil {
		return nil, &Error{Op: "derive key", Err: fmt.Errorf("%w: %v", ErrInvalidKey, err)}
	}
	if len(key) != 32 {
		return nil, &Error{Op: "derive key", Err: fmt.Errorf("%w: decoded to %d bytes", ErrInvalidKey, len(key))}
	}
	return key, nil
}

// Encrypt frames plaintext as
//
//	random(16) | uint32be(len(plaintext)) | plaintext | receiverID
//
// pads it to 32 bytes and encrypts it with AES-256-CBC using the first 16
// key bytes as IV. The result is base64 encoded.
func Encrypt(plaintext []byte, receiverID, encodingAESKey string) (string, error) {
	key, err := DeriveKey(encodingAESKey)
	if err != nil {
		return "", err
	}

	buf := make([]byte, randomLen+lenPrefix, randomLen+lenPrefix+len(plaintext)+len(receiverID)+padBlock)
	if _, err := io.ReadFull(randReader, buf[:randomLen]); err != nil {
		return "", &Error{Op: "encrypt", Err: fmt.Errorf("%w: %v", ErrRandomBytes, err)}
	}
	binary.BigEndian.PutUint32(buf[randomLen:], uint32(len(plaintext)))
	buf = append(buf, plaintext...)
	buf = append(buf, receiverID...)
	buf = pad(buf)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", &Error{Op: "encrypt", Err: err}
	}
	out := make([]byte, len(buf))
	cipher.NewCBCEncrypter(block, key[:aes.BlockSize]).CryptBlocks(out, buf)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt and returns the payload. When receiverID is
// non-empty the trailing receiver id must match it exactly. The payload
// must be text; anything else is reported as ErrEncoding.
func Decrypt(ciphertext, encodingAESKey, receiverID string) ([]byte, error) {
	key, err := DeriveKey(encodingAESKey)
	if err != nil {
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, &Error{Op: "decrypt", Err: fmt.Errorf("%w: %v", ErrCiphertext, err)}
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, &Error{Op: "decrypt", Err: fmt.Errorf("%w: length %d is not a multiple of %d", ErrCiphertext, len(raw), aes.BlockSize)}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &Error{Op: "decrypt", Err: err}
	}
	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, key[:aes.BlockSize]).CryptBlocks(plain, raw)

	plain, err = unpad(plain)
	if err != nil {
		return nil, &Error{Op: "decrypt", Err: err}
	}
	if len(plain) < randomLen+lenPrefix {
		return nil, &Error{Op: "decrypt", Err: fmt.Errorf("%w: frame too short", ErrLength)}
	}

	body := plain[randomLen+lenPrefix:]
	n := binary.BigEndian.Uint32(plain[randomLen:])
	if uint64(n) > uint64(len(body)) {
		return nil, &Error{Op: "decrypt", Err: fmt.Errorf("%w: %d > %d", ErrLength, n, len(body))}
	}

	payload, trailer := body[:n], body[n:]
	if receiverID != "" && subtle.ConstantTimeCompare(trailer, []byte(receiverID)) != 1 {
		return nil, &Error{Op: "decrypt", Err: ErrReceiverID}
	}
	// CBC has no MAC; a tampered block decrypts to noise, which shows up here.
	if !isText(payload) {
		return nil, &Error{Op: "decrypt", Err: ErrEncoding}
	}

	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

// isText reports whether b is UTF-8 without control characters other than
// tab, CR and LF. Callback payloads are XML or short ASCII strings.
func isText(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, c := range b {
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' {
			return false
		}
	}
	return true
}

func pad(b []byte) []byte {
	n := padBlock - len(b)%padBlock
	for i := 0; i < n; i++ {
		b = append(b, byte(n))
	}
	return b
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrPadding
	}
	n := int(b[len(b)-1])
	if n < 1 || n > padBlock || n > len(b) {
		return nil, fmt.Errorf("%w: pad value %d", ErrPadding, n)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrPadding
		}
	}
	return b[:len(b)-n], nil
}
