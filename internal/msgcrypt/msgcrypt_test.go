package msgcrypt_test

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawn/wecom-gateway/internal/msgcrypt"
)

func testKey(t *testing.T) string {
	t.Helper()
	raw := bytes.Repeat([]byte{0x5a, 0x13, 0xc7, 0x80}, 8)
	k := strings.TrimRight(base64.StdEncoding.EncodeToString(raw), "=")
	require.Len(t, k, msgcrypt.EncodingAESKeyLen)
	return k
}

func TestSignature_OrderIndependent(t *testing.T) {
	want := msgcrypt.Signature("mytoken", "1234", "abcd", "hello")
	assert.Len(t, want, 40)
	assert.Equal(t, want, msgcrypt.Signature("hello", "abcd", "1234", "mytoken"))
	assert.Equal(t, want, msgcrypt.Signature("1234", "mytoken", "hello", "abcd"))
	assert.NotEqual(t, want, msgcrypt.Signature("mytoken", "1234", "abcd", "hellO"))
}

func TestSignature_KnownVector(t *testing.T) {
	// sha1("") is the degenerate case where every component is empty
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", msgcrypt.Signature("", "", "", ""))
}

func TestVerifySignature(t *testing.T) {
	sig := msgcrypt.Signature("tok", "1", "n", "x")
	assert.True(t, msgcrypt.VerifySignature(sig, "tok", "1", "n", "x"))
	assert.False(t, msgcrypt.VerifySignature(sig, "tok", "2", "n", "x"))
	assert.False(t, msgcrypt.VerifySignature("", "tok", "1", "n", "x"))
	assert.False(t, msgcrypt.VerifySignature(strings.ToUpper(sig), "tok", "1", "n", "x"))
}

func TestDeriveKey(t *testing.T) {
	key, err := msgcrypt.DeriveKey(testKey(t))
	require.NoError(t, err)
	assert.Len(t, key, 32)

	_, err = msgcrypt.DeriveKey("short")
	require.Error(t, err)
	assert.ErrorIs(t, err, msgcrypt.ErrInvalidKey)

	_, err = msgcrypt.DeriveKey(strings.Repeat("!", 43))
	assert.ErrorIs(t, err, msgcrypt.ErrInvalidKey)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := testKey(t)
	payloads := [][]byte{
		{},
		[]byte("a"),
		[]byte("<xml><MsgType><![CDATA[text]]></MsgType></xml>"),
		bytes.Repeat([]byte("0123456789"), 100),
		[]byte("exactly-twelve"),
	}
	for _, p := range payloads {
		ct, err := msgcrypt.Encrypt(p, "wx5823bf96d3bd56c7", key)
		require.NoError(t, err)

		raw, err := base64.StdEncoding.DecodeString(ct)
		require.NoError(t, err)
		assert.Zero(t, len(raw)%32, "vendor padding is 32 bytes")

		got, err := msgcrypt.Decrypt(ct, key, "wx5823bf96d3bd56c7")
		require.NoError(t, err)
		assert.Equal(t, string(p), string(got))
	}
}

func TestEncrypt_RandomPrefixVaries(t *testing.T) {
	key := testKey(t)
	a, err := msgcrypt.Encrypt([]byte("same"), "corp", key)
	require.NoError(t, err)
	b, err := msgcrypt.Encrypt([]byte("same"), "corp", key)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypt_EmptyReceiverSkipsCheck(t *testing.T) {
	key := testKey(t)
	ct, err := msgcrypt.Encrypt([]byte("payload"), "corp-a", key)
	require.NoError(t, err)

	got, err := msgcrypt.Decrypt(ct, key, "")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestDecrypt_ReceiverMismatch(t *testing.T) {
	key := testKey(t)
	ct, err := msgcrypt.Encrypt([]byte("payload"), "corp-a", key)
	require.NoError(t, err)

	_, err = msgcrypt.Decrypt(ct, key, "corp-b")
	require.Error(t, err)
	assert.ErrorIs(t, err, msgcrypt.ErrReceiverID)

	var cerr *msgcrypt.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "decrypt", cerr.Op)
}

const contactXML = `<xml><ToUserName><![CDATA[ww5823bf]]></ToUserName><MsgType><![CDATA[event]]></MsgType><Event><![CDATA[change_contact]]></Event></xml>`

// TestDecrypt_SingleByteFlips flips every ciphertext byte in turn. A flip in
// block n garbles plaintext block n and flips one bit of block n+1, so from
// the second block onwards the garbled block must be rejected. A flip in the
// first block only garbles the random prefix; at worst it changes one
// payload byte.
func TestDecrypt_SingleByteFlips(t *testing.T) {
	key := testKey(t)
	ct, err := msgcrypt.Encrypt([]byte(contactXML), "corp", key)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(ct)
	require.NoError(t, err)

	for i := range raw {
		tampered := append([]byte(nil), raw...)
		tampered[i] ^= 0x01
		got, err := msgcrypt.Decrypt(base64.StdEncoding.EncodeToString(tampered), key, "corp")

		if i >= 16 {
			var cerr *msgcrypt.Error
			assert.ErrorAs(t, err, &cerr, "byte %d", i)
			continue
		}
		if err != nil {
			continue
		}
		require.Len(t, got, len(contactXML), "byte %d", i)
		diff := 0
		for j := range got {
			if got[j] != contactXML[j] {
				diff++
			}
		}
		assert.LessOrEqual(t, diff, 1, "byte %d returned garbled payload %q", i, got)
	}
}

func TestDecrypt_RejectsBinaryPayload(t *testing.T) {
	key := testKey(t)
	for _, p := range [][]byte{{0xff, 0xfe, 0x41}, []byte("ab\x00cd"), []byte("\x1b[31m")} {
		ct, err := msgcrypt.Encrypt(p, "corp", key)
		require.NoError(t, err)
		_, err = msgcrypt.Decrypt(ct, key, "corp")
		assert.ErrorIs(t, err, msgcrypt.ErrEncoding, "payload %q", p)
	}

	ct, err := msgcrypt.Encrypt([]byte("line one\r\n\tline two ünïcode"), "corp", key)
	require.NoError(t, err)
	_, err = msgcrypt.Decrypt(ct, key, "corp")
	assert.NoError(t, err)
}

func TestDecrypt_WrongKey(t *testing.T) {
	ct, err := msgcrypt.Encrypt([]byte("payload"), "corp", testKey(t))
	require.NoError(t, err)

	other := strings.TrimRight(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x01}, 32)), "=")
	_, err = msgcrypt.Decrypt(ct, other, "corp")
	assert.Error(t, err)
}

func TestDecrypt_MalformedInput(t *testing.T) {
	key := testKey(t)

	_, err := msgcrypt.Decrypt("not base64!!", key, "")
	assert.ErrorIs(t, err, msgcrypt.ErrCiphertext)

	_, err = msgcrypt.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")), key, "")
	assert.ErrorIs(t, err, msgcrypt.ErrCiphertext)

	_, err = msgcrypt.Decrypt("", key, "")
	assert.ErrorIs(t, err, msgcrypt.ErrCiphertext)

	_, err = msgcrypt.Decrypt("AAAA", "bad-key", "")
	assert.ErrorIs(t, err, msgcrypt.ErrInvalidKey)
}
