package crypto

import (
	"bytes"
	"crypto/aes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := DeriveKey("test-password")
	plain := bytes.Repeat([]byte("阿里云盘测试数据0123456789"), 1000)

	enc, err := NewEncryptReader(bytes.NewReader(plain), key)
	require.NoError(t, err)
	ciphertext, err := io.ReadAll(enc)
	require.NoError(t, err)

	// 密文 = 16 字节 IV 头 + 正文，长度关系固定
	require.Equal(t, len(plain)+EncryptedOverhead, len(ciphertext))
	require.NotEqual(t, plain, ciphertext[EncryptedOverhead:])

	dec, err := NewDecryptReader(bytes.NewReader(ciphertext), key)
	require.NoError(t, err)
	got, err := io.ReadAll(dec)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestDecryptStreamAtMatchesFullDecrypt(t *testing.T) {
	key := DeriveKey("k")
	plain := make([]byte, 10_000)
	for i := range plain {
		plain[i] = byte(i * 7)
	}

	enc, err := NewEncryptReader(bytes.NewReader(plain), key)
	require.NoError(t, err)
	ciphertext, err := io.ReadAll(enc)
	require.NoError(t, err)

	iv := ciphertext[:aes.BlockSize]
	body := ciphertext[aes.BlockSize:]

	// 任意偏移 (包括非块对齐) 重建的流都要和从头解密一致
	for _, offset := range []int64{0, 1, 15, 16, 17, 4096, 9_999} {
		stream, err := NewDecryptStreamAt(key, iv, offset)
		require.NoError(t, err)

		got := make([]byte, int64(len(body))-offset)
		stream.XORKeyStream(got, body[offset:])
		require.Equal(t, plain[offset:], got, "offset=%d", offset)
	}
}

func TestDecryptStreamAtRejectsBadInput(t *testing.T) {
	_, err := NewDecryptStreamAt([]byte("short"), make([]byte, 16), 0)
	require.Error(t, err)

	_, err = NewDecryptStreamAt(DeriveKey("k"), []byte("short-iv"), 0)
	require.Error(t, err)
}

func TestAddCounterCarries(t *testing.T) {
	counter := make([]byte, 16)
	counter[15] = 0xff
	addCounter(counter, 1)
	require.Equal(t, byte(0x01), counter[14])
	require.Equal(t, byte(0x00), counter[15])

	// 连续进位
	counter = bytes.Repeat([]byte{0xff}, 16)
	addCounter(counter, 1)
	require.Equal(t, make([]byte, 16), counter)

	// 大步长
	counter = make([]byte, 16)
	addCounter(counter, 0x0102030405060708)
	require.Equal(t,
		[]byte{0, 0, 0, 0, 0, 0, 0, 0, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		counter)
}

func TestEncryptNameDeterministic(t *testing.T) {
	key := DeriveKey("names")

	a, err := EncryptName("report.pdf", key)
	require.NoError(t, err)
	b, err := EncryptName("report.pdf", key)
	require.NoError(t, err)
	// 同名必须得到同样的密文，否则同步比对永远对不上
	require.Equal(t, a, b)

	plain, err := DecryptName(a, key)
	require.NoError(t, err)
	require.Equal(t, "report.pdf", plain)

	// 错密钥解不开
	_, err = DecryptName(a, DeriveKey("other"))
	require.Error(t, err)
}
