package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// EncryptedOverhead 加密文件的头部开销 (16 字节 IV)
// 云端密文大小 = 明文大小 + EncryptedOverhead
const EncryptedOverhead = aes.BlockSize

// DeriveKey 把任意长度口令转换为 32 字节的 AES-256 密钥 (SHA-256)
func DeriveKey(password string) []byte {
	hash := sha256.Sum256([]byte(password))
	return hash[:]
}

// NewEncryptReader 创建一个加密读取流
// 输入: 明文流 (src)
// 输出: 密文流，格式为 [16字节随机IV] + [AES-CTR密文]
func NewEncryptReader(src io.Reader, key []byte) (io.Reader, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("无效的密钥: %w", err)
	}

	// 1. 随机 IV
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("生成 IV 失败: %w", err)
	}

	// 2. CTR 加密流
	stream := cipher.NewCTR(block, iv)

	// 3. 先读出 IV，再读密文正文
	return io.MultiReader(
		bytes.NewReader(iv),
		&cipher.StreamReader{S: stream, R: src},
	), nil
}

// NewDecryptReader 创建一个解密读取流
// 输入: 密文流 (src，开头必须是 IV)
// 输出: 明文流
func NewDecryptReader(src io.Reader, key []byte) (io.Reader, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("无效的密钥: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(src, iv); err != nil {
		return nil, fmt.Errorf("读取 IV 失败或文件太短: %w", err)
	}

	stream := cipher.NewCTR(block, iv)
	return &cipher.StreamReader{S: stream, R: src}, nil
}

// NewDecryptStreamAt 从密文的任意偏移处构造解密流
// CTR 的计数器可以按块推进：把 IV 当作 128 位大端计数器加上
// offset/16，再丢弃块内的 offset%16 字节，得到的密码流与从头
// 解密到该处完全一致。分块重试/断点续传时必须用它重建状态，
// 不能沿用旧流的内部计数
//
// offset 是密文正文内的偏移 (不含 16 字节 IV 头)
func NewDecryptStreamAt(key, iv []byte, offset int64) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("无效的密钥: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("IV 长度必须是 %d 字节", aes.BlockSize)
	}

	counter := make([]byte, aes.BlockSize)
	copy(counter, iv)
	addCounter(counter, uint64(offset)/aes.BlockSize)

	stream := cipher.NewCTR(block, counter)

	// 丢弃块内偏移
	if pad := offset % aes.BlockSize; pad > 0 {
		scratch := make([]byte, pad)
		stream.XORKeyStream(scratch, scratch)
	}
	return stream, nil
}

// addCounter 把 16 字节大端计数器加上 n (带进位)
func addCounter(counter []byte, n uint64) {
	for i := len(counter) - 1; i >= 0; i-- {
		sum := uint64(counter[i]) + (n & 0xff)
		counter[i] = byte(sum)
		n = (n >> 8) + (sum >> 8)
		if n == 0 {
			break
		}
	}
}
