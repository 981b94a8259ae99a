package crypto

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Sha1Hex 计算流的 SHA1 (十六进制小写)
func Sha1Hex(r io.Reader) (string, error) {
	h := sha1.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Sha1HexBytes 计算字节串的 SHA1
func Sha1HexBytes(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// ProofOffset 持有证明的取样偏移
// 用 access token 的 MD5 前 16 个十六进制字符当作 64 位整数，
// 对内容长度取模，得到一个双方都能算出的内容内偏移
func ProofOffset(accessToken string, ioLen int64) (int64, error) {
	if ioLen <= 0 {
		return 0, nil
	}
	sum := md5.Sum([]byte(accessToken))
	hexStr := hex.EncodeToString(sum[:])
	n, err := strconv.ParseUint(hexStr[:16], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("解析 proof 偏移失败: %w", err)
	}
	return int64(n % uint64(ioLen)), nil
}

// ProofCode 计算秒传的持有证明
// 从内容的 ProofOffset 处读取至多 8 字节，Base64 编码后发给服务端，
// 证明确实持有这份内容而不只是知道它的哈希
func ProofCode(ra io.ReaderAt, ioLen int64, accessToken string) (string, error) {
	if ioLen == 0 {
		return "", nil
	}

	offset, err := ProofOffset(accessToken, ioLen)
	if err != nil {
		return "", err
	}

	size := int64(8)
	if offset+size > ioLen {
		size = ioLen - offset
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(ra, offset, size), buf); err != nil {
		return "", fmt.Errorf("读取 proof 字节失败: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// EqualHashFold 大小写无关地比较两个十六进制哈希
func EqualHashFold(a, b string) bool {
	return strings.EqualFold(a, b)
}
