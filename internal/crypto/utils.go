package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// ==========================================
// 可选功能：加密/解密文件名
// ==========================================

// EncryptName 加密文件名 (AES-GCM + Base64Url)
// 把 "report.pdf" 变成乱码存到云盘，列目录时再解回来
func EncryptName(plainName string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	// GCM 模式适合文件名这种小数据块
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	// 为了确定性加密 (同名总是得到同样的密文)，Nonce 不能随机，
	// 从明文自身的 SHA-256 派生，保证"每个文件名对应唯一 Nonce"
	nonceHash := sha256.Sum256([]byte(plainName))
	nonce := nonceHash[:aesGCM.NonceSize()]

	// Seal 会把 Nonce 作为密文前缀，解密时才能恢复
	ciphertext := aesGCM.Seal(nonce, nonce, []byte(plainName), nil)

	// URL 安全的 Base64，适合作为云盘文件名
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

// DecryptName 解密文件名
func DecryptName(encryptedName string, key []byte) (string, error) {
	data, err := base64.URLEncoding.DecodeString(encryptedName)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := aesGCM.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("文件名密文太短")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
