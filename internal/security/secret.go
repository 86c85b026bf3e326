package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const devCredentialSecret = "firefighter_dev_credential_secret_change_me"

// Cipher 使用 AES-GCM 封存一次性凭证
//
// 密钥通过 HKDF-SHA256 从配置的主密钥派生；密文绑定会话 ID 作为附加数据，
// 不能被挪用到其他会话解密。
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher 根据主密钥创建 Cipher，主密钥为空时使用开发默认值
func NewCipher(secret string) (*Cipher, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		secret = devCredentialSecret
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("firefighter-credential-v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("派生密钥失败: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("初始化密钥失败: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("初始化 GCM 失败: %w", err)
	}
	return &Cipher{aead: gcm}, nil
}

// Seal 加密凭证，返回包含随机 Nonce 的字节数组
func (c *Cipher) Seal(plain, binding string) ([]byte, error) {
	if strings.TrimSpace(plain) == "" {
		return nil, fmt.Errorf("待加密内容不能为空")
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("生成随机数失败: %w", err)
	}
	return c.aead.Seal(nonce, nonce, []byte(plain), []byte(binding)), nil
}

// Open 解密 Seal 生成的密文
func (c *Cipher) Open(ciphertext []byte, binding string) (string, error) {
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("密文长度无效")
	}
	plain, err := c.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], []byte(binding))
	if err != nil {
		return "", fmt.Errorf("解密失败: %w", err)
	}
	return string(plain), nil
}

const credentialAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789!@#%&*+-"

// GenerateCredential 生成一次性密码，至少 12 位
func GenerateCredential(length int) (string, error) {
	if length < 12 {
		length = 12
	}
	max := big.NewInt(int64(len(credentialAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("生成凭证失败: %w", err)
		}
		b.WriteByte(credentialAlphabet[n.Int64()])
	}
	return b.String(), nil
}
