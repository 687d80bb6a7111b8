// Пакет capability — ключ владельца ответа (owner key).
//
// При создании ответа генерируется пара ключей Ed25519. Приватный ключ
// сохраняется в записи ответа, публичный возвращается отправителю один раз
// в виде непрозрачного токена (base64url) и на сервере не хранится.
// Проверка токена — challenge-response: сервер подписывает случайный nonce
// сохранённым приватным ключом и проверяет подпись предъявленным публичным.
package capability

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
)

// nonceSize — размер случайного challenge в байтах.
const nonceSize = 32

// OwnerKeys выпускает и проверяет ключи владельца.
type OwnerKeys struct {
	rand io.Reader
}

// New создаёт OwnerKeys с криптографическим генератором случайных чисел.
func New() *OwnerKeys {
	return &OwnerKeys{rand: rand.Reader}
}

// Issue генерирует пару ключей. Возвращает приватный ключ в PKCS#8 DER
// для сохранения в ответе и токен с публичным ключом для отправителя.
func (k *OwnerKeys) Issue() (privateKey []byte, token string, err error) {
	pub, priv, err := ed25519.GenerateKey(k.rand)
	if err != nil {
		return nil, "", fmt.Errorf("генерация ключа владельца: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, "", fmt.Errorf("сериализация ключа владельца: %w", err)
	}
	return der, base64.RawURLEncoding.EncodeToString(pub), nil
}

// Validate проверяет, что токен соответствует сохранённому приватному ключу.
// Любая ошибка (нет ключа, битый токен, чужой ключ) даёт false без подробностей.
func (k *OwnerKeys) Validate(privateKey []byte, token string) bool {
	if len(privateKey) == 0 || token == "" {
		return false
	}

	pub, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}

	parsed, err := x509.ParsePKCS8PrivateKey(privateKey)
	if err != nil {
		return false
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return false
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(k.rand, nonce); err != nil {
		return false
	}
	signature := ed25519.Sign(priv, nonce)
	return ed25519.Verify(ed25519.PublicKey(pub), nonce, signature)
}
