package models

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"
)

// IntegrationSettings holds a user's outbound integrations.
// SummarizerAPIKey is encrypted at rest when a settings key is configured.
type IntegrationSettings struct {
	UserID           string    `json:"user_id" gorm:"primaryKey"`
	SlackWebhookURL  string    `json:"slack_webhook_url"`
	SlackChannel     string    `json:"slack_channel"`
	SenderName       string    `json:"sender_name"`
	SummarizerAPIKey string    `json:"-"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SettingsView is what the API exposes; secrets never leave the server.
type SettingsView struct {
	SlackWebhookURL string `json:"slack_webhook_url"`
	SlackChannel    string `json:"slack_channel"`
	SenderName      string `json:"sender_name"`
	HasAPIKey       bool   `json:"has_api_key"`
}

func (s *IntegrationSettings) View() SettingsView {
	return SettingsView{
		SlackWebhookURL: s.SlackWebhookURL,
		SlackChannel:    s.SlackChannel,
		SenderName:      s.SenderName,
		HasAPIKey:       s.SummarizerAPIKey != "",
	}
}

// EncryptSecret encrypts a secret using AES-GCM with the provided key.
// The key should be 32 bytes for AES-256.
func EncryptSecret(plaintext string, keyBase64 string) (string, error) {
	if keyBase64 == "" || plaintext == "" {
		return plaintext, nil
	}

	aesGCM, err := newGCM(keyBase64)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := aesGCM.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptSecret decrypts a secret that was encrypted with EncryptSecret.
func DecryptSecret(ciphertextBase64 string, keyBase64 string) (string, error) {
	if keyBase64 == "" || ciphertextBase64 == "" {
		return ciphertextBase64, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext: %w", err)
	}

	aesGCM, err := newGCM(keyBase64)
	if err != nil {
		return "", err
	}

	nonceSize := aesGCM.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}

	return string(plaintext), nil
}

func newGCM(keyBase64 string) (cipher.AEAD, error) {
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return aesGCM, nil
}
