package store

import (
	"context"
	"fmt"

	"facilitator-backend/internal/models"
)

// EncryptedSettings seals the summarizer API key before it reaches the
// underlying repository and opens it again on the way out.
type EncryptedSettings struct {
	inner SettingsRepository
	key   string
}

func NewEncryptedSettings(inner SettingsRepository, keyBase64 string) *EncryptedSettings {
	return &EncryptedSettings{inner: inner, key: keyBase64}
}

func (e *EncryptedSettings) Get(ctx context.Context, userID string) (*models.IntegrationSettings, error) {
	s, err := e.inner.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	plain, err := models.DecryptSecret(s.SummarizerAPIKey, e.key)
	if err != nil {
		// A key sealed with a rotated secret is unusable; treat it as unset
		s.SummarizerAPIKey = ""
		return s, nil
	}
	s.SummarizerAPIKey = plain
	return s, nil
}

func (e *EncryptedSettings) Save(ctx context.Context, s *models.IntegrationSettings) error {
	sealed, err := models.EncryptSecret(s.SummarizerAPIKey, e.key)
	if err != nil {
		return fmt.Errorf("encrypting api key: %w", err)
	}
	stored := *s
	stored.SummarizerAPIKey = sealed
	return e.inner.Save(ctx, &stored)
}
