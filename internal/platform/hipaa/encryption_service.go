package hipaa

import (
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"
)

// EncryptionService provides field-level PHI encryption for the application.
// When no key is configured (development mode) all operations are no-ops that
// return values unchanged, and a warning is logged at startup.
type EncryptionService struct {
	encryptor FieldEncryptor
	enabled   bool
}

// NewEncryptionService creates the encryption service. A non-empty key must
// be a 64-character hex string encoding a 32-byte AES-256 key; an invalid key
// is an error so the application refuses to start misconfigured.
func NewEncryptionService(key string, logger zerolog.Logger) (*EncryptionService, error) {
	if key == "" {
		logger.Warn().Msg("PHI encryption disabled: PHI_ENCRYPTION_KEY is not set")
		return &EncryptionService{enabled: false}, nil
	}

	keyBytes, err := hex.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("PHI_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("PHI_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
	}

	enc, err := NewPHIEncryptor(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("create PHI encryptor: %w", err)
	}

	logger.Info().Msg("PHI field-level encryption enabled")
	return &EncryptionService{encryptor: enc, enabled: true}, nil
}

// Encryptor returns the underlying FieldEncryptor, or nil if encryption is
// disabled. Repositories accept an optional FieldEncryptor.
func (s *EncryptionService) Encryptor() FieldEncryptor {
	return s.encryptor
}

// EncryptField encrypts a single PHI field value. Returns the value unchanged
// if encryption is disabled.
func (s *EncryptionService) EncryptField(value string) (string, error) {
	if !s.enabled {
		return value, nil
	}
	return s.encryptor.Encrypt(value)
}

// DecryptField decrypts a single PHI field value. Returns the value unchanged
// if encryption is disabled.
func (s *EncryptionService) DecryptField(value string) (string, error) {
	if !s.enabled {
		return value, nil
	}
	return s.encryptor.Decrypt(value)
}

func (s *EncryptionService) IsEnabled() bool {
	return s.enabled
}
