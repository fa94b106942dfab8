package credentials

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotConfigured indicates no credentials are stored for the
	// (athlete, provider) pair.
	ErrNotConfigured  = errors.New("credentials: not configured")
	errBadKeySize     = errors.New("credentials: key must be 32 bytes")
	errSealedTooShort = errors.New("credentials: sealed blob too short")
)

// ProviderCredential stores one sealed credential blob per athlete and provider.
// The pipeline never inspects the plaintext; only the owning adapter knows the
// field names inside.
type ProviderCredential struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	AthleteID uint      `gorm:"column:athlete_id;not null;uniqueIndex:idx_credentials_owner,priority:1"`
	Provider  string    `gorm:"column:provider;size:50;not null;uniqueIndex:idx_credentials_owner,priority:2"`
	Sealed    []byte    `gorm:"column:sealed;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (ProviderCredential) TableName() string {
	return "provider_credentials"
}

// Vault seals and unseals provider credentials with a process-wide key.
type Vault struct {
	db  *gorm.DB
	key []byte
}

// NewVault constructs a credential vault. The key must be 32 bytes.
func NewVault(db *gorm.DB, key []byte) (*Vault, error) {
	if db == nil {
		return nil, fmt.Errorf("credentials: database connection required")
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, errBadKeySize
	}
	vaultKey := make([]byte, len(key))
	copy(vaultKey, key)
	return &Vault{db: db, key: vaultKey}, nil
}

// Set seals and stores the credential fields, replacing any previous blob.
func (v *Vault) Set(ctx context.Context, athleteID uint, provider string, fields map[string]string) error {
	plaintext, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	sealed, err := v.seal(plaintext)
	if err != nil {
		return err
	}

	record := ProviderCredential{AthleteID: athleteID, Provider: provider, Sealed: sealed}
	return v.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "athlete_id"}, {Name: "provider"}},
			DoUpdates: clause.AssignmentColumns([]string{"sealed", "updated_at"}),
		}).
		Create(&record).Error
}

// Get unseals the stored credential fields.
func (v *Vault) Get(ctx context.Context, athleteID uint, provider string) (map[string]string, error) {
	var record ProviderCredential
	err := v.db.WithContext(ctx).
		Where("athlete_id = ? AND provider = ?", athleteID, provider).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, err
	}

	plaintext, err := v.unseal(record.Sealed)
	if err != nil {
		return nil, err
	}
	fields := map[string]string{}
	if err := json.Unmarshal(plaintext, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// IsSet reports whether credentials exist for the pair. It does not validate them.
func (v *Vault) IsSet(ctx context.Context, athleteID uint, provider string) (bool, error) {
	var count int64
	err := v.db.WithContext(ctx).
		Model(&ProviderCredential{}).
		Where("athlete_id = ? AND provider = ?", athleteID, provider).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Delete removes stored credentials. Deleting absent credentials is a no-op.
func (v *Vault) Delete(ctx context.Context, athleteID uint, provider string) error {
	return v.db.WithContext(ctx).
		Where("athlete_id = ? AND provider = ?", athleteID, provider).
		Delete(&ProviderCredential{}).Error
}

func (v *Vault) seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (v *Vault) unseal(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errSealedTooShort
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}
