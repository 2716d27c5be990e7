package file

import (
	"context"
	"errors"
	"io/fs"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
)

const credentialsDir = "credentials"

// storedCredential keeps the ciphertext, which models.Credential hides from JSON.
type storedCredential struct {
	models.Credential
	EncryptedValue string `json:"value"`
}

// CredentialRepository handles credential file operations.
type CredentialRepository struct {
	docs *documents
}

func (cr *CredentialRepository) Save(_ context.Context, credential *models.Credential) error {
	if err := validateID(credential.ID); err != nil {
		return err
	}

	cr.docs.mu.Lock()
	defer cr.docs.mu.Unlock()

	return cr.docs.write(storedCredential{Credential: *credential, EncryptedValue: credential.Value},
		credentialsDir, credential.ID+".json")
}

func (cr *CredentialRepository) GetByID(_ context.Context, id, userID string) (*models.Credential, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.ErrCredentialNotFound
	}

	cr.docs.mu.RLock()
	defer cr.docs.mu.RUnlock()

	var stored storedCredential

	if err := cr.docs.read(&stored, credentialsDir, id+".json"); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.ErrCredentialNotFound
		}

		return nil, err
	}

	if stored.UserID != userID {
		return nil, persistence.ErrCredentialNotFound
	}

	credential := stored.Credential
	credential.Value = stored.EncryptedValue

	return &credential, nil
}

func (cr *CredentialRepository) Delete(ctx context.Context, id, userID string) error {
	if _, err := cr.GetByID(ctx, id, userID); err != nil {
		return err
	}

	cr.docs.mu.Lock()
	defer cr.docs.mu.Unlock()

	return cr.docs.remove(credentialsDir, id+".json")
}
