package credentials

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/protocol"
)

// Decrypter turns a stored credential value into plaintext.
type Decrypter interface {
	Decrypt(encoded string) (string, error)
}

// Encrypter seals a plaintext credential value for storage.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

var _ protocol.CredentialResolver = (*Resolver)(nil)

// Resolver looks credentials up by id and owner and decrypts them. Values are
// never cached.
type Resolver struct {
	store     persistence.CredentialRepository
	decrypter Decrypter
	logger    *slog.Logger
}

func NewResolver(store persistence.CredentialRepository, decrypter Decrypter, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:     store,
		decrypter: decrypter,
		logger:    logger.With("module", "credentials"),
	}
}

// Lookup returns the encrypted value, or a CredentialNotFoundError when the
// credential does not exist or belongs to someone else.
func (r *Resolver) Lookup(ctx context.Context, credentialID, userID string) (string, error) {
	credential, err := r.store.GetByID(ctx, credentialID, userID)
	if err != nil {
		if persistence.IsCredentialNotFound(err) {
			return "", &protocol.CredentialNotFoundError{CredentialID: credentialID, UserID: userID}
		}

		return "", fmt.Errorf("failed to load credential %s: %w", credentialID, err)
	}

	return credential.Value, nil
}

// Open decrypts a value returned by Lookup.
func (r *Resolver) Open(ctx context.Context, sealed string) (string, error) {
	plaintext, err := r.decrypter.Decrypt(sealed)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to decrypt credential", "error", err)

		return "", err
	}

	return plaintext, nil
}

// Store encrypts and saves a credential given its plaintext value.
func Store(ctx context.Context, repo persistence.CredentialRepository, enc Encrypter, credential *models.Credential, plaintext string) error {
	sealed, err := enc.Encrypt(plaintext)
	if err != nil {
		return err
	}

	credential.Value = sealed

	return repo.Save(ctx, credential)
}
