package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/google/uuid"
)

// CredentialRepository handles credential database operations.
type CredentialRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCredentialRepository creates a new credential repository.
func NewCredentialRepository(db *sql.DB, logger *slog.Logger) *CredentialRepository {
	return &CredentialRepository{db: db, logger: logger}
}

func (r *CredentialRepository) Save(ctx context.Context, credential *models.Credential) error {
	if credential.ID == "" {
		credential.ID = uuid.NewString()
	}

	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credentials (id, user_id, name, type, value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			value = EXCLUDED.value
		WHERE credentials.user_id = EXCLUDED.user_id
	`, credential.ID, credential.UserID, credential.Name, string(credential.Type), credential.Value, credential.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	return nil
}

func (r *CredentialRepository) GetByID(ctx context.Context, id, userID string) (*models.Credential, error) {
	var (
		credential models.Credential
		credType   string
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, type, value, created_at
		FROM credentials
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&credential.ID, &credential.UserID, &credential.Name, &credType, &credential.Value, &credential.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrCredentialNotFound
		}

		return nil, fmt.Errorf("failed to query credential: %w", err)
	}

	credential.Type = models.CredentialType(credType)

	return &credential, nil
}

func (r *CredentialRepository) Delete(ctx context.Context, id, userID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.ErrCredentialNotFound
	}

	return nil
}
