package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anyhui/aleeai-prompt/internal/domain"
	"github.com/anyhui/aleeai-prompt/internal/domain/models"
	"github.com/anyhui/aleeai-prompt/internal/ports"
)

// VersionRepository stores each prompt's version list as one JSONB row.
type VersionRepository struct {
	BaseRepository
}

var _ ports.VersionRepository = (*VersionRepository)(nil)

func NewVersionRepository(pool DB) *VersionRepository {
	return &VersionRepository{BaseRepository: NewBaseRepository(pool)}
}

// Load returns the versions of promptID. Inside a transaction the key is
// locked until commit, including keys that have no row yet.
func (r *VersionRepository) Load(ctx context.Context, promptID string) ([]*models.Version, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT schema_version, versions
		FROM prompt_versions
		WHERE prompt_id = $1`

	if GetTx(ctx) != nil {
		if _, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, promptID); err != nil {
			return nil, domain.PersistenceError("failed to lock prompt versions", err)
		}
		query += ` FOR UPDATE`
	}

	var schemaVersion int
	var data []byte
	err := r.conn(ctx).QueryRow(ctx, query, promptID).Scan(&schemaVersion, &data)
	if checkNoRows(err) {
		return []*models.Version{}, nil
	}
	if err != nil {
		return nil, domain.PersistenceError("failed to load prompt versions", err)
	}

	if schemaVersion > models.VersionSchemaVersion {
		return nil, domain.PersistenceError(
			fmt.Sprintf("prompt versions schema %d is newer than supported %d", schemaVersion, models.VersionSchemaVersion), nil)
	}

	versions := []*models.Version{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &versions); err != nil {
			return nil, domain.PersistenceError("failed to decode prompt versions", err)
		}
	}
	for _, v := range versions {
		if v.PromptID == "" {
			v.PromptID = promptID
		}
	}
	return versions, nil
}

// Store replaces the list of promptID. An empty list deletes the row.
func (r *VersionRepository) Store(ctx context.Context, promptID string, versions []*models.Version) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if len(versions) == 0 {
		_, err := r.conn(ctx).Exec(ctx, `DELETE FROM prompt_versions WHERE prompt_id = $1`, promptID)
		if err != nil {
			return domain.PersistenceError("failed to delete prompt versions", err)
		}
		return nil
	}

	data, err := json.Marshal(versions)
	if err != nil {
		return domain.PersistenceError("failed to encode prompt versions", err)
	}

	query := `
		INSERT INTO prompt_versions (prompt_id, schema_version, versions, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (prompt_id) DO UPDATE SET
			schema_version = EXCLUDED.schema_version,
			versions = EXCLUDED.versions,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.conn(ctx).Exec(ctx, query, promptID, models.VersionSchemaVersion, data); err != nil {
		return domain.PersistenceError("failed to store prompt versions", err)
	}
	return nil
}

// PromptIDs lists every stored prompt id in order.
func (r *VersionRepository) PromptIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.conn(ctx).Query(ctx, `SELECT prompt_id FROM prompt_versions ORDER BY prompt_id`)
	if err != nil {
		return nil, domain.PersistenceError("failed to list prompts", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.PersistenceError("failed to scan prompt id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.PersistenceError("failed to list prompts", err)
	}
	return ids, nil
}
