package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/anyhui/aleeai-prompt/internal/adapters/metrics"
	"github.com/anyhui/aleeai-prompt/internal/domain"
	"github.com/anyhui/aleeai-prompt/internal/domain/models"
	"github.com/anyhui/aleeai-prompt/internal/ports"
	"github.com/anyhui/aleeai-prompt/internal/prompt"
)

// DefaultMaxVersionsPerPrompt caps a history unless configured otherwise.
const DefaultMaxVersionsPerPrompt = 50

// VersionService keeps the ordered version history of each prompt.
//
// Writes to one prompt id are serialized by an in-process lock and, when a
// transaction manager is set, run inside a transaction in which the
// repository locks the key. Version numbers are dense and 1-based.
type VersionService struct {
	repo        ports.VersionRepository
	txManager   ports.TransactionManager
	idGenerator ports.IDGenerator
	clock       ports.Clock
	maxVersions int
	locks       *keyedMutex
}

// NewVersionService creates a new version service. txManager may be nil.
func NewVersionService(
	repo ports.VersionRepository,
	txManager ports.TransactionManager,
	idGenerator ports.IDGenerator,
) *VersionService {
	return &VersionService{
		repo:        repo,
		txManager:   txManager,
		idGenerator: idGenerator,
		clock:       SystemClock,
		maxVersions: DefaultMaxVersionsPerPrompt,
		locks:       newKeyedMutex(),
	}
}

// WithMaxVersions sets the history cap. Zero or less keeps every version.
func (s *VersionService) WithMaxVersions(n int) *VersionService {
	s.maxVersions = n
	return s
}

// WithClock replaces the wall clock (useful for testing)
func (s *VersionService) WithClock(clock ports.Clock) *VersionService {
	s.clock = clock
	return s
}

// Save appends a new version to the history of promptID. When the history
// exceeds the cap the oldest versions are dropped and the rest renumbered.
func (s *VersionService) Save(ctx context.Context, promptID, content, description string) (*models.Version, error) {
	if err := ValidatePromptID(promptID); err != nil {
		return nil, err
	}
	if err := ValidateStringLength(content, "content", 0, MaxPromptLength); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(promptID)
	defer unlock()

	var saved *models.Version
	err := s.withTransaction(ctx, func(ctx context.Context) error {
		versions, err := s.repo.Load(ctx, promptID)
		if err != nil {
			return persistenceError("failed to load versions", err)
		}

		version := &models.Version{
			ID:                s.idGenerator.GenerateVersionID(),
			PromptID:          promptID,
			VersionNumber:     len(versions) + 1,
			Content:           content,
			ChangeDescription: description,
			Timestamp:         s.clock.Now().UnixMilli(),
		}
		versions = append(versions, version)

		if s.maxVersions > 0 && len(versions) > s.maxVersions {
			dropped := len(versions) - s.maxVersions
			versions = versions[dropped:]
			models.Renumber(versions)
			log.Debug().Str("prompt_id", promptID).Int("dropped", dropped).Msg("version history trimmed")
		}

		if err := s.repo.Store(ctx, promptID, versions); err != nil {
			return persistenceError("failed to save version", err)
		}
		saved = version
		return nil
	})
	recordVersionOp("save", err)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("prompt_id", promptID).
		Str("version_id", saved.ID).
		Int("version_number", saved.VersionNumber).
		Msg("version saved")
	return saved, nil
}

// List returns the history of promptID in creation order.
func (s *VersionService) List(ctx context.Context, promptID string) ([]*models.Version, error) {
	if err := ValidatePromptID(promptID); err != nil {
		return nil, err
	}

	versions, err := s.repo.Load(ctx, promptID)
	recordVersionOp("list", err)
	if err != nil {
		return nil, persistenceError("failed to load versions", err)
	}
	return versions, nil
}

// Get returns one version of promptID.
func (s *VersionService) Get(ctx context.Context, promptID, versionID string) (*models.Version, error) {
	versions, err := s.List(ctx, promptID)
	if err != nil {
		return nil, err
	}
	return findVersion(versions, promptID, versionID)
}

// Delete removes one version and renumbers the remaining ones from 1.
func (s *VersionService) Delete(ctx context.Context, promptID, versionID string) error {
	if err := ValidatePromptID(promptID); err != nil {
		return err
	}
	if err := ValidateID(versionID, "version"); err != nil {
		return err
	}

	unlock := s.locks.Lock(promptID)
	defer unlock()

	err := s.withTransaction(ctx, func(ctx context.Context) error {
		versions, err := s.repo.Load(ctx, promptID)
		if err != nil {
			return persistenceError("failed to load versions", err)
		}

		remaining := make([]*models.Version, 0, len(versions))
		for _, v := range versions {
			if v.ID != versionID {
				remaining = append(remaining, v)
			}
		}
		if len(remaining) == len(versions) {
			return notFound(promptID, versionID)
		}
		models.Renumber(remaining)

		if err := s.repo.Store(ctx, promptID, remaining); err != nil {
			return persistenceError("failed to delete version", err)
		}
		return nil
	})
	recordVersionOp("delete", err)
	if err != nil {
		return err
	}

	log.Info().Str("prompt_id", promptID).Str("version_id", versionID).Msg("version deleted")
	return nil
}

// Compare diffs two versions of promptID line by line.
func (s *VersionService) Compare(ctx context.Context, promptID, fromID, toID string) ([]models.DiffEntry, error) {
	if err := ValidateID(fromID, "from version"); err != nil {
		return nil, err
	}
	if err := ValidateID(toID, "to version"); err != nil {
		return nil, err
	}

	versions, err := s.List(ctx, promptID)
	if err != nil {
		return nil, err
	}
	from, err := findVersion(versions, promptID, fromID)
	if err != nil {
		return nil, err
	}
	to, err := findVersion(versions, promptID, toID)
	if err != nil {
		return nil, err
	}
	return prompt.Compare(from, to), nil
}

// PromptIDs lists every prompt id with at least one version.
func (s *VersionService) PromptIDs(ctx context.Context) ([]string, error) {
	ids, err := s.repo.PromptIDs(ctx)
	recordVersionOp("list_prompts", err)
	if err != nil {
		return nil, persistenceError("failed to list prompts", err)
	}
	return ids, nil
}

func (s *VersionService) withTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txManager == nil {
		return fn(ctx)
	}
	return s.txManager.WithTransaction(ctx, fn)
}

func findVersion(versions []*models.Version, promptID, versionID string) (*models.Version, error) {
	for _, v := range versions {
		if v.ID == versionID {
			return v, nil
		}
	}
	return nil, notFound(promptID, versionID)
}

func notFound(promptID, versionID string) error {
	return domain.NewDomainErrorWithCode(domain.ErrNotFound,
		fmt.Sprintf("version %s not found for prompt %s", versionID, promptID), domain.CodeNotFound)
}

func persistenceError(message string, err error) error {
	if errors.Is(err, domain.ErrPersistence) || errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return domain.PersistenceError(message, err)
}

func recordVersionOp(operation string, err error) {
	metrics.VersionOperationsTotal.WithLabelValues(operation, metrics.StatusLabel(err)).Inc()
}

// keyedMutex serializes work per key. Entries are removed once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns the matching unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
