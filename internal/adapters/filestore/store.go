// Package filestore keeps every prompt's version history in one snapshot file.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/anyhui/aleeai-prompt/internal/domain"
	"github.com/anyhui/aleeai-prompt/internal/domain/models"
	"github.com/anyhui/aleeai-prompt/internal/ports"
)

// Codec names
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

const lockRetryDelay = 20 * time.Millisecond

// snapshot is the persisted file layout.
type snapshot struct {
	SchemaVersion int                          `json:"schema_version" msgpack:"schema_version"`
	Prompts       map[string][]*models.Version `json:"prompts" msgpack:"prompts"`
}

type txKey struct{}

// Store is a ports.VersionRepository backed by a single file.
//
// The file is the only state: every call decodes it again while holding an
// OS lock on a "<path>.lock" sidecar, so processes sharing the path see each
// other's writes. Writes go through a temporary file and a rename, so a crash
// leaves either the old or the new snapshot on disk. WithTransaction holds the
// exclusive lock across a whole read-modify-write.
type Store struct {
	path  string
	codec string

	// mu serializes use of lock within the process; a flock.Flock that is
	// already held returns immediately from a second Lock.
	mu   sync.Mutex
	lock *flock.Flock
}

var (
	_ ports.VersionRepository  = (*Store)(nil)
	_ ports.TransactionManager = (*Store)(nil)
)

// Open checks that the snapshot at path can be decoded. A missing file is an
// empty store. The codec follows the extension: .msgpack or .mpk select
// msgpack, anything else JSON.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, domain.ConfigurationError("version store path is not configured")
	}

	s := &Store{
		path:  path,
		codec: codecFor(path),
		lock:  flock.New(path + ".lock"),
	}

	prompts, err := s.read()
	if err != nil {
		return nil, err
	}

	log.Debug().Str("path", path).Int("prompts", len(prompts)).Msg("version store opened")
	return s, nil
}

func codecFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".msgpack", ".mpk":
		return CodecMsgpack
	}
	return CodecJSON
}

// Path returns the snapshot file location.
func (s *Store) Path() string {
	return s.path
}

// WithTransaction runs fn while holding the exclusive file lock. Load and
// Store calls made with the context passed to fn reuse the held lock.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTransaction(ctx) {
		return fn(ctx)
	}
	return s.withLock(ctx, true, func() error {
		return fn(context.WithValue(ctx, txKey{}, s))
	})
}

// Load returns the stored versions of promptID, decoded from the file.
func (s *Store) Load(ctx context.Context, promptID string) ([]*models.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*models.Version
	err := s.withLock(ctx, false, func() error {
		prompts, err := s.read()
		if err != nil {
			return err
		}
		out = make([]*models.Version, 0, len(prompts[promptID]))
		for _, v := range prompts[promptID] {
			if v == nil {
				continue
			}
			if v.PromptID == "" {
				v.PromptID = promptID
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Store replaces the list of promptID. The file is re-read under the
// exclusive lock so other keys written by other processes are kept.
func (s *Store) Store(ctx context.Context, promptID string, versions []*models.Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.withLock(ctx, true, func() error {
		prompts, err := s.read()
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			delete(prompts, promptID)
		} else {
			list := make([]*models.Version, len(versions))
			for i, v := range versions {
				c := *v
				list[i] = &c
			}
			prompts[promptID] = list
		}
		return s.write(prompts)
	})
}

// PromptIDs lists the stored keys in sorted order.
func (s *Store) PromptIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ids []string
	err := s.withLock(ctx, false, func() error {
		prompts, err := s.read()
		if err != nil {
			return err
		}
		ids = make([]string, 0, len(prompts))
		for id, versions := range prompts {
			if len(versions) > 0 {
				ids = append(ids, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) inTransaction(ctx context.Context) bool {
	held, _ := ctx.Value(txKey{}).(*Store)
	return held == s
}

// withLock runs fn under the sidecar lock, exclusive or shared. Inside a
// transaction of this store the lock is already held.
func (s *Store) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	if s.inTransaction(ctx) {
		return fn()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if !exclusive {
		// Nothing to read and no directory to hold the lock file yet.
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			return fn()
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.PersistenceError("failed to create version store directory", err)
	}

	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = s.lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = s.lock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return domain.PersistenceError("failed to lock version store", err)
	}
	if !locked {
		return domain.PersistenceError("failed to lock version store", nil)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			log.Warn().Err(err).Str("path", s.path).Msg("failed to unlock version store")
		}
	}()

	return fn()
}

// read decodes the snapshot file. A missing or empty file is an empty map.
func (s *Store) read() (map[string][]*models.Version, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string][]*models.Version), nil
	}
	if err != nil {
		return nil, domain.PersistenceError("failed to read version store", err)
	}
	if len(raw) == 0 {
		return make(map[string][]*models.Version), nil
	}

	prompts, err := s.decode(raw)
	if err != nil {
		return nil, err
	}
	if prompts == nil {
		prompts = make(map[string][]*models.Version)
	}
	return prompts, nil
}

func (s *Store) write(prompts map[string][]*models.Version) error {
	snap := snapshot{
		SchemaVersion: models.VersionSchemaVersion,
		Prompts:       prompts,
	}

	raw, err := s.encode(snap)
	if err != nil {
		return domain.PersistenceError("failed to encode version store", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.PersistenceError("failed to create version store directory", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return domain.PersistenceError("failed to create temporary file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return domain.PersistenceError("failed to write version store", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return domain.PersistenceError("failed to sync version store", err)
	}
	if err := tmp.Close(); err != nil {
		return domain.PersistenceError("failed to close version store", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return domain.PersistenceError("failed to replace version store", err)
	}
	return nil
}

func (s *Store) encode(snap snapshot) ([]byte, error) {
	if s.codec == CodecMsgpack {
		return msgpack.Marshal(snap)
	}
	return json.MarshalIndent(snap, "", "  ")
}

// decode accepts the current layout and, for JSON, the unversioned layout
// that maps prompt ids straight to version lists.
func (s *Store) decode(raw []byte) (map[string][]*models.Version, error) {
	if s.codec == CodecMsgpack {
		var snap snapshot
		if err := msgpack.Unmarshal(raw, &snap); err != nil {
			return nil, domain.PersistenceError("failed to decode version store", err)
		}
		return checkSchema(snap)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, domain.PersistenceError("failed to decode version store", err)
	}
	if _, ok := probe["schema_version"]; ok {
		var snap snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, domain.PersistenceError("failed to decode version store", err)
		}
		return checkSchema(snap)
	}

	legacy := make(map[string][]*models.Version, len(probe))
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, domain.PersistenceError("failed to decode unversioned version store", err)
	}
	for promptID, versions := range legacy {
		versions = slices.DeleteFunc(versions, func(v *models.Version) bool { return v == nil })
		models.Renumber(versions)
		legacy[promptID] = versions
	}
	log.Debug().Str("path", s.path).Int("prompts", len(legacy)).Msg("read unversioned version store")
	return legacy, nil
}

func checkSchema(snap snapshot) (map[string][]*models.Version, error) {
	if snap.SchemaVersion > models.VersionSchemaVersion {
		return nil, domain.PersistenceError(
			fmt.Sprintf("version store schema %d is newer than supported %d", snap.SchemaVersion, models.VersionSchemaVersion), nil)
	}
	return snap.Prompts, nil
}
