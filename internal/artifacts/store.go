// Package artifacts owns the versioned artifact registry: append-only
// version chains per (job, type, role), the draft/approved/frozen promotion
// lifecycle, and the structural diff between versions.
package artifacts

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/interfaces"
	"github.com/ternarybob/maestro/internal/models"
	"github.com/ternarybob/maestro/internal/services/events"
)

// Store coordinates artifact registration and promotion. All mutations of a
// version chain run under that chain's lock so version numbers stay
// monotonic and exactly one row is current.
type Store struct {
	storage interfaces.ArtifactStorage
	audit   interfaces.AuditStorage
	events  interfaces.EventService
	logger  arbor.ILogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates the artifact store.
func NewStore(storage interfaces.ArtifactStorage, audit interfaces.AuditStorage, events interfaces.EventService, logger arbor.ILogger) *Store {
	return &Store{
		storage: storage,
		audit:   audit,
		events:  events,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Store) chainLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// Register files a new artifact version. A first registration for the
// (job, type, role) key starts the chain at version 1; later registrations
// supersede the current version, which loses its current flag and becomes
// the parent. A chain whose current version is frozen cannot be superseded.
func (s *Store) Register(ctx context.Context, artifact *models.Artifact) (*models.Artifact, error) {
	if !artifact.Type.IsValid() {
		return nil, common.NewError(common.KindValidation, "invalid artifact type %q", artifact.Type)
	}
	if !models.ValidRole(artifact.Role) {
		return nil, common.NewError(common.KindValidation, "invalid artifact role %q", artifact.Role)
	}

	lock := s.chainLock(artifact.VersionKey())
	lock.Lock()
	defer lock.Unlock()

	current, err := s.storage.GetCurrent(ctx, artifact.JobID, artifact.Type, artifact.Role)
	switch {
	case err == nil:
		if current.Status == models.ArtifactStatusFrozen {
			return nil, common.NewError(common.KindConflict,
				"artifact %s/%s/%s is frozen and cannot be superseded", artifact.JobID, artifact.Type, artifact.Role)
		}
		artifact.Version = current.Version + 1
		artifact.ParentArtifactID = current.ID

		current.IsCurrent = false
		if err := s.storage.SaveArtifact(ctx, current); err != nil {
			return nil, err
		}
	case common.KindOf(err) == common.KindNotFound:
		artifact.Version = 1
		artifact.ParentArtifactID = ""
	default:
		return nil, err
	}

	artifact.IsCurrent = true
	artifact.Status = models.ArtifactStatusDraft
	if err := s.storage.SaveArtifact(ctx, artifact); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("job_id", artifact.JobID).
		Str("type", string(artifact.Type)).
		Str("role", artifact.Role).
		Int("version", artifact.Version).
		Msg("Artifact version registered")

	return artifact, nil
}

// Promote advances one artifact a single step through
// draft -> approved -> frozen. Skipping a step, moving backwards, and
// freezing a second version of the same chain are all conflicts. Every
// successful promotion writes an audit entry.
func (s *Store) Promote(ctx context.Context, artifactID string, target models.ArtifactStatus, actor string) (*models.Artifact, error) {
	artifact, err := s.storage.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	lock := s.chainLock(artifact.VersionKey())
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a concurrent promotion may have advanced it.
	artifact, err = s.storage.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	from := artifact.Status
	if !validPromotion(from, target) {
		return nil, common.NewError(common.KindConflict,
			"cannot promote artifact %s from %s to %s", artifactID, from, target)
	}

	if target == models.ArtifactStatusFrozen {
		versions, err := s.storage.GetVersions(ctx, artifact.JobID, artifact.Type, artifact.Role)
		if err != nil {
			return nil, err
		}
		for _, v := range versions {
			if v.Status == models.ArtifactStatusFrozen {
				return nil, common.NewError(common.KindConflict,
					"artifact chain %s already has frozen version %d", artifact.VersionKey(), v.Version)
			}
		}
		now := time.Now()
		artifact.FrozenAt = &now
	}

	artifact.Status = target
	if err := s.storage.SaveArtifact(ctx, artifact); err != nil {
		return nil, err
	}

	entry := models.NewAuditEntry(artifact.JobID, artifact.ID, actor, from, target)
	if err := s.audit.SaveAuditEntry(ctx, entry); err != nil {
		return nil, err
	}

	if s.events != nil {
		s.events.Publish(ctx, interfaces.Event{
			Type: interfaces.EventArtifactPromoted,
			Payload: events.ArtifactEventPayload{
				JobID:      artifact.JobID,
				ArtifactID: artifact.ID,
				Type:       string(artifact.Type),
				Role:       artifact.Role,
				Version:    artifact.Version,
				FromStatus: string(from),
				ToStatus:   string(target),
				Timestamp:  time.Now(),
			},
		})
	}

	s.logger.Info().
		Str("artifact_id", artifact.ID).
		Str("from", string(from)).
		Str("to", string(target)).
		Str("actor", actor).
		Msg("Artifact promoted")

	return artifact, nil
}

// Versions lists the chain for (job, type, role), oldest first.
func (s *Store) Versions(ctx context.Context, jobID string, artifactType models.ArtifactType, role string) ([]*models.Artifact, error) {
	if !artifactType.IsValid() {
		return nil, common.NewError(common.KindValidation, "invalid artifact type %q", artifactType)
	}
	return s.storage.GetVersions(ctx, jobID, artifactType, role)
}

// Get fetches one artifact by id.
func (s *Store) Get(ctx context.Context, id string) (*models.Artifact, error) {
	return s.storage.GetArtifact(ctx, id)
}

func validPromotion(from, to models.ArtifactStatus) bool {
	switch from {
	case models.ArtifactStatusDraft:
		return to == models.ArtifactStatusApproved
	case models.ArtifactStatusApproved:
		return to == models.ArtifactStatusFrozen
	}
	return false
}
