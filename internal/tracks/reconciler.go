package tracks

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/CoachLogLabs/coachlog/backend/internal/blobstore"
	"github.com/CoachLogLabs/coachlog/backend/internal/sport"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RawFileName is the attachment holding the canonical serialized activity.
// Its digest is the fingerprint deciding whether a re-import needs any work.
const RawFileName = "raw"

// ReconcilerConfig describes the dependencies of the track reconciler.
type ReconcilerConfig struct {
	Database *gorm.DB
	Blobs    *blobstore.Store
	Calendar *sport.Calendar
	Logger   *zap.Logger
}

// Reconciler turns one raw provider activity into persistent track state:
// fingerprint check, session attachment, split rebuild and file persistence,
// all inside a single transaction per activity.
type Reconciler struct {
	db       *gorm.DB
	blobs    *blobstore.Store
	calendar *sport.Calendar
	logger   *zap.Logger
}

// NewReconciler constructs the reconciler.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("tracks: database connection required")
	}
	if cfg.Blobs == nil {
		return nil, fmt.Errorf("tracks: blob store required")
	}
	if cfg.Calendar == nil {
		return nil, fmt.Errorf("tracks: calendar required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		db:       cfg.Database,
		blobs:    cfg.Blobs,
		calendar: cfg.Calendar,
		logger:   logger,
	}, nil
}

// ReconcileResult reports the outcome for one activity.
type ReconcileResult struct {
	Track   *Track
	Changed bool
	// Day is the activity's UTC day, set when Changed so callers can collect
	// the months whose aggregate cache needs a rebuild.
	Day time.Time
}

// Reconcile imports or refreshes one activity. When the stored raw fingerprint
// matches the incoming payload nothing is written and Changed is false, which
// is what keeps full-history re-scans cheap. Every write performed for the
// activity commits or rolls back as one unit.
func (r *Reconciler) Reconcile(ctx context.Context, athleteID uint, provider Provider, cache *FileCache, activity Activity) (ReconcileResult, error) {
	if activity.ID == "" {
		return ReconcileResult{}, fmt.Errorf("tracks: activity id required")
	}
	digest := fingerprint(activity.Raw)

	result := ReconcileResult{}
	log := r.logger.With(
		zap.String("provider", provider.Name()),
		zap.String("activity_id", activity.ID),
		zap.Uint("athlete_id", athleteID))

	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var track Track
		err := tx.Preload("Session").
			Where("provider = ? AND provider_id = ?", provider.Name(), activity.ID).
			Take(&track).Error
		switch {
		case err == nil:
			stored, fileErr := r.getFile(tx, track.ID, RawFileName)
			if fileErr != nil {
				return fileErr
			}
			if stored != nil && stored.MD5 == digest {
				log.Debug("activity unchanged, skipping")
				result.Track = &track
				return nil
			}
			log.Info("existing activity needs update")
		case errors.Is(err, gorm.ErrRecordNotFound):
			track = Track{Provider: provider.Name(), ProviderID: activity.ID}
			log.Info("importing new activity")
		default:
			return err
		}

		if track.SimpleLine == "" {
			line, lineErr := provider.BuildLineCoordinates(ctx, cache, activity)
			if lineErr != nil {
				log.Warn("no line geometry for activity", zap.Error(lineErr))
			} else {
				track.SimpleLine = SimplifyLine(line)
			}
		}

		identity, idErr := provider.BuildIdentity(ctx, activity)
		if idErr != nil {
			return &IdentityError{Err: idErr}
		}

		if track.SessionID == 0 {
			session, matchErr := r.calendar.MatchSession(tx, athleteID, identity)
			if matchErr != nil {
				return matchErr
			}
			track.SessionID = session.ID
			track.Session = session
		} else if identity.Name != "" && track.Session != nil && track.Session.Name == "" {
			track.Session.Name = identity.Name
			if err := tx.Model(&sport.SportSession{}).
				Where("id = ?", track.SessionID).
				Update("name", identity.Name).Error; err != nil {
				return err
			}
		}

		if err := tx.Omit(clause.Associations).Save(&track).Error; err != nil {
			return err
		}

		if err := r.addFile(tx, &track, RawFileName, activity.Raw); err != nil {
			return err
		}

		if err := provider.LoadFiles(ctx, cache, activity); err != nil {
			return err
		}
		for name, data := range cache.Files(activity.ID) {
			if err := r.addFile(tx, &track, name, data); err != nil {
				return err
			}
		}

		if err := r.rebuildSplits(tx, provider, cache, activity, &track); err != nil {
			return err
		}

		result.Track = &track
		result.Changed = true
		result.Day = sport.DayOf(identity.Date)
		log.Info("track reconciled", zap.Uint("track_id", track.ID))
		return nil
	})
	if txErr != nil {
		return ReconcileResult{}, txErr
	}
	return result, nil
}

// rebuildSplits discards every stored split and recomputes the list plus the
// synthesized total from the provider's segment data.
func (r *Reconciler) rebuildSplits(tx *gorm.DB, provider Provider, cache *FileCache, activity Activity, track *Track) error {
	if track.SplitTotalID != nil {
		if err := tx.Model(&Track{}).
			Where("id = ?", track.ID).
			Update("split_total_id", nil).Error; err != nil {
			return err
		}
		track.SplitTotalID = nil
	}
	if err := tx.Where("track_id = ?", track.ID).Delete(&TrackSplit{}).Error; err != nil {
		return err
	}

	splits, err := provider.BuildSplits(cache, activity)
	if err != nil {
		return fmt.Errorf("build splits: %w", err)
	}

	total := BuildTotal(splits)
	for i := range splits {
		splits[i].ID = 0
		splits[i].TrackID = track.ID
		if err := tx.Create(&splits[i]).Error; err != nil {
			return err
		}
	}

	total.TrackID = track.ID
	if err := tx.Create(&total).Error; err != nil {
		return err
	}
	track.SplitTotalID = &total.ID
	track.SplitTotal = &total
	return tx.Model(&Track{}).
		Where("id = ?", track.ID).
		Update("split_total_id", total.ID).Error
}

// addFile attaches named bytes to a track, deduplicated by digest: identical
// content is a no-op, different content replaces the previous attachment.
func (r *Reconciler) addFile(tx *gorm.DB, track *Track, name string, data []byte) error {
	if track.ID == 0 {
		return fmt.Errorf("tracks: cannot attach file to unsaved track")
	}
	digest := fingerprint(data)

	existing, err := r.getFile(tx, track.ID, name)
	if err != nil {
		return err
	}
	if existing != nil && existing.MD5 == digest {
		return nil
	}

	if existing == nil {
		record := TrackFile{TrackID: track.ID, Name: name, MD5: digest, Size: int64(len(data))}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
	} else {
		updates := map[string]interface{}{"md5": digest, "size": int64(len(data))}
		if err := tx.Model(&TrackFile{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return err
		}
	}

	return r.blobs.Put(digest, data)
}

// FileData returns the bytes of a named attachment.
func (r *Reconciler) FileData(ctx context.Context, trackID uint, name string) ([]byte, error) {
	file, err := r.getFile(r.db.WithContext(ctx), trackID, name)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, blobstore.ErrBlobNotFound
	}
	return r.blobs.Get(file.MD5)
}

func (r *Reconciler) getFile(tx *gorm.DB, trackID uint, name string) (*TrackFile, error) {
	var file TrackFile
	err := tx.Where("track_id = ? AND name = ?", trackID, name).Take(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// fingerprint returns the hex MD5 of a payload. MD5 matches the digests
// already stored for historical attachments; it is a change detector, not a
// security boundary.
func fingerprint(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
