package tracks

import (
	"context"
	"fmt"
	"sort"

	"github.com/CoachLogLabs/coachlog/backend/internal/users"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MonthRebuilder recomputes the aggregate cache for one athlete month.
type MonthRebuilder interface {
	Rebuild(ctx context.Context, athleteID uint, year, month int) error
}

// ImporterConfig describes the dependencies of the import orchestrator.
type ImporterConfig struct {
	Reconciler *Reconciler
	Stats      MonthRebuilder
	Logger     *zap.Logger
}

// Importer drives the paginated fetch loop per athlete per provider and keeps
// the touched monthly caches fresh afterwards.
type Importer struct {
	reconciler *Reconciler
	stats      MonthRebuilder
	logger     *zap.Logger
}

// NewImporter constructs the orchestrator.
func NewImporter(cfg ImporterConfig) (*Importer, error) {
	if cfg.Reconciler == nil {
		return nil, fmt.Errorf("tracks: reconciler required")
	}
	if cfg.Stats == nil {
		return nil, fmt.Errorf("tracks: month rebuilder required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{reconciler: cfg.Reconciler, stats: cfg.Stats, logger: logger}, nil
}

type monthKey struct {
	year  int
	month int
}

// ImportAthlete runs one full import for an athlete against one provider.
//
// The loop stops on the first short page (end of the provider's history), or
// on the first page without a single changed track unless full forces a
// complete walk. A page fetch failure ends the loop early but keeps
// everything already committed; per-activity failures only skip that
// activity. An authentication failure aborts the run before any page.
func (im *Importer) ImportAthlete(ctx context.Context, athleteID uint, provider Provider, full bool) error {
	log := im.logger.With(
		zap.String("run_id", uuid.NewString()),
		zap.String("provider", provider.Name()),
		zap.Uint("athlete_id", athleteID),
		zap.Bool("full", full))

	if err := provider.Authenticate(ctx); err != nil {
		authErr := &AuthError{Provider: provider.Name(), Err: err}
		log.Error("import aborted", zap.Error(authErr))
		return authErr
	}

	cache := NewFileCache()
	months := map[monthKey]struct{}{}

	for page := 0; ; page++ {
		activities, err := provider.FetchPage(ctx, page)
		if err != nil {
			fetchErr := &FetchError{Provider: provider.Name(), Page: page, Err: err}
			log.Error("page fetch failed, stopping early", zap.Error(fetchErr))
			break
		}

		changed := 0
		for _, activity := range activities {
			result, err := im.reconciler.Reconcile(ctx, athleteID, provider, cache, activity)
			if err != nil {
				log.Error("activity import failed",
					zap.String("activity_id", activity.ID),
					zap.Error(err))
				continue
			}
			if result.Changed {
				changed++
				day := result.Day
				months[monthKey{year: day.Year(), month: int(day.Month())}] = struct{}{}
			}
		}

		if len(activities) < PageSize {
			log.Info("no more activities to import", zap.Int("page", page))
			break
		}
		if changed == 0 && !full {
			log.Info("no update needed, stopping", zap.Int("page", page))
			break
		}
	}

	im.rebuildMonths(ctx, athleteID, months, log)
	return nil
}

// rebuildMonths refreshes the aggregate cache once per touched month.
// Failures are logged only; the cache is a best-effort recomputation the next
// run repeats anyway.
func (im *Importer) rebuildMonths(ctx context.Context, athleteID uint, months map[monthKey]struct{}, log *zap.Logger) {
	keys := make([]monthKey, 0, len(months))
	for key := range months {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year < keys[j].year
		}
		return keys[i].month < keys[j].month
	})

	for _, key := range keys {
		if err := im.stats.Rebuild(ctx, athleteID, key.year, key.month); err != nil {
			log.Warn("month stats rebuild failed",
				zap.Int("year", key.year),
				zap.Int("month", key.month),
				zap.Error(err))
			continue
		}
		log.Info("month stats refreshed", zap.Int("year", key.year), zap.Int("month", key.month))
	}
}

// ProviderLookup returns the provider adapters available for an athlete.
type ProviderLookup func(athlete users.Athlete) []Provider

// ImportAll fans imports out over premium athletes and their connected
// providers. Runs for different athletes never share calendar or track rows,
// so they execute in parallel up to the worker limit; failures are logged and
// never stop the other runs.
func (im *Importer) ImportAll(ctx context.Context, athletes []users.Athlete, lookup ProviderLookup, full bool, workers int) error {
	if lookup == nil {
		return fmt.Errorf("tracks: provider lookup required")
	}
	if workers <= 0 {
		workers = 1
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for _, athlete := range athletes {
		if !athlete.Premium {
			continue
		}
		for _, provider := range lookup(athlete) {
			athleteID := athlete.ID
			p := provider
			connected, err := p.IsConnected(groupCtx)
			if err != nil {
				im.logger.Warn("connection check failed",
					zap.Uint("athlete_id", athleteID),
					zap.String("provider", p.Name()),
					zap.Error(err))
				continue
			}
			if !connected {
				continue
			}
			group.Go(func() error {
				if err := im.ImportAthlete(groupCtx, athleteID, p, full); err != nil {
					im.logger.Error("scheduled import failed",
						zap.Uint("athlete_id", athleteID),
						zap.String("provider", p.Name()),
						zap.Error(err))
				}
				return nil
			})
		}
	}

	return group.Wait()
}
