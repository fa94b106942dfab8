package sport

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MatchSession attaches an imported activity identity to the best calendar
// session of its day, creating one when no candidate exists. Candidates are
// compared on normalized duration and distance differences; a candidate
// missing either figure has its score doubled so full information is never
// beaten by partial information at equal distance. The lowest score wins and
// ties keep the first candidate in primary-key order.
//
// Every visited candidate with an empty name gets the identity's name, not
// only the winner. This mirrors years of already-imported data and is kept
// deliberately.
func (c *Calendar) MatchSession(tx *gorm.DB, athleteID uint, identity Identity) (*SportSession, error) {
	if identity.Sport == nil {
		return nil, fmt.Errorf("sport: identity sport required")
	}
	category := identity.Sport.Category()

	day, err := c.FindOrCreateDayFor(tx, athleteID, identity.Date)
	if err != nil {
		return nil, err
	}

	candidates, err := c.UnmatchedSessions(tx, day, category)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		session, err := c.CreateSession(tx, day, category, identity)
		if err != nil {
			return nil, err
		}
		c.logger.Info("created session for imported activity",
			zap.Uint("athlete_id", athleteID),
			zap.String("sport", category.Slug),
			zap.Time("day", day.Date))
		return session, nil
	}

	var best *SportSession
	bestScore := math.Inf(1)
	for i := range candidates {
		candidate := &candidates[i]
		score := scoreCandidate(candidate, identity)
		if score < bestScore {
			bestScore = score
			best = candidate
		}

		if identity.Name != "" && candidate.Name == "" {
			candidate.Name = identity.Name
			if err := tx.Model(&SportSession{}).
				Where("id = ?", candidate.ID).
				Update("name", identity.Name).Error; err != nil {
				return nil, err
			}
		}
	}

	c.logger.Debug("matched session",
		zap.Uint("athlete_id", athleteID),
		zap.Uint("session_id", best.ID),
		zap.Float64("score", bestScore))
	return best, nil
}

// scoreCandidate computes the similarity score between a calendar session and
// an activity identity. Lower is better.
func scoreCandidate(candidate *SportSession, identity Identity) float64 {
	var ratioTime, ratioDistance *float64

	if candidate.DurationSeconds != nil && *candidate.DurationSeconds != 0 && identity.Duration != 0 {
		seconds := identity.Duration.Seconds()
		r := math.Abs(float64(*candidate.DurationSeconds)-seconds) / seconds
		ratioTime = &r
	}
	if candidate.DistanceKm != nil && *candidate.DistanceKm != 0 && identity.Distance != 0 {
		r := math.Abs(*candidate.DistanceKm-identity.Distance) / identity.Distance
		ratioDistance = &r
	}

	score := 0.0
	if ratioTime != nil {
		score += *ratioTime
	}
	if ratioDistance != nil {
		score += *ratioDistance
	}
	if ratioTime == nil || ratioDistance == nil {
		score *= 2
	}
	return score
}
