package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// RetentionPolicy controls analysis cleanup. Zero fields disable the
// corresponding rule.
type RetentionPolicy struct {
	KeepLast int
	KeepDays int
}

// PruneResult summarizes a prune operation.
type PruneResult struct {
	Considered int
	Kept       int
	Deleted    int
	// IDs lists the deleted analyses, or with a dry run the ones that would
	// be deleted.
	IDs []string
}

// Prune deletes analyses outside the retention policy. An analysis is kept
// when it is among the KeepLast newest or younger than KeepDays. With dryRun
// nothing is deleted.
func (s *Store) Prune(ctx context.Context, policy RetentionPolicy, dryRun bool) (PruneResult, error) {
	if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
		return PruneResult{}, nil
	}
	cutoff := time.Time{}
	if policy.KeepDays > 0 {
		cutoff = time.Now().UTC().Add(-time.Duration(policy.KeepDays) * 24 * time.Hour)
	}

	summaries, err := s.List(ctx, 0)
	if err != nil {
		return PruneResult{}, err
	}

	res := PruneResult{Considered: len(summaries)}
	var doomed []string
	for idx, sum := range summaries {
		keep := false
		if policy.KeepLast > 0 && idx < policy.KeepLast {
			keep = true
		}
		if !keep && policy.KeepDays > 0 && (sum.CreatedAt.IsZero() || sum.CreatedAt.After(cutoff)) {
			keep = true
		}
		if keep {
			res.Kept++
			continue
		}
		doomed = append(doomed, sum.ID)
	}
	res.IDs = doomed
	if dryRun || len(doomed) == 0 {
		res.Deleted = len(doomed)
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return res, fmt.Errorf("begin prune: %w", err)
	}
	for _, id := range doomed {
		if err := deleteAnalysis(ctx, tx, id); err != nil {
			_ = tx.Rollback()
			return res, err
		}
	}
	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit prune: %w", err)
	}
	res.Deleted = len(doomed)
	log.Info().Int("deleted", res.Deleted).Int("kept", res.Kept).Msg("pruned analyses")
	return res, nil
}
