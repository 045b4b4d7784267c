package layercake

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SweepPolicy controls the stale-processing sweep: a GraphData header can
// be left at status=processing forever if the process executing its node
// crashes between "mark processing" and "persist result" (§4.E step 3).
// There is no lease or heartbeat on that row, so the only safe recovery is
// time-based: anything still processing past StaleAfter is assumed dead.
type SweepPolicy struct {
	StaleAfter time.Duration // default 30 minutes
	DryRun     bool
}

// SweepTarget is one GraphData header the sweep found (or reset).
type SweepTarget struct {
	ID   uuid.UUID
	Name string
	Age  time.Duration
}

// SweepResult reports what the sweep found and, unless DryRun, reset.
type SweepResult struct {
	DryRun       bool
	StaleHeaders []SweepTarget
	TotalReset   int
}

// Sweeper recovers GraphData headers stuck at status=processing after an
// executor crash, the one hole §4.E's per-node pipeline leaves open: a
// crash between runNode's "mark processing" and its terminal write never
// reaches the error-persistence branch, so the row would otherwise never
// leave processing. This mirrors the teacher's dry-run GC reporting shape
// without its session/compression domain.
type Sweeper struct {
	store *Store
	log   *logrus.Logger
}

func NewSweeper(store *Store, log *logrus.Logger) *Sweeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sweeper{store: store, log: log}
}

const querySweepFindStale = `
	SELECT id, name, updated_at FROM graph_data
	WHERE status = 'processing' AND updated_at < $1
	ORDER BY updated_at ASC`

const querySweepReset = `
	UPDATE graph_data
	SET status = 'error', error_message = $2, updated_at = NOW()
	WHERE id = $1 AND status = 'processing'`

// Sweep finds every header stuck at status=processing longer than
// policy.StaleAfter and, unless DryRun, resets it to status=error so a
// later execute_affected_nodes run can retry it.
func (s *Sweeper) Sweep(ctx context.Context, policy SweepPolicy) (*SweepResult, error) {
	if policy.StaleAfter <= 0 {
		policy.StaleAfter = 30 * time.Minute
	}
	cutoff := time.Now().Add(-policy.StaleAfter)

	rows, err := s.store.db.QueryContext(ctx, querySweepFindStale, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := &SweepResult{DryRun: policy.DryRun}
	now := time.Now()
	for rows.Next() {
		var id uuid.UUID
		var name string
		var updatedAt time.Time
		if err := rows.Scan(&id, &name, &updatedAt); err != nil {
			return nil, err
		}
		result.StaleHeaders = append(result.StaleHeaders, SweepTarget{ID: id, Name: name, Age: now.Sub(updatedAt)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if policy.DryRun {
		return result, nil
	}

	for _, target := range result.StaleHeaders {
		res, err := s.store.db.ExecContext(ctx, querySweepReset, target.ID, "sweep: execution abandoned, processing status stale")
		if err != nil {
			s.log.WithError(err).WithField("graph_data_id", target.ID).Warn("sweep: failed to reset stale header")
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			result.TotalReset++
		}
	}
	return result, nil
}
