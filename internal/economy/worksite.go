package economy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/halcyon-sim/agora/internal/events"
	"github.com/halcyon-sim/agora/internal/store"
)

// WorkSite manages jobs and daily check-ins. One check-in per agent
// per UTC calendar day, across all jobs.
type WorkSite struct {
	store *store.Store
	bus   events.Sink
	now   func() time.Time
}

// NewWorkSite creates the work site service.
func NewWorkSite(st *store.Store, bus events.Sink) *WorkSite {
	return &WorkSite{store: st, bus: bus, now: time.Now}
}

// JobView is a job plus today's headcount.
type JobView struct {
	Job
	TodayWorkers int `db:"today_workers" json:"today_workers"`
}

// Jobs lists all jobs with the number of agents checked in today.
func (w *WorkSite) Jobs(ctx context.Context) ([]JobView, error) {
	day := utcDay(w.now())
	var out []JobView
	err := w.store.DB().SelectContext(ctx, &out, `
		SELECT j.*, COALESCE(c.n, 0) AS today_workers
		FROM jobs j
		LEFT JOIN (
			SELECT job_id, COUNT(*) AS n FROM checkins WHERE day = ? GROUP BY job_id
		) c ON c.job_id = j.id
		ORDER BY j.id`, day)
	return out, err
}

// CheckInResult is the outcome of CheckIn.
type CheckInResult struct {
	Outcome
	CheckInID int64 `json:"checkin_id,omitempty"`
	Reward    int   `json:"reward"`
}

// CheckIn records today's attendance and pays the job's daily reward.
// The uniqueness check and the capacity check use the same UTC "today"
// so a client's timezone can never skew one against the other; the
// UNIQUE(agent_id, day) index is the backstop under concurrency.
func (w *WorkSite) CheckIn(ctx context.Context, agentID, jobID int64) (CheckInResult, error) {
	day := utcDay(w.now())
	var (
		checkinID int64
		reward    int
	)
	err := w.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		agent, err := agentByID(tx, agentID)
		if err != nil {
			return err
		}
		if agent == nil {
			return failTx(ReasonAgentNotFound)
		}

		var job Job
		err = tx.Get(&job, "SELECT * FROM jobs WHERE id = ?", jobID)
		if errors.Is(err, sql.ErrNoRows) {
			return failTx(ReasonJobNotFound)
		}
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}

		// Any job counts: one check-in per agent per day.
		var existing int
		if err := tx.Get(&existing,
			"SELECT COUNT(*) FROM checkins WHERE agent_id = ? AND day = ?",
			agentID, day); err != nil {
			return err
		}
		if existing > 0 {
			return failTx(ReasonAlreadyCheckedIn)
		}

		// Capacity (max_workers = 0 means unlimited).
		if job.MaxWorkers > 0 {
			var count int
			if err := tx.Get(&count,
				"SELECT COUNT(*) FROM checkins WHERE job_id = ? AND day = ?",
				jobID, day); err != nil {
				return err
			}
			if count >= job.MaxWorkers {
				return failTx(ReasonJobFull)
			}
		}

		res, err := tx.Exec(
			"INSERT INTO checkins (agent_id, job_id, reward, day) VALUES (?, ?, ?, ?)",
			agentID, jobID, job.DailyReward, day)
		if store.IsUniqueViolation(err) {
			// Concurrent duplicate lost the race.
			return failTx(ReasonAlreadyCheckedIn)
		}
		if err != nil {
			return fmt.Errorf("insert checkin: %w", err)
		}
		checkinID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		reward = job.DailyReward
		return creditEntry(tx, agentID, CreditType, float64(job.DailyReward))
	})
	out, err, done := asOutcome(err)
	if !done || !out.OK {
		return CheckInResult{Outcome: out}, err
	}
	w.bus.Publish(events.New("checkin", map[string]any{
		"agent_id":   agentID,
		"job_id":     jobID,
		"checkin_id": checkinID,
		"reward":     reward,
		"day":        day,
	}))
	return CheckInResult{Outcome: Ok(), CheckInID: checkinID, Reward: reward}, nil
}

// TodayCheckIn returns the agent's check-in for the current UTC day,
// or nil if there is none. Pure read.
func (w *WorkSite) TodayCheckIn(ctx context.Context, agentID int64) (*CheckIn, error) {
	day := utcDay(w.now())
	var c CheckIn
	err := w.store.DB().GetContext(ctx, &c,
		"SELECT * FROM checkins WHERE agent_id = ? AND day = ? LIMIT 1", agentID, day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// History returns the agent's check-ins from the last N days,
// newest first. Pure read.
func (w *WorkSite) History(ctx context.Context, agentID int64, days int) ([]CheckIn, error) {
	if days <= 0 {
		days = 7
	}
	since := utcDay(w.now().AddDate(0, 0, -days))
	var out []CheckIn
	err := w.store.DB().SelectContext(ctx, &out,
		"SELECT * FROM checkins WHERE agent_id = ? AND day >= ? ORDER BY checked_at DESC",
		agentID, since)
	return out, err
}
