// README: simulation_jobs persistence. Status transitions go through a
// single UPDATE each, so two runners racing on the same job id just
// overwrite each other's terminal state instead of corrupting it — job ids
// are caller-generated and never reused.
package montecarlo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ark/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) CreateJob(ctx context.Context, j *Job) error {
	scenario, err := json.Marshal(j.Scenario)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
        INSERT INTO simulation_jobs (job_id, service_date, scenario, status, run_count)
        VALUES ($1, $2, $3, $4, $5)`,
		string(j.JobID), j.ServiceDate, scenario, string(j.Status), j.RunCount)
	return err
}

func (s *Store) MarkRunning(ctx context.Context, jobID types.JobID, startedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
        UPDATE simulation_jobs SET status = $1, started_at = $2 WHERE job_id = $3`,
		string(JobRunning), startedAt, string(jobID))
	return err
}

func (s *Store) MarkCompleted(ctx context.Context, jobID types.JobID, results *Summary, completedAt time.Time) error {
	data, err := json.Marshal(results)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
        UPDATE simulation_jobs SET status = $1, results = $2, completed_at = $3 WHERE job_id = $4`,
		string(JobCompleted), data, completedAt, string(jobID))
	return err
}

func (s *Store) MarkFailed(ctx context.Context, jobID types.JobID, errMsg string, completedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
        UPDATE simulation_jobs SET status = $1, error = $2, completed_at = $3 WHERE job_id = $4`,
		string(JobFailed), errMsg, completedAt, string(jobID))
	return err
}

func (s *Store) GetJob(ctx context.Context, jobID types.JobID) (*Job, error) {
	row := s.db.QueryRow(ctx, `
        SELECT job_id, service_date, scenario, status, run_count, results, error, started_at, completed_at
        FROM simulation_jobs WHERE job_id = $1`, string(jobID))

	var j Job
	var jobID2, status string
	var scenario, results []byte
	var errMsg *string
	if err := row.Scan(&jobID2, &j.ServiceDate, &scenario, &status, &j.RunCount, &results, &errMsg,
		&j.StartedAt, &j.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	j.JobID = types.JobID(jobID2)
	j.Status = JobStatus(status)
	if errMsg != nil {
		j.Error = *errMsg
	}
	if len(scenario) > 0 {
		if err := json.Unmarshal(scenario, &j.Scenario); err != nil {
			return nil, err
		}
	}
	if len(results) > 0 {
		var summary Summary
		if err := json.Unmarshal(results, &summary); err != nil {
			return nil, err
		}
		j.Results = &summary
	}
	return &j, nil
}
