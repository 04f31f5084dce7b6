package jobs

import "context"

// Store persists jobs so pending uploads survive a restart.
type Store interface {
	LoadJobs(ctx context.Context) ([]*ConversionJob, error)
	UpsertJob(ctx context.Context, job *ConversionJob) error
	DeleteJob(ctx context.Context, jobID string) error
}
