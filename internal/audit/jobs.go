package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/cash-audit/internal/anomaly"
	"github.com/dvloznov/cash-audit/internal/jobs"
	"github.com/rs/zerolog"
)

// AnalyzeJobHandler returns a job handler that runs AnalyzeBatchJobs against
// ws. A busy workspace is retried; a missing or replaced batch is not.
func AnalyzeJobHandler(ws *Workspace, classifier anomaly.Classifier, log zerolog.Logger) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		analyzeJob, ok := job.(*jobs.AnalyzeBatchJob)
		if !ok {
			return jobs.Permanent(fmt.Errorf("unexpected job type: %T", job))
		}

		log.Info().
			Str("job_id", analyzeJob.JobID).
			Str("batch_id", analyzeJob.BatchID).
			Msg("Processing analysis job")

		outcome, flagged, err := ws.AnalyzeBatch(ctx, analyzeJob.BatchID, classifier)
		switch {
		case errors.Is(err, ErrNoBatch), errors.Is(err, ErrStaleBatch):
			log.Warn().Err(err).Str("job_id", analyzeJob.JobID).Msg("Analysis job dropped")
			return jobs.Permanent(err)
		case err != nil:
			return err
		}

		analyzeJob.Available = outcome.Available
		analyzeJob.Summary = outcome.Summary
		analyzeJob.FlaggedCount = flagged

		log.Info().
			Str("job_id", analyzeJob.JobID).
			Bool("available", outcome.Available).
			Int("flagged", flagged).
			Msg("Analysis job completed")

		return nil
	}
}
