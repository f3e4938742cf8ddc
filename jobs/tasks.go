package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/quotedesk/quotedesk/internal/jobs"
	"github.com/quotedesk/quotedesk/internal/quotes"
	"github.com/quotedesk/quotedesk/internal/recompute"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskQuotesRecompute re-derives stored totals from stored items.
	TaskQuotesRecompute = "quotes:recompute"
	// TaskFollowupScan opens follow-ups for quotations nearing expiry.
	TaskFollowupScan = "quotes:followup_scan"
)

// RecomputePayload parameterises a recompute run.
type RecomputePayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewRecomputeTask constructs an Asynq task for a full recompute pass.
func NewRecomputeTask(payload RecomputePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQuotesRecompute, data), nil
}

// NewFollowupScanTask constructs an Asynq task for the follow-up scan.
func NewFollowupScanTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskFollowupScan, nil), nil
}

// NewRecomputeHandler processes TaskQuotesRecompute tasks.
func NewRecomputeHandler(svc *recompute.Service, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload RecomputePayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}
		tracker := metrics.Track(TaskQuotesRecompute)
		report, err := svc.Run(ctx)
		if err := tracker.End(err); err != nil {
			return err
		}
		metrics.AddCorrections(report.Corrected)
		logger.Info("recompute task done",
			slog.String("reason", payload.Reason),
			slog.Int("checked", report.Checked),
			slog.Int("corrected", report.Corrected),
			slog.Int("skipped", report.Skipped),
		)
		return nil
	}
}

// NewFollowupScanHandler processes TaskFollowupScan tasks.
func NewFollowupScanHandler(svc *quotes.Service, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		tracker := metrics.Track(TaskFollowupScan)
		created, err := svc.EnsureFollowups(ctx)
		if err := tracker.End(err); err != nil {
			return err
		}
		if created > 0 {
			logger.Info("followup scan created reminders", slog.Int("created", created))
		}
		return nil
	}
}
