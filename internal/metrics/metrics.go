// Package metrics publishes worker counters to CloudWatch. Counting is cheap
// and in-process; publishing happens on a ticker so a slow telemetry backend
// never sits on the job processing path.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"

	"github.com/backend-burger/worker/internal/aws"
)

// Counter names.
const (
	Processed   = "JobsProcessed"
	Duplicates  = "DuplicateDeliveries"
	Poison      = "PoisonMessages"
	Failures    = "HandlerFailures"
	DeadDropped = "DeadDropped"
)

// Recorder is what the worker loop increments.
type Recorder interface {
	Inc(name string)
}

// Noop discards all counts; used in tests.
type Noop struct{}

func (Noop) Inc(string) {}

// CloudWatchRecorder buffers counts and flushes them as custom metrics.
type CloudWatchRecorder struct {
	api       aws.CloudWatchAPI
	namespace string
	interval  time.Duration
	logger    zerolog.Logger

	mu     sync.Mutex
	counts map[string]float64
}

// NewCloudWatchRecorder returns a recorder publishing under namespace.
func NewCloudWatchRecorder(api aws.CloudWatchAPI, namespace string, interval time.Duration, logger zerolog.Logger) *CloudWatchRecorder {
	return &CloudWatchRecorder{
		api:       api,
		namespace: namespace,
		interval:  interval,
		logger:    logger,
		counts:    make(map[string]float64),
	}
}

func (r *CloudWatchRecorder) Inc(name string) {
	r.mu.Lock()
	r.counts[name]++
	r.mu.Unlock()
}

// Run flushes on a ticker until ctx is cancelled, then performs a final flush.
func (r *CloudWatchRecorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.flush(flushCtx)
			cancel()
			return
		}
	}
}

func (r *CloudWatchRecorder) flush(ctx context.Context) {
	r.mu.Lock()
	pending := r.counts
	r.counts = make(map[string]float64)
	r.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	now := time.Now().UTC()
	data := make([]cwtypes.MetricDatum, 0, len(pending))
	for name, value := range pending {
		name, value := name, value
		data = append(data, cwtypes.MetricDatum{
			MetricName: &name,
			Value:      &value,
			Timestamp:  &now,
			Unit:       cwtypes.StandardUnitCount,
		})
	}

	_, err := r.api.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &r.namespace,
		MetricData: data,
	})
	if err != nil {
		// dropped counters are tolerated, the flush is not retried
		r.logger.Warn().Err(err).Msg("failed to publish metrics")
	}
}
