package jobs

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hibiken/asynq"
)

const (
	TaskWarmCache = "cache:warm"
	QueueWarm     = "warm"
)

// WarmCachePayload holds no per-run data because asynq.Unique compares
// payloads. The task id serves as the run id.
type WarmCachePayload struct {
	Lists []string `json:"lists,omitempty"`
	Pages int      `json:"pages,omitempty"`
}

// NewWarmCacheTask builds a warm task. An empty list set warms every known
// list.
func NewWarmCacheTask(p WarmCachePayload, opts ...asynq.Option) (*asynq.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal warm payload: %w", err)
	}
	opts = append([]asynq.Option{
		asynq.Queue(QueueWarm),
		asynq.MaxRetry(3),
		asynq.Timeout(5 * time.Minute),
	}, opts...)
	return asynq.NewTask(TaskWarmCache, payload, opts...), nil
}

// Validate rejects unknown lists and out of range page counts
func (p WarmCachePayload) Validate() error {
	if p.Pages < 0 || p.Pages > MaxWarmPages {
		return fmt.Errorf("pages must be between 0-%d, got %d", MaxWarmPages, p.Pages)
	}
	for _, l := range p.Lists {
		if _, ok := warmTargets[l]; !ok {
			return fmt.Errorf("unknown list %q", l)
		}
	}
	return nil
}
