package engine

import (
	"github.com/google/uuid"

	"github.com/aqilrvsb/UNMASK-TIK/internal/events"
)

type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemSucceeded  ItemStatus = "succeeded"
	ItemFailed     ItemStatus = "failed"
)

// FailReason classifies a per-order failure. These are recoverable: the run
// records them and moves on to the next order.
type FailReason string

const (
	ReasonNavigation  FailReason = "navigation_failed"
	ReasonNoData      FailReason = "no_data_extracted"
	ReasonStillMasked FailReason = "data_still_masked"
	ReasonPersistence FailReason = "save_failed"
)

// Item is one order to unmask. Terminal once succeeded or failed.
type Item struct {
	OrderID string
	Status  ItemStatus
	Reason  FailReason
}

// Job is the state of one run. Owned exclusively by the engine goroutine;
// everything outside reads it through Status() snapshots.
type Job struct {
	RunID  string
	Items  []*Item
	Cursor int

	Processed int
	Success   int
	Failed    int

	done chan struct{}
}

func newJob(orderIDs []string) *Job {
	items := make([]*Item, len(orderIDs))
	for i, id := range orderIDs {
		items[i] = &Item{OrderID: id, Status: ItemPending}
	}
	return &Job{
		RunID: uuid.New().String(),
		Items: items,
		done:  make(chan struct{}),
	}
}

func (j *Job) counters() events.Counters {
	return events.Counters{
		Processed: j.Processed,
		Total:     len(j.Items),
		Success:   j.Success,
		Failed:    j.Failed,
	}
}
