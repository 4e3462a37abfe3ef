package sync

import (
	"context"

	"github.com/kimhsiao/timeaudit/internal/models"
)

// DeliveryOutcome is the result of one delivery attempt.
type DeliveryOutcome string

const (
	// OutcomeDelivered means the remote store accepted the activity.
	OutcomeDelivered DeliveryOutcome = "delivered"
	// OutcomeSavedLocally means the attempt failed and the activity stays
	// queued for a later pass.
	OutcomeSavedLocally DeliveryOutcome = "saved_locally"
	// OutcomeInFlight means another pass already owns the activity.
	OutcomeInFlight DeliveryOutcome = "in_flight"
	// OutcomeSkipped means the activity was no longer syncable when its
	// turn came (confirmed or exhausted meanwhile).
	OutcomeSkipped DeliveryOutcome = "skipped"
)

// Submission tracks the background delivery started by Submit. The activity
// is already durable in the local queue when a Submission is returned.
type Submission struct {
	Activity models.PendingActivity

	done    chan struct{}
	outcome DeliveryOutcome
	err     error
}

func newSubmission(activity models.PendingActivity) *Submission {
	return &Submission{Activity: activity, done: make(chan struct{})}
}

func (s *Submission) finish(outcome DeliveryOutcome, err error) {
	s.outcome = outcome
	s.err = err
	close(s.done)
}

// Done is closed when the delivery attempt has finished.
func (s *Submission) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the delivery attempt finishes or ctx is done. The
// returned error is the remote failure behind OutcomeSavedLocally, or
// ctx.Err() if waiting was abandoned; the activity stays queued either way.
func (s *Submission) Wait(ctx context.Context) (DeliveryOutcome, error) {
	select {
	case <-s.done:
		return s.outcome, s.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
