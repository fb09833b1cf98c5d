package agent

import (
	"fmt"

	"github.com/studycircle/studycircle/internal/fault"
	"github.com/studycircle/studycircle/internal/storage"
)

// ListThreads returns the caller's active threads, most recent first.
func (o *Orchestrator) ListThreads(userID string, limit int) ([]storage.Thread, error) {
	return o.store.ListThreads(userID, limit)
}

// ThreadMessages returns a thread's message log. The caller must own the
// thread; soft-deleted threads remain readable by their owner.
func (o *Orchestrator) ThreadMessages(userID, threadID string) ([]storage.Message, error) {
	thread, err := o.store.GetThread(threadID)
	if err != nil {
		return nil, err
	}
	if thread.OwnerID != userID {
		return nil, fmt.Errorf("%w: thread %s", fault.ErrPermissionDenied, threadID)
	}
	return o.store.ListMessages(threadID)
}

// DeleteThread soft-deletes a thread: it disappears from listings but stays
// fetchable by id. Only the owner may delete.
func (o *Orchestrator) DeleteThread(userID, threadID string) error {
	thread, err := o.store.GetThread(threadID)
	if err != nil {
		return err
	}
	if thread.OwnerID != userID {
		return fmt.Errorf("%w: thread %s", fault.ErrPermissionDenied, threadID)
	}
	return o.store.SetThreadInactive(threadID)
}

// SubmitFeedback records a 1–5 score (and optional text) on a message.
// Re-submission overwrites the prior feedback. A thread the caller does not
// own reads as missing, so feedback probing cannot confirm foreign thread
// ids.
func (o *Orchestrator) SubmitFeedback(userID, threadID, messageID string, score int, text string) error {
	if score < 1 || score > 5 {
		return fmt.Errorf("%w: score must be between 1 and 5, got %d", fault.ErrInvalidArgument, score)
	}

	thread, err := o.store.GetThread(threadID)
	if err != nil {
		return err
	}
	if thread.OwnerID != userID {
		return fmt.Errorf("%w: thread %s", fault.ErrNotFound, threadID)
	}

	if err := o.store.SetFeedback(threadID, messageID, score, text); err != nil {
		return err
	}
	o.logger.Debug("feedback recorded", "thread", threadID, "message", messageID, "score", score)
	return nil
}
