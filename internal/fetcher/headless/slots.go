package headless

import (
	"context"
	"fmt"
)

// slots caps concurrent browser tabs. A nil channel means unlimited.
type slots chan struct{}

func newSlots(n int) slots {
	if n <= 0 {
		return nil
	}
	return make(slots, n)
}

func (s slots) acquire(ctx context.Context) error {
	if s == nil {
		return nil
	}
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (s slots) release() {
	if s == nil {
		return
	}
	select {
	case <-s:
	default:
	}
}
