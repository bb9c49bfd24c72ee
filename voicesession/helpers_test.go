package voicesession

import (
	"testing"
	"time"

	"go.parley.dev/parley/internal/types"
)

// drain empties buffered entries from an update channel.
func drain(ch <-chan types.TranscriptEntry) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
