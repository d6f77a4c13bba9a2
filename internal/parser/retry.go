package parser

import (
	"context"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// openRetryAttempts caps the exponential backoff schedule to 3 attempts
// (1s, 2s, 4s) — instrument dumps are occasionally mid-write
// when the watcher's poll tick catches them, and a short retry window
// clears that without stalling the scan loop for long.
const openRetryAttempts = 3

// OpenWithRetry opens path with an exponential backoff retry schedule
// (initial 1s, factor 2, max 3 attempts) to ride out a file still being
// written by the instrument or the network share.
func OpenWithRetry(ctx context.Context, path string) (*os.File, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 1 * time.Second
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0

	bounded := backoff.WithMaxRetries(policy, openRetryAttempts-1)

	var f *os.File

	operation := func() error {
		opened, err := os.Open(path)
		if err != nil {
			return err
		}

		f = opened

		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bounded, ctx)); err != nil {
		return nil, err
	}

	return f, nil
}
