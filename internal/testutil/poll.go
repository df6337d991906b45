package testutil

import (
	"errors"
	"time"
)

// PollUntil calls f every 20ms until it reports done, returns an error, or
// the timeout elapses.
func PollUntil(timeout time.Duration, f func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := f()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("timeout")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
