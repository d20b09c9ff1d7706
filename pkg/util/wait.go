package util

import "time"

// WaitTimeout waits for done to close. It reports false if timeout passed first;
// the goroutine behind done is then abandoned, not killed.
func WaitTimeout(done <-chan struct{}, timeout time.Duration) bool {
	if done == nil {
		return true
	}

	if timeout <= 0 {
		<-done
		return true
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
