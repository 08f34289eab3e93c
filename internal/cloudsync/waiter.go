package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/DatanoiseTV/chatstore/internal/remote"
)

// ErrDownloadNeverCurrent is returned when a requested download does not
// become current before the freshness deadline.
var ErrDownloadNeverCurrent = errors.New("download never became current")

// WaitState is the state of a single file's freshness wait.
type WaitState int

const (
	WaitPending     WaitState = iota // download not requested yet
	WaitDownloading                  // requested, polling status
	WaitCurrent                      // local copy is current
	WaitTimedOut                     // deadline passed
)

func (s WaitState) String() string {
	switch s {
	case WaitPending:
		return "pending"
	case WaitDownloading:
		return "downloading"
	case WaitCurrent:
		return "current"
	case WaitTimedOut:
		return "timed-out"
	}
	return fmt.Sprintf("WaitState(%d)", int(s))
}

// waiter drives one file to WaitCurrent or WaitTimedOut.
type waiter struct {
	remote   remote.Store
	timeout  time.Duration
	interval time.Duration
	logger   zerolog.Logger
}

// wait requests a download of p and polls until it is current. Cancelling
// ctx aborts with ctx.Err(); running out of time yields
// ErrDownloadNeverCurrent.
func (w waiter) wait(ctx context.Context, p string) error {
	deadline, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	state := WaitPending
	for {
		switch state {
		case WaitPending:
			if err := w.remote.StartDownload(deadline, p); err != nil {
				return fmt.Errorf("failed to request %s: %w", p, err)
			}
			state = WaitDownloading

		case WaitDownloading:
			status, err := w.remote.DownloadStatus(deadline, p)
			if err != nil {
				return fmt.Errorf("failed to check %s: %w", p, err)
			}
			if status == remote.StatusCurrent {
				state = WaitCurrent
				continue
			}

			select {
			case <-deadline.Done():
				if err := ctx.Err(); err != nil {
					return err
				}
				state = WaitTimedOut
			case <-ticker.C:
				if status == remote.StatusNotDownloaded {
					// The download ended without producing a current copy; ask again.
					state = WaitPending
				}
			}

		case WaitCurrent:
			w.logger.Trace().Str("path", p).Msg("local copy is current")
			return nil

		case WaitTimedOut:
			w.logger.Warn().Str("path", p).Dur("timeout", w.timeout).Msg("gave up waiting for download")
			return fmt.Errorf("%w: %s after %s", ErrDownloadNeverCurrent, p, w.timeout)
		}
	}
}
