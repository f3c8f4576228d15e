// Package adapter exposes zerobuffer endpoints to external monitoring systems.
package adapter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/heptiolabs/healthcheck"

	"github.com/srediag/zerobuffer/api"
	"github.com/srediag/zerobuffer/pkg/shm"
)

// DefaultCheckTimeout bounds each health check.
const DefaultCheckTimeout = time.Second

// ErrPeerGone is reported by the liveness check once the peer process has exited.
var ErrPeerGone = errors.New("peer process is not alive")

// NewHealthHandler returns a healthcheck handler serving /live and /ready for
// a buffer endpoint. Liveness fails while no live peer process is attached, readiness
// fails when the OIEB has validation errors.
func NewHealthHandler(h api.Health, i api.Inspector) healthcheck.Handler {
	handler := healthcheck.NewHandler()
	AddChecks(handler, h, i, DefaultCheckTimeout)
	return handler
}

// AddChecks registers the buffer checks on an existing handler, so that one
// process can serve the checks of several buffers.
func AddChecks(handler healthcheck.Handler, h api.Health, i api.Inspector, timeout time.Duration) {
	name := i.Name()
	handler.AddLivenessCheck(name+"-peer-process", healthcheck.Timeout(PeerCheck(h), timeout))
	handler.AddReadinessCheck(name+"-oieb", healthcheck.Timeout(OIEBCheck(i), timeout))
}

// PeerCheck fails once the peer process of h has exited.
func PeerCheck(h api.Health) healthcheck.Check {
	return func() error {
		if !h.PeerAlive() {
			return ErrPeerGone
		}
		return nil
	}
}

// snapshotAttempts is how many consecutive snapshots must show an error
// before OIEBCheck fails.
const snapshotAttempts = 3

// OIEBCheck fails when the control block of i has validation errors.
// Warnings do not fail the check. A live snapshot is not a consistent cut,
// since the writer and reader update fields one at a time, so an error must
// persist across consecutive snapshots.
func OIEBCheck(i api.Inspector) healthcheck.Check {
	return func() error {
		var problems []shm.Problem
		for attempt := 0; attempt < snapshotAttempts; attempt++ {
			if attempt > 0 {
				time.Sleep(time.Millisecond)
			}
			problems = i.Snapshot().Validate()
			if !shm.HasErrors(problems) {
				return nil
			}
		}
		var msgs []string
		for _, p := range problems {
			if p.Severity == shm.SeverityError {
				msgs = append(msgs, p.String())
			}
		}
		return fmt.Errorf("%w: %s", shm.ErrCorrupted, strings.Join(msgs, "; "))
	}
}
