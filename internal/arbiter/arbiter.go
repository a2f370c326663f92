package arbiter

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/homeflow/internal/device"
)

// DefaultTrustedCapability is the capability trusted to set or clear the
// AI lock when none is configured.
const DefaultTrustedCapability = "device.lock_override"

// Logger defines the logging interface used by the arbiter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Policy is an additional check run after the lock check passes. A policy
// may be slow (for example an external lookup); it runs with only the
// target device's write lock held.
type Policy interface {
	Check(ctx context.Context, current *device.Device, patch device.Patch, src device.Source) error
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(ctx context.Context, current *device.Device, patch device.Patch, src device.Source) error

// Check calls f.
func (f PolicyFunc) Check(ctx context.Context, current *device.Device, patch device.Patch, src device.Source) error {
	return f(ctx, current, patch, src)
}

// Arbiter is the single gatekeeper consulted by device.Store before every
// mutation. It implements device.Authorizer.
type Arbiter struct {
	trusted  string
	policies []Policy
	logger   Logger
}

// New creates an Arbiter that trusts sources holding trustedCapability to
// change the AI lock. An empty capability selects DefaultTrustedCapability.
func New(trustedCapability string, policies ...Policy) *Arbiter {
	if trustedCapability == "" {
		trustedCapability = DefaultTrustedCapability
	}
	return &Arbiter{
		trusted:  trustedCapability,
		policies: policies,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for denial diagnostics.
func (a *Arbiter) SetLogger(l Logger) {
	if l != nil {
		a.logger = l
	}
}

// TrustedCapability returns the capability this arbiter trusts.
func (a *Arbiter) TrustedCapability() string { return a.trusted }

// Authorize decides whether patch may be applied to current on behalf of src.
//
// Rules, in order:
//   - a patch that mentions isLockedByAI needs the trusted capability
//   - a locked device rejects changes to any other property from every
//     source kind, hardware reports included, unless the same patch clears
//     the lock from a trusted source
//   - configured policies run last
//
// Every denial wraps device.ErrLocked.
func (a *Arbiter) Authorize(ctx context.Context, current *device.Device, patch device.Patch, src device.Source) error {
	if current == nil || current.Status == nil {
		return fmt.Errorf("%w: no current state", device.ErrInvalidDevice)
	}

	trusted := src.Has(a.trusted)
	lockValue, touchesLock := patch[device.LockProperty]
	if touchesLock && !trusted {
		a.logger.Warn("lock change denied", "device_id", current.ID, "source", src.String())
		return fmt.Errorf("%w: %s may not change %s", device.ErrLocked, src, device.LockProperty)
	}

	if current.Status.AILocked() {
		changes := device.PatchChanges(current.Status, patch)
		delete(changes, device.LockProperty)
		clearing := touchesLock && lockValue == false
		if len(changes) > 0 && !clearing {
			a.logger.Info("mutation denied by AI lock",
				"device_id", current.ID,
				"source", src.String(),
				"properties", sortedKeys(changes),
			)
			return fmt.Errorf("%w: %s is locked", device.ErrLocked, current.ID)
		}
	}

	for _, p := range a.policies {
		if err := p.Check(ctx, current, patch, src); err != nil {
			if errors.Is(err, device.ErrLocked) {
				return err
			}
			return fmt.Errorf("%w: %w", device.ErrLocked, err)
		}
	}
	return nil
}

func sortedKeys(c device.Changes) []string {
	return device.Patch(c).Keys()
}
