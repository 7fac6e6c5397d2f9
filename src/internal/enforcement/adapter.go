package enforcement

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"hotspot-captive-svc/src/internal/config"
	"hotspot-captive-svc/src/internal/models"

	"github.com/sirupsen/logrus"
)

// Runner executes one policy-tool invocation. Production uses exec; tests
// substitute a recorder.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Adapter programs the host packet filter. Grant and Revoke are idempotent
// with respect to rule presence; calls for the same MAC must be serialized
// by the caller since iptables has no transactional semantics.
type Adapter interface {
	Grant(ctx context.Context, mac string, quotaMB int64) error
	Revoke(ctx context.Context, mac string, quotaMB int64) error
}

type iptablesAdapter struct {
	runner Runner
	binary string
	chain  string
}

// NewAdapter returns an iptables-backed Adapter.
func NewAdapter(cfg *config.EnforcementConfig) Adapter {
	return &iptablesAdapter{
		runner: execRunner{},
		binary: cfg.Binary,
		chain:  cfg.Chain,
	}
}

// NewAdapterWithRunner is used by tests to capture invocations.
func NewAdapterWithRunner(cfg *config.EnforcementConfig, runner Runner) Adapter {
	return &iptablesAdapter{
		runner: runner,
		binary: cfg.Binary,
		chain:  cfg.Chain,
	}
}

// Grant opens forwarding for mac up to quotaMB, then blocks. The quota
// ACCEPT is inserted at the head so it is evaluated before the appended
// fallback DROP; under-quota traffic passes, over-quota traffic falls
// through to the DROP.
func (a *iptablesAdapter) Grant(ctx context.Context, mac string, quotaMB int64) error {
	// A stale block rule from an earlier session must not shadow the new
	// quota rule. Absence is fine.
	if out, err := a.runner.Run(ctx, a.binary, a.dropArgs("-D", mac)...); err != nil {
		logrus.WithFields(logrus.Fields{
			"mac":    mac,
			"output": string(out),
		}).Debug("No stale block rule to remove")
	}

	if out, err := a.runner.Run(ctx, a.binary, a.quotaArgs("-I", mac, quotaMB)...); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"mac":    mac,
			"output": string(out),
		}).Error("Failed to insert quota accept rule")
		return fmt.Errorf("%w: insert quota rule: %v", models.ErrEnforcementFailed, err)
	}

	if out, err := a.runner.Run(ctx, a.binary, a.dropArgs("-A", mac)...); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"mac":    mac,
			"output": string(out),
		}).Error("Failed to append fallback block rule")
		return fmt.Errorf("%w: append block rule: %v", models.ErrEnforcementFailed, err)
	}

	logrus.WithFields(logrus.Fields{
		"mac":      mac,
		"quota_mb": quotaMB,
	}).Info("Internet access granted")
	return nil
}

// Revoke tears down the session rules and leaves mac unconditionally
// blocked. Deletions tolerate "rule not found"; only the final block insert
// is a hard failure.
func (a *iptablesAdapter) Revoke(ctx context.Context, mac string, quotaMB int64) error {
	if out, err := a.runner.Run(ctx, a.binary, a.quotaArgs("-D", mac, quotaMB)...); err != nil {
		logrus.WithFields(logrus.Fields{
			"mac":    mac,
			"output": string(out),
		}).Debug("No quota accept rule to remove")
	}

	if out, err := a.runner.Run(ctx, a.binary, a.dropArgs("-D", mac)...); err != nil {
		logrus.WithFields(logrus.Fields{
			"mac":    mac,
			"output": string(out),
		}).Debug("No block rule to remove")
	}

	if out, err := a.runner.Run(ctx, a.binary, a.dropArgs("-I", mac)...); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"mac":    mac,
			"output": string(out),
		}).Error("Failed to insert block rule")
		return fmt.Errorf("%w: insert block rule: %v", models.ErrEnforcementFailed, err)
	}

	logrus.WithField("mac", mac).Info("Internet access revoked")
	return nil
}

func (a *iptablesAdapter) dropArgs(op, mac string) []string {
	return []string{op, a.chain, "-m", "mac", "--mac-source", mac, "-j", "DROP"}
}

func (a *iptablesAdapter) quotaArgs(op, mac string, quotaMB int64) []string {
	quotaBytes := strconv.FormatInt(quotaMB*1024*1024, 10)
	return []string{op, a.chain, "-m", "mac", "--mac-source", mac, "-m", "quota", "--quota", quotaBytes, "-j", "ACCEPT"}
}
