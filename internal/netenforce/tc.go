// Package netenforce implements the network-plane enforcer: it drives the
// Linux tc/HTB/netem kernel surface to reconcile per-device bandwidth,
// latency, and priority policies, and parses tc's text output back into
// structured state.
package netenforce

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes a tc invocation and returns its stdout/stderr. It exists
// so Enforcer can be driven by a fake in tests instead of the real binary.
type Runner interface {
	Run(ctx context.Context, args ...string) (stdout, stderr string, err error)
}

// RealRunner shells out to the configured tc binary. A tc invocation is a
// short synchronous command, unlike a long-lived subprocess: exec.CommandContext's
// built-in kill-on-cancel is sufficient and a SIGTERM-then-SIGKILL escalation
// would be overkill.
type RealRunner struct {
	Binary  string
	Timeout time.Duration
}

// NewRealRunner returns a Runner invoking binary with a per-call timeout.
func NewRealRunner(binary string, timeout time.Duration) *RealRunner {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RealRunner{Binary: binary, Timeout: timeout}
}

func (r *RealRunner) Run(ctx context.Context, args ...string) (string, string, error) {
	cctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, r.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if cctx.Err() == context.DeadlineExceeded {
		return stdout.String(), stderr.String(), fmt.Errorf("tc %s: timed out after %s", strings.Join(args, " "), r.Timeout)
	}
	return stdout.String(), stderr.String(), err
}

// expectedNoopSubstrings classify a failing tc invocation as an absorbed
// no-op rather than a real error: deleting something already gone, or
// "change" failing because the object doesn't exist yet. Matching is
// case-insensitive substring, mirroring the kernel tool's habit of varying
// punctuation/wording across versions.
var expectedNoopSubstrings = []string{
	"no such file or directory",
	"cannot find device",
	"failed to find specified",
	"invalid handle",
	"rtnetlink answers: no such file or directory",
	"cannot delete qdisc with handle of zero",
}

func isExpectedNoop(stderr string) bool {
	low := strings.ToLower(stderr)
	for _, s := range expectedNoopSubstrings {
		if strings.Contains(low, s) {
			return true
		}
	}
	return false
}

// alreadyExistsSubstrings classify a failing "add" as benign: the object
// was already created by a previous apply.
var alreadyExistsSubstrings = []string{
	"file exists",
	"rtnetlink answers: file exists",
	"exclusivity flag on, cannot modify",
}

func isAlreadyExists(stderr string) bool {
	low := strings.ToLower(stderr)
	for _, s := range alreadyExistsSubstrings {
		if strings.Contains(low, s) {
			return true
		}
	}
	return false
}

// changeOrAdd runs changeArgs first (the common case once a class/qdisc
// already exists) and falls back to addArgs when change fails because the
// object doesn't exist yet (idempotence: "change first, fall back to
// add"). Any other failure from either step is a real KernelOpFailed.
func (e *Enforcer) changeOrAdd(ctx context.Context, changeArgs, addArgs []string) error {
	_, stderr, err := e.runner.Run(ctx, changeArgs...)
	if err == nil {
		return nil
	}
	if !isExpectedNoop(stderr) {
		return fmt.Errorf("tc %s: %w (%s)", strings.Join(changeArgs, " "), err, strings.TrimSpace(stderr))
	}

	_, stderr2, err2 := e.runner.Run(ctx, addArgs...)
	if err2 == nil {
		return nil
	}
	if isAlreadyExists(stderr2) {
		return nil
	}
	return fmt.Errorf("tc %s: %w (%s)", strings.Join(addArgs, " "), err2, strings.TrimSpace(stderr2))
}

// runOkFail runs args and absorbs any expected-noop failure (deleting a
// non-existent qdisc/class/filter never surfaces as an error).
func (e *Enforcer) runOkFail(ctx context.Context, args []string) error {
	_, stderr, err := e.runner.Run(ctx, args...)
	if err == nil {
		return nil
	}
	if isExpectedNoop(stderr) || isAlreadyExists(stderr) {
		return nil
	}
	return fmt.Errorf("tc %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(stderr))
}
