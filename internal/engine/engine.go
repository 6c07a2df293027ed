// Package engine evaluates compliance rules locally on the worker host.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"compliancepulse/internal/store"

	"github.com/google/shlex"
)

// ErrTimeout marks a rule whose command exceeded the per-rule runtime.
var ErrTimeout = errors.New("timeout")

// ErrCommandNotAllowed marks a rule whose executable is outside the
// allow-list. No subprocess is spawned for such rules.
var ErrCommandNotAllowed = errors.New("command not allowed")

// maxOutputBytes caps the captured output stored per rule.
const maxOutputBytes = 8192

// Shell metacharacters that would escape the single-command sandbox.
var forbiddenTokens = []string{";", "&&", "||", "|", "`", "$("}

// Outcome is the result of evaluating one rule. Evaluation faults are
// captured here, never propagated: a bad rule must not abort its scan.
type Outcome struct {
	RuleID   string
	Passed   bool
	Output   string
	Err      error
	Duration time.Duration
}

// Config holds the engine's sandbox settings.
type Config struct {
	// AllowedCommands is the set of permitted executable tokens. A rule
	// whose command's binary (by full path or base name) is not in the
	// set is rejected before any process is spawned.
	AllowedCommands []string

	// MaxRuleRuntime bounds each rule's subprocess.
	MaxRuleRuntime time.Duration
}

// Engine evaluates rules under a command allow-list with a bounded
// per-rule timeout. It is stateless and safe for concurrent use; each
// evaluation spawns its own process.
type Engine struct {
	allowed map[string]struct{}
	timeout time.Duration
}

// New creates an engine from the sandbox config.
func New(cfg Config) *Engine {
	allowed := make(map[string]struct{}, len(cfg.AllowedCommands))
	for _, c := range cfg.AllowedCommands {
		c = strings.TrimSpace(c)
		if c != "" {
			allowed[c] = struct{}{}
		}
	}

	timeout := cfg.MaxRuleRuntime
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Engine{allowed: allowed, timeout: timeout}
}

// Evaluate runs the rule's command and applies its expectation.
// The allow-list check is a hard boundary: it is never bypassed, not
// even for admin-triggered scans.
func (e *Engine) Evaluate(ctx context.Context, rule store.Rule) Outcome {
	started := time.Now()

	argv, err := e.authorize(rule.Command)
	if err != nil {
		return Outcome{RuleID: rule.ID, Err: err, Duration: time.Since(started)}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	output, exitCode, err := e.runCommand(execCtx, argv)
	duration := time.Since(started)

	if execCtx.Err() == context.DeadlineExceeded {
		return Outcome{RuleID: rule.ID, Output: output, Err: ErrTimeout, Duration: duration}
	}
	if err != nil {
		// Missing binary, permission denied, and the like.
		return Outcome{RuleID: rule.ID, Output: output, Err: err, Duration: duration}
	}

	passed, err := evaluateExpectation(rule, output, exitCode)
	return Outcome{RuleID: rule.ID, Passed: passed, Output: output, Err: err, Duration: duration}
}

// authorize tokenizes the command and checks it against the sandbox
// policy. It returns the argv to execute.
func (e *Engine) authorize(command string) ([]string, error) {
	for _, token := range forbiddenTokens {
		if strings.Contains(command, token) {
			return nil, fmt.Errorf("%w: pipelining and command chaining are disallowed", ErrCommandNotAllowed)
		}
	}

	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("command cannot be empty")
	}

	binary := argv[0]
	base := filepath.Base(binary)
	if _, ok := e.allowed[base]; !ok {
		if _, ok := e.allowed[binary]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrCommandNotAllowed, base)
		}
	}
	return argv, nil
}

// runCommand executes argv in its own process group so a timeout kills
// the whole subprocess tree, and returns the combined output.
func (e *Engine) runCommand(ctx context.Context, argv []string) (string, int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := truncate(strings.TrimSpace(buf.String()))

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Non-zero exit is an observation, not an execution fault.
		return output, exitErr.ExitCode(), nil
	}
	if err != nil {
		return output, 0, err
	}
	return output, 0, nil
}

func evaluateExpectation(rule store.Rule, output string, exitCode int) (bool, error) {
	switch rule.Expect {
	case store.ExpectExitCode:
		expected, err := strconv.Atoi(strings.TrimSpace(rule.ExpectValue))
		if err != nil {
			return false, fmt.Errorf("invalid expected exit code %q: %w", rule.ExpectValue, err)
		}
		return exitCode == expected, nil
	case store.ExpectContains:
		return strings.Contains(output, rule.ExpectValue), nil
	case store.ExpectNotContains:
		return !strings.Contains(output, rule.ExpectValue), nil
	case store.ExpectEquals:
		return strings.TrimSpace(output) == strings.TrimSpace(rule.ExpectValue), nil
	default:
		return false, fmt.Errorf("unsupported expectation kind %q", rule.Expect)
	}
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes]
}
