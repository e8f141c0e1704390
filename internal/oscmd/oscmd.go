// Package oscmd invokes the daemon's OS collaborators: the system
// shutdown utility (through the privilege-elevation helper) and the
// configured external hook commands with their argv template
// placeholders. Hook command lines are tokenized with
// github.com/google/shlex, so quoting in the config file behaves like a
// shell word split.
package oscmd

import (
	"os/exec"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/rs/zerolog"
)

// ShutdownGraceMinutes is the delayed-shutdown grace period handed to
// "shutdown -P +N".
const ShutdownGraceMinutes = 60

// run executes argv and returns its error; overridable in tests.
var run = func(argv []string) error {
	return exec.Command(argv[0], argv[1:]...).Run()
}

// Runner invokes external commands. With DryRun set (debug mode), system
// shutdown invocations are logged but not executed; hooks still run.
type Runner struct {
	DryRun bool

	log zerolog.Logger
}

// New builds a runner logging under the "oscmd" component.
func New(log zerolog.Logger, dryRun bool) *Runner {
	return &Runner{DryRun: dryRun, log: log.With().Str("component", "oscmd").Logger()}
}

func (r *Runner) shutdownCall(args ...string) {
	if r.DryRun {
		r.log.Warn().Strs("args", args).Msg("system shutdown suppressed in debug mode")
		return
	}
	argv := append([]string{"/usr/bin/sudo", "-n", "/sbin/shutdown"}, args...)
	if err := run(argv); err != nil {
		// Logged, not retried.
		r.log.Error().Err(err).Strs("argv", argv).Msg("shutdown invocation failed")
	}
}

// ShutdownImmediate powers the system off now.
func (r *Runner) ShutdownImmediate() {
	r.log.Info().Msg("initiating immediate system shutdown")
	r.shutdownCall("-P", "now")
}

// ShutdownDelayed schedules a power-off after the given grace period in
// minutes.
func (r *Runner) ShutdownDelayed(graceMinutes int) {
	r.log.Info().Int("grace_minutes", graceMinutes).Msg("scheduling system shutdown")
	r.shutdownCall("-P", "+"+strconv.Itoa(graceMinutes))
}

// ShutdownCancel cancels a previously scheduled shutdown.
func (r *Runner) ShutdownCancel() {
	r.log.Info().Msg("cancelling pending system shutdown")
	r.shutdownCall("-c")
}

// RunHook tokenizes a configured command line, expands {placeholder}
// occurrences in every token from subs, and executes the result. An empty
// command is a no-op; failures are logged and not retried.
func (r *Runner) RunHook(command string, subs map[string]string) {
	if command == "" {
		return
	}
	argv, err := shlex.Split(command)
	if err != nil || len(argv) == 0 {
		r.log.Error().Err(err).Str("command", command).Msg("hook command did not tokenize")
		return
	}
	for i, tok := range argv {
		argv[i] = expand(tok, subs)
	}
	if err := run(argv); err != nil {
		r.log.Error().Err(err).Strs("argv", argv).Msg("hook command failed")
	}
}

func expand(tok string, subs map[string]string) string {
	for key, val := range subs {
		tok = strings.ReplaceAll(tok, "{"+key+"}", val)
	}
	return tok
}
