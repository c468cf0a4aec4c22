package runner

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/schlitzered/DLMEngineUpdater/pkg/internal/logfields"
	"github.com/schlitzered/DLMEngineUpdater/pkg/scripts"
)

// DefaultPath is the PATH scripts are started with.
const DefaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Invocation is one script execution.
type Invocation struct {
	Script scripts.Descriptor
	Args   []string
	// Phase and LogScript label the script's output in the log.
	Phase     string
	LogScript string
}

// Exec runs inv to completion and returns its exit status. The script's
// stdout and stderr are merged and logged line by line as they arrive. Once
// started a script is never interrupted, ctx only prevents the start.
func (r *Runner) Exec(ctx context.Context, inv Invocation) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	self, err := r.users.Current()
	if err != nil {
		return -1, errors.Wrap(err, "unable to resolve current user")
	}
	runAs, err := r.users.Lookup(inv.Script.User)
	if err != nil {
		return -1, errors.Wrapf(err, "unable to resolve script user %q", inv.Script.User)
	}

	argv := commandLine(inv, self.Name)
	cmd := r.command(argv[0], argv[1:]...)
	cmd.Env = r.environ(runAs)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return -1, errors.Wrap(err, "unable to create output pipe")
	}
	cmd.Stderr = cmd.Stdout

	log := r.log.WithFields(logfields.ForScript(inv.Phase, inv.LogScript))
	if err := cmd.Start(); err != nil {
		return -1, errors.Wrapf(err, "unable to start %s", inv.Script.Path)
	}
	stream(out, func(line string) { log.Info(line) })

	err = cmd.Wait()
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, errors.Wrapf(err, "waiting for %s", inv.Script.Path)
	}
	return 0, nil
}

// commandLine is the argv starting inv. Scripts of other accounts are started
// through sudo.
func commandLine(inv Invocation, self string) []string {
	argv := append([]string{inv.Script.Path}, inv.Args...)
	if inv.Script.User != self {
		argv = append([]string{"sudo", "-n", "-E", "-u", inv.Script.User}, argv...)
	}
	return argv
}

func (r *Runner) environ(u scripts.User) []string {
	return []string{
		EnvLockName + "=" + r.lockName,
		EnvPhase + "=" + r.current.String(),
		"PATH=" + DefaultPath,
		"USER=" + u.Name,
		"LOGNAME=" + u.Name,
		"HOME=" + u.Home,
	}
}

// stream calls fn with every line read from rd, without the line ending.
func stream(rd io.Reader, fn func(string)) {
	br := bufio.NewReader(rd)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			fn(strings.TrimRight(line, " \t\r\n"))
		}
		if err != nil {
			return
		}
	}
}
