package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmora/agentpipe"
	"github.com/dmora/agentpipe/engine/cli/internal/jsonl"
	"github.com/dmora/agentpipe/engine/internal/errfmt"
	"github.com/dmora/agentpipe/engine/internal/procgroup"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// process is one spawned agent session: the child, its three pipes and the
// goroutines that watch them.
//
// The child is wired to os.Pipe pairs owned by the client rather than
// cmd.StdoutPipe, so that cmd.Wait (run by the exit watcher) never closes
// the read ends underneath the stdout feed.
type process struct {
	cfg  agentpipe.Config
	mode agentpipe.Mode
	log  zerolog.Logger

	infoMu sync.Mutex
	info   agentpipe.SessionInfo

	cmd     *exec.Cmd
	stdin   *jsonl.Writer
	stdout  *jsonl.Feed
	stderr  *jsonl.Feed
	outR    *os.File
	errR    *os.File
	monitor *jsonl.Monitor

	bgCancel context.CancelFunc

	exited  chan struct{} // closed by the exit watcher
	waitErr error         // set before exited closes

	promptFile string

	reading   atomic.Bool // an output consumer is active
	submitted atomic.Bool // the OneShot turn has been written

	// Owned by the active output consumer.
	turn    turnState
	backlog []agentpipe.Message

	releaseOnce sync.Once
}

// spawn resolves the command, starts the agent and its watchers.
func (c *Client) spawn(cfg agentpipe.Config) (p *process, err error) {
	path, prefix, err := resolveCommand(c.opts, c.backend)
	if err != nil {
		return nil, err
	}
	workDir, err := resolveWorkDir(c.opts.WorkDir)
	if err != nil {
		return nil, err
	}
	if err := validateEnv(c.opts.Env); err != nil {
		return nil, err
	}

	p = &process{
		cfg:    cfg,
		mode:   cfg.EffectiveMode(),
		exited: make(chan struct{}),
		info:   agentpipe.NewSessionInfo(cfg.ResumeID, workDir, time.Now(), uuid.NewString),
	}

	var cleanup []func()
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				cleanup[i]()
			}
		}
	}()

	if cfg.SystemPrompt != "" {
		p.promptFile, err = writePromptFile(cfg.SystemPrompt)
		if err != nil {
			return nil, err
		}
		cleanup = append(cleanup, func() { _ = os.Remove(p.promptFile) })
	}

	args, err := c.backend.Args(cfg, p.promptFile)
	if err != nil {
		return nil, fmt.Errorf("cli: args: %w", err)
	}

	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("cli: stdin pipe: %w", err)
	}
	cleanup = append(cleanup, func() { _ = inR.Close(); _ = inW.Close() })
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("cli: stdout pipe: %w", err)
	}
	cleanup = append(cleanup, func() { _ = outR.Close(); _ = outW.Close() })
	errR, errW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("cli: stderr pipe: %w", err)
	}
	cleanup = append(cleanup, func() { _ = errR.Close(); _ = errW.Close() })

	cmd := exec.Command(path, append(prefix, args...)...)
	cmd.Dir = workDir
	cmd.Env = buildEnv(c.opts.Env)
	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = errW
	procgroup.Set(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("cli: start %s: %w", path, err)
	}

	// The child holds its own copies now.
	_ = inR.Close()
	_ = outW.Close()
	_ = errW.Close()

	p.cmd = cmd
	p.outR = outR
	p.errR = errR
	p.log = c.log.With().
		Str("session_id", p.info.ID).
		Int("pid", cmd.Process.Pid).
		Str("mode", string(p.mode)).
		Logger()

	feedOpts := func(stream string) jsonl.FeedOptions {
		return jsonl.FeedOptions{
			MaxLine: c.opts.ScannerBuffer,
			OnOversize: func(n int) {
				c.metrics.MalformedLines.Inc()
				p.log.Warn().Str("stream", stream).Int("bytes", n).Msg("skipping oversized line")
			},
		}
	}
	p.stdin = jsonl.NewWriter(inW)
	p.stdout = jsonl.NewFeed(outR, feedOpts("stdout"))
	p.stderr = jsonl.NewFeed(errR, feedOpts("stderr"))

	go p.watchExit()

	bgCtx, bgCancel := context.WithCancel(context.Background())
	p.bgCancel = bgCancel
	p.monitor = jsonl.StartMonitor(bgCtx, p.stderr, p.exited, c.opts.PollInterval, func(line string) {
		p.log.Warn().Str("stderr", errfmt.Truncate(line)).Msg("agent stderr")
	})

	return p, nil
}

// watchExit reaps the child and publishes its exit status.
func (p *process) watchExit() {
	err := p.cmd.Wait()
	p.waitErr = wrapExitError(err)
	close(p.exited)

	ev := p.log.Info()
	if p.waitErr != nil {
		ev = p.log.Warn().Err(p.waitErr)
	}
	if st := p.cmd.ProcessState; st != nil {
		ev = ev.Int("exit_code", st.ExitCode())
	}
	ev.Msg("agent exited")
}

// hasExited reports whether the child has been reaped.
func (p *process) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// waitExit waits for the child to exit, for d to elapse, or for ctx to
// end. It reports whether the child exited.
func (p *process) waitExit(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return p.hasExited()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.exited:
		return true
	case <-timer.C:
		return p.hasExited()
	case <-ctx.Done():
		return p.hasExited()
	}
}

// closeInput closes the agent's stdin.
func (p *process) closeInput() {
	if err := p.stdin.Close(); err != nil {
		p.log.Debug().Err(err).Msg("close stdin")
	}
}

// snapshot returns a copy of the session info.
func (p *process) snapshot() agentpipe.SessionInfo {
	p.infoMu.Lock()
	defer p.infoMu.Unlock()
	return p.info
}

// absorb records the session reported by the agent's init event.
func (p *process) absorb(init *agentpipe.SessionStarted) {
	if init == nil {
		return
	}
	p.infoMu.Lock()
	taken := p.info.Absorb(init.SessionID, init.Model)
	id := p.info.ID
	p.infoMu.Unlock()
	if taken {
		p.log.Info().Str("agent_session_id", id).Msg("adopted agent session id")
	}
}

// release frees every resource held for the session. Safe to call more
// than once; only the first call has an effect.
func (p *process) release() {
	p.releaseOnce.Do(func() {
		p.bgCancel()
		p.closeInput()
		p.stdout.Close()
		p.stderr.Close()
		_ = p.outR.Close()
		_ = p.errR.Close()
		if p.promptFile != "" {
			if err := os.Remove(p.promptFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				p.log.Warn().Err(err).Str("path", p.promptFile).Msg("remove system prompt file")
			}
		}
	})
}

// forceKill terminates the child's process tree.
func (c *Client) forceKill(p *process) {
	c.metrics.ForcedKills.Inc()
	p.log.Warn().Msg("terminating agent process tree")
	if err := procgroup.KillTree(p.cmd); err != nil {
		p.log.Error().Err(err).Msg("kill agent process tree")
	}
}

// resolveCommand returns the executable and leading arguments for the
// agent: the interpreter and script when configured, else the explicit
// binary, else the backend default found on PATH.
func resolveCommand(o ClientOptions, b Backend) (string, []string, error) {
	if o.Interpreter != "" {
		interp, err := exec.LookPath(o.Interpreter)
		if err != nil {
			return "", nil, fmt.Errorf("%w: interpreter %q: install it or pass an absolute path to WithInterpreter: %w",
				agentpipe.ErrNotFound, o.Interpreter, err)
		}
		if o.Script == "" {
			return interp, nil, nil
		}
		script, err := filepath.Abs(o.Script)
		if err != nil {
			return "", nil, fmt.Errorf("cli: script path: %w", err)
		}
		info, err := os.Stat(script)
		if err != nil {
			return "", nil, fmt.Errorf("%w: script %q: %w", agentpipe.ErrNotFound, o.Script, err)
		}
		if info.IsDir() {
			return "", nil, fmt.Errorf("%w: script %q is a directory", agentpipe.ErrNotFound, o.Script)
		}
		return interp, []string{script}, nil
	}

	binary := o.Binary
	if binary == "" {
		binary = b.Binary()
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: install it or configure WithBinary: %w", agentpipe.ErrNotFound, binary, err)
	}
	return path, nil, nil
}

// resolveWorkDir returns dir, or the current directory when empty. The
// directory must be absolute and exist.
func resolveWorkDir(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("cli: working directory: %w", err)
		}
		return wd, nil
	}
	if !filepath.IsAbs(dir) {
		return "", fmt.Errorf("cli: working directory must be an absolute path, got %q", dir)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("cli: working directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("cli: working directory is not a directory: %s", dir)
	}
	return dir, nil
}

// writePromptFile stores the system prompt in a private temporary file.
func writePromptFile(prompt string) (string, error) {
	f, err := os.CreateTemp("", "agentpipe-prompt-*.txt")
	if err != nil {
		return "", fmt.Errorf("cli: system prompt file: %w", err)
	}
	if _, err := f.WriteString(prompt); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("cli: write system prompt file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("cli: close system prompt file: %w", err)
	}
	return f.Name(), nil
}

// wrapExitError converts a non-zero *exec.ExitError to *agentpipe.ExitError.
// nil → nil, non-ExitError → passthrough, code 0 → nil (clean exit).
// Preserves the error chain via ExitError.Unwrap.
func wrapExitError(err error) error {
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return err
	}
	code := ee.ExitCode()
	if code == 0 {
		return nil
	}
	return &agentpipe.ExitError{Code: code, Err: err}
}
