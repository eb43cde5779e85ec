package sandbox

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	derrors "github.com/devmate/devmate/pkg/errors"
	"github.com/devmate/devmate/pkg/logging"
)

// urlPattern matches the local URL a dev server prints when it comes up.
var urlPattern = regexp.MustCompile(`https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0)[^\s"']*`)

// tailLines is how much process output is kept for failure diagnostics.
const tailLines = 50

// Process is a running preview. Ready delivers the server URL once the child
// prints one; Done closes when the process exits.
type Process struct {
	cmd    *exec.Cmd
	ready  chan string
	done   chan struct{}
	killed atomic.Bool

	mu      sync.Mutex
	exitErr error
	tail    []string
}

// Spawn starts name with args in dir and begins scanning its output.
func (r *LocalRuntime) Spawn(ctx context.Context, dir, name string, args ...string) (*Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	setSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, derrors.Wrap(err, derrors.ErrCodeSandboxUnavailable, "stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, derrors.Wrap(err, derrors.ErrCodeSandboxUnavailable, "stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, derrors.Wrap(err, derrors.ErrCodeRunFailed, "start process").
			WithContext("command", name)
	}

	p := &Process{
		cmd:   cmd,
		ready: make(chan string, 1),
		done:  make(chan struct{}),
	}

	var scanners sync.WaitGroup
	scanners.Add(2)
	go p.scan(&scanners, stdout, r.logger)
	go p.scan(&scanners, stderr, r.logger)

	go func() {
		scanners.Wait()
		err := cmd.Wait()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(p.done)
	}()

	if r.logger != nil {
		_ = r.logger.Info(logging.CategorySandbox, "process_spawned", "preview process started",
			map[string]any{"command": name, "pid": cmd.Process.Pid, "dir": dir})
	}
	return p, nil
}

// scan watches one output stream, keeping a tail for diagnostics and firing
// the ready signal on the first URL seen.
func (p *Process) scan(wg *sync.WaitGroup, stream io.Reader, logger *logging.Logger) {
	defer wg.Done()
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := scanner.Text()

		p.mu.Lock()
		p.tail = append(p.tail, line)
		if len(p.tail) > tailLines {
			p.tail = p.tail[len(p.tail)-tailLines:]
		}
		p.mu.Unlock()

		if url := urlPattern.FindString(line); url != "" {
			select {
			case p.ready <- url:
			default:
			}
		}

		if logger != nil {
			_ = logger.Debug(logging.CategorySandbox, "process_output", line, nil)
		}
	}
}

// Ready delivers the preview URL once the child prints one.
func (p *Process) Ready() <-chan string { return p.ready }

// Done closes when the process exits.
func (p *Process) Done() <-chan struct{} { return p.done }

// Alive reports whether the process is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Kill terminates the whole process group and waits for exit.
func (p *Process) Kill() {
	if p.killed.Swap(true) {
		<-p.done
		return
	}
	killProcessGroup(p.cmd)
	<-p.done
}

// Err returns the exit error after Done closes. A deliberate kill is not an
// error.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed.Load() {
		return nil
	}
	return p.exitErr
}

// OutputTail returns the last lines of combined output for diagnostics.
func (p *Process) OutputTail() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.tail, "\n")
}
