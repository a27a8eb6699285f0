package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/yourorg/unfreeze/internal/logging"
	"github.com/yourorg/unfreeze/internal/metrics"
	"github.com/yourorg/unfreeze/internal/model"
	"go.uber.org/zap"
)

const diagnosticTail = 2048

// Invocation is one engine run against one unit.
type Invocation struct {
	Engine  Engine
	Input   string
	Output  string
	Version string
}

// Invoker runs engines. Implementations never return an error: every failure
// is reported through the attempt's Success flag and Reason.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) model.Attempt
}

// ExecInvoker runs engines as subprocesses bounded by a timeout.
type ExecInvoker struct {
	defaultTimeout time.Duration
	logger         *zap.Logger
}

func NewExecInvoker(defaultTimeout time.Duration, logger *zap.Logger) *ExecInvoker {
	if defaultTimeout <= 0 {
		defaultTimeout = 2 * time.Minute
	}
	return &ExecInvoker{defaultTimeout: defaultTimeout, logger: logging.OrNop(logger)}
}

// Invoke runs the engine and applies the success predicate: exit status 0,
// no timeout, and a non-empty artifact at inv.Output. The artifact of a failed
// attempt is removed.
func (x *ExecInvoker) Invoke(ctx context.Context, inv Invocation) (att model.Attempt) {
	start := time.Now()
	att = model.Attempt{Tool: inv.Engine.Name, Stage: inv.Engine.Stage, Output: inv.Output}
	defer func() {
		metrics.ObserveAttempt(att.Tool, string(att.Stage), att.Reason, att.Duration)
	}()

	timeout := inv.Engine.Timeout
	if timeout <= 0 {
		timeout = x.defaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(inv.Output), 0o755); err != nil {
		return x.fail(att, start, -1, model.ReasonEngineInvocationFailed, err.Error())
	}

	args := inv.Engine.Args(Vars{
		Input:   inv.Input,
		Output:  inv.Output,
		OutDir:  filepath.Dir(inv.Output),
		Version: inv.Version,
	})
	//nolint:gosec // G204: engine commands come from the operator's catalogue
	cmd := exec.CommandContext(execCtx, args[0], args[1:]...)
	cmd.WaitDelay = 5 * time.Second
	killGroup(cmd)

	stdout := &countingWriter{}
	stderr := &countingWriter{keep: diagnosticTail}
	cmd.Stderr = stderr
	cmd.Stdout = stdout

	var outFile *os.File
	if inv.Engine.Output == OutputStdout {
		f, err := os.Create(inv.Output)
		if err != nil {
			return x.fail(att, start, -1, model.ReasonEngineInvocationFailed, err.Error())
		}
		outFile = f
		stdout.w = f
	} else if err := os.Remove(inv.Output); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return x.fail(att, start, -1, model.ReasonEngineInvocationFailed, err.Error())
	}

	x.logger.Debug("exec engine", zap.String("tool", att.Tool), zap.Strings("args", args))
	err := cmd.Run()
	if outFile != nil {
		if cerr := outFile.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	att.StdoutBytes = stdout.n
	att.StderrBytes = stderr.n
	diag := string(stderr.tail)

	if err != nil {
		switch {
		case errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			return x.fail(att, start, -1, model.ReasonEngineTimeout,
				fmt.Sprintf("timeout after %v", timeout))
		case ctx.Err() != nil:
			return x.fail(att, start, -1, model.ReasonEngineInvocationFailed, "cancelled: "+ctx.Err().Error())
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			diag = err.Error()
		}
		return x.fail(att, start, code, model.ReasonEngineInvocationFailed, diag)
	}

	st, err := os.Stat(inv.Output)
	if err != nil || st.Size() == 0 {
		return x.fail(att, start, 0, model.ReasonEmptyOutput, diag)
	}

	att.ExitCode = 0
	att.Success = true
	att.Diagnostic = diag
	att.Duration = time.Since(start)
	return att
}

func (x *ExecInvoker) fail(att model.Attempt, start time.Time, code int, reason, diag string) model.Attempt {
	_ = os.Remove(att.Output)
	att.ExitCode = code
	att.Success = false
	att.Reason = reason
	att.Diagnostic = diag
	att.Output = ""
	att.Duration = time.Since(start)
	return att
}

// countingWriter counts bytes, optionally forwards them to w, and keeps the
// last keep bytes.
type countingWriter struct {
	w    io.Writer
	n    int64
	keep int
	tail []byte
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	if c.keep > 0 {
		c.tail = append(c.tail, p...)
		if len(c.tail) > c.keep {
			c.tail = c.tail[len(c.tail)-c.keep:]
		}
	}
	if c.w != nil {
		return c.w.Write(p)
	}
	return len(p), nil
}
