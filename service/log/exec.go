package log

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Filter receives a message and the default level and returns a modified
// message with a new level. If the last result is true, the msg is dropped.
type Filter interface {
	Filter(msg string, defaultLevel zapcore.Level) (string, zapcore.Level, bool)
}

type execOption struct {
	outLevel, errLevel   zapcore.Level
	outFilter, errFilter Filter
}

// ExecOption is an option that can be passed to Exec()
type ExecOption func(eo *execOption)

// StdoutLevel sets the level at which stdout is logged
func StdoutLevel(l zapcore.Level) ExecOption {
	return func(eo *execOption) { eo.outLevel = l }
}

// StderrLevel sets the level at which stderr is logged
func StderrLevel(l zapcore.Level) ExecOption {
	return func(eo *execOption) { eo.errLevel = l }
}

// StdoutFilter sets a filter rewriting stdout messages or their level
func StdoutFilter(f Filter) ExecOption {
	return func(eo *execOption) { eo.outFilter = f }
}

// StderrFilter sets a filter rewriting stderr messages or their level
func StderrFilter(f Filter) ExecOption {
	return func(eo *execOption) { eo.errFilter = f }
}

// Exec runs the command, streaming its stdout and stderr to Logger(ctx)
// (info and warn level by default, overridable per stream). The command is
// killed when the context is cancelled.
func Exec(ctx context.Context, cmd *exec.Cmd, options ...ExecOption) error {
	opts := execOption{
		outLevel: zapcore.InfoLevel,
		errLevel: zapcore.WarnLevel,
	}
	for _, o := range options {
		o(&opts)
	}

	logger := Logger(ctx)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	var logwg sync.WaitGroup
	logwg.Add(2)
	go func() {
		defer logwg.Done()
		logLines(stdout, &streamLogger{logger, opts.outLevel, opts.outFilter})
	}()
	go func() {
		defer logwg.Done()
		logLines(stderr, &streamLogger{logger, opts.errLevel, opts.errFilter})
	}()

	waited := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := cmd.Process.Kill(); err != nil {
				logger.Sugar().Warnf("kill: %v", err)
			}
		case <-waited:
		}
	}()

	logwg.Wait()
	err = cmd.Wait()
	close(waited)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// logLines forwards each line of sr to the logger. Lines exceeding the
// buffer are clipped rather than split into spurious entries.
func logLines(sr io.Reader, logger *streamLogger) {
	r := bufio.NewReader(sr)
	clipped := false
	for {
		line, err := r.ReadSlice('\n')
		if err != nil && err != bufio.ErrBufferFull {
			// EOF or a broken pipe: flush what was read and stop
			if !clipped && len(line) > 0 {
				logger.Print(string(line))
			}
			return
		}
		if clipped {
			if err == nil {
				clipped = false
			}
			continue
		}
		if err == bufio.ErrBufferFull {
			logger.Print(fmt.Sprintf("%s ...[message clipped]", line))
			clipped = true
			continue
		}
		if len(line) > 0 {
			logger.Print(string(line))
		}
	}
}

type streamLogger struct {
	*zap.Logger
	level  zapcore.Level
	filter Filter
}

func (l streamLogger) Print(msg string) {
	level := l.level
	if l.filter != nil {
		var drop bool
		if msg, level, drop = l.filter.Filter(msg, level); drop {
			return
		}
	}
	if ce := l.Check(level, msg); ce != nil {
		ce.Write()
	}
}
