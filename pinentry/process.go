package pinentry

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/foxboron/pinentry-client/internal/assuan"
)

// process owns the helper child and its two pipe ends. All traffic with
// the helper goes through here, one request/response round trip at a
// time; the protocol has no pipelining.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	logger zerolog.Logger

	waitOnce sync.Once
	waitErr  error
}

// startProcess launches the helper with its stdin and stdout wired to
// us. Stderr is not part of the protocol and is left alone.
func startProcess(path string, args, env []string, logger zerolog.Logger) (*process, error) {
	cmd := exec.Command(path, args...)
	if env != nil {
		cmd.Env = env
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q: %v", ErrNoBinary, path, err)
		}
		return nil, fmt.Errorf("pinentry: failed to spawn %q: %w", path, err)
	}
	logger.Debug().Str("binary", path).Int("pid", cmd.Process.Pid).Msg("spawned pinentry")
	return &process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		logger: logger,
	}, nil
}

// sendCommand writes one encoded request line. The pipe is unbuffered on
// our side, so once this returns the response can be awaited.
func (p *process) sendCommand(verb, arg string) error {
	p.logger.Debug().Str("verb", verb).Msg("send")
	if _, err := p.stdin.Write(assuan.EncodeCommand(verb, arg)); err != nil {
		return p.ioError(fmt.Errorf("pinentry: write %s: %w", verb, err))
	}
	return nil
}

// readResponse reads and parses exactly one response line, blocking
// until a full line or EOF arrives.
func (p *process) readResponse() (assuan.Response, error) {
	line, err := p.stdout.ReadBytes('\n')
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return assuan.Response{}, p.ioError(fmt.Errorf("pinentry: read response: %w", err))
	}
	resp, err := assuan.ParseResponse(line)
	if err != nil {
		return assuan.Response{}, err
	}
	p.logResponse(resp)
	return resp, nil
}

func (p *process) logResponse(resp assuan.Response) {
	switch resp.Kind {
	case assuan.Data:
		// Never log the payload.
		p.logger.Debug().Msg("recv D (elided)")
	case assuan.Err:
		p.logger.Debug().Uint32("code", resp.Code).Str("description", resp.Description).Msg("recv ERR")
	default:
		p.logger.Debug().Stringer("kind", resp.Kind).Msg("recv")
	}
}

// ioError promotes a pipe failure to a TerminatedError when the helper
// turns out to have exited abnormally behind our back.
func (p *process) ioError(err error) error {
	p.reap()
	if state := p.cmd.ProcessState; state != nil && !state.Success() {
		return &TerminatedError{State: state}
	}
	return err
}

// reap closes our end of the helper's stdin and collects its exit
// status. Safe to call on every path out of a session, any number of
// times; the child is waited on exactly once, so it can never linger as
// a zombie.
func (p *process) reap() error {
	p.waitOnce.Do(func() {
		cerr := p.stdin.Close()
		werr := p.cmd.Wait()
		p.logger.Debug().Err(werr).Msg("reaped pinentry")
		p.waitErr = multierr.Combine(cerr, werr)
	})
	return p.waitErr
}
