// Package pinentry talks to an external pinentry program over its
// stdin/stdout pipes to show confirmations, messages and passphrase
// prompts without touching the display ourselves. Entered secrets only
// ever reach the caller wrapped in a Secret, never as a plain string.
package pinentry

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/foxboron/pinentry-client/internal/assuan"
)

// Client drives one pinentry conversation: spawn, handshake, configure,
// one terminal command, shutdown. A Client is never reused; every dialog
// invocation spawns a fresh helper, which keeps failure recovery trivial
// at the cost of a process spawn per prompt.
type Client struct {
	proc   *process
	logger zerolog.Logger
	state  state
}

// Connect spawns the helper and performs the initial handshake. The
// caller must Close the returned Client; Close reaps the child on every
// path, error paths included. A nil logger disables protocol logging.
func Connect(binary string, args, env []string, logger *zerolog.Logger) (*Client, error) {
	lg := zerolog.Nop()
	if logger != nil {
		lg = *logger
	}
	if binary == "" {
		binary = DefaultBinary()
	}
	if binary == "" {
		return nil, ErrNoBinary
	}
	proc, err := startProcess(binary, args, env, lg)
	if err != nil {
		return nil, err
	}
	c := &Client{proc: proc, logger: lg, state: stateHandshake}
	if err := c.handshake(); err != nil {
		if cerr := c.Close(); cerr != nil {
			lg.Debug().Err(cerr).Msg("shutdown after failed handshake")
		}
		return nil, err
	}
	return c, nil
}

// handshake consumes the helper's greeting, which must be OK.
func (c *Client) handshake() error {
	for {
		resp, err := c.proc.readResponse()
		if err != nil {
			c.fail()
			return fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		switch resp.Kind {
		case assuan.Comment, assuan.Status:
			continue
		case assuan.OK:
			return c.advance(eventGreeted)
		case assuan.Err:
			c.fail()
			return fmt.Errorf("%w: %w", ErrHandshake, &HelperError{Code: resp.Code, Description: resp.Description})
		default:
			c.fail()
			return fmt.Errorf("%w: unexpected %s line", ErrHandshake, resp.Kind)
		}
	}
}

// Set sends one configuration command, SETDESC or the like, and requires
// the helper to answer OK.
func (c *Client) Set(verb, arg string) error {
	if err := c.advance(eventConfigure); err != nil {
		return err
	}
	if err := c.roundTrip(verb, arg); err != nil {
		c.fail()
		return err
	}
	return nil
}

// Option sends one OPTION command. Options reach the helper in the order
// they are sent; when the same key is set twice the later value wins on
// the helper side.
func (c *Client) Option(key, value string) error {
	arg := key
	if value != "" {
		arg = key + "=" + value
	}
	return c.Set("OPTION", arg)
}

// Confirm shows the configured confirmation dialog. nil means the user
// accepted. A dismissed dialog surfaces as ErrCancelled, check with
// IsCancelled; any other error is a genuine failure.
func (c *Client) Confirm() error {
	return c.execute("CONFIRM")
}

// ShowMessage shows the configured message dialog and waits for the user
// to dismiss it.
func (c *Client) ShowMessage() error {
	return c.execute("MESSAGE")
}

func (c *Client) execute(verb string) error {
	if err := c.advance(eventExecute); err != nil {
		return err
	}
	if err := c.roundTrip(verb, ""); err != nil {
		c.fail()
		return err
	}
	return c.advance(eventDone)
}

// GetPIN asks the helper for the passphrase. The data lines of the reply
// are concatenated while still percent-encoded and only decoded once the
// logical value is complete, so escape sequences can straddle lines.
func (c *Client) GetPIN() (*Secret, error) {
	if err := c.advance(eventExecute); err != nil {
		return nil, err
	}
	if err := c.proc.sendCommand("GETPIN", ""); err != nil {
		c.fail()
		return nil, err
	}
	var raw []byte
	for {
		resp, err := c.proc.readResponse()
		if err != nil {
			c.fail()
			zero(raw)
			return nil, err
		}
		switch resp.Kind {
		case assuan.Comment, assuan.Status:
		case assuan.Data:
			raw = append(raw, resp.Data...)
		case assuan.OK:
			pin, err := assuan.DecodeArgument(raw)
			zero(raw)
			if err != nil {
				c.fail()
				return nil, err
			}
			if err := c.advance(eventDone); err != nil {
				zero(pin)
				return nil, err
			}
			return newSecret(pin), nil
		case assuan.Err:
			c.fail()
			zero(raw)
			return nil, &HelperError{Code: resp.Code, Description: resp.Description}
		default:
			c.fail()
			zero(raw)
			return nil, fmt.Errorf("pinentry: unexpected %s response to GETPIN", resp.Kind)
		}
	}
}

// roundTrip sends one command and consumes responses until OK or ERR.
func (c *Client) roundTrip(verb, arg string) error {
	if err := c.proc.sendCommand(verb, arg); err != nil {
		return err
	}
	for {
		resp, err := c.proc.readResponse()
		if err != nil {
			return err
		}
		switch resp.Kind {
		case assuan.Comment, assuan.Status:
			continue
		case assuan.OK:
			return nil
		case assuan.Err:
			return &HelperError{Code: resp.Code, Description: resp.Description}
		default:
			return fmt.Errorf("pinentry: unexpected %s response to %s", resp.Kind, verb)
		}
	}
}

// Close says goodbye to the helper and reaps it. Safe to call more than
// once and on every exit path; the child is waited on exactly once.
func (c *Client) Close() error {
	if c.state == stateConfiguring || c.state == stateCompleted {
		// Best effort; the helper also exits on stdin EOF.
		if err := c.proc.sendCommand("BYE", ""); err == nil {
			_, _ = c.proc.readResponse()
		}
		c.fail()
	}
	return c.proc.reap()
}

func (c *Client) advance(ev event) error {
	next, err := transition(c.state, ev)
	if err != nil {
		return err
	}
	c.state = next
	return nil
}

func (c *Client) fail() {
	c.state = stateFailed
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
