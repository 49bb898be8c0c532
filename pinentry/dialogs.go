package pinentry

import (
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Option is one OPTION key/value pair for the helper. Options are kept
// as an ordered slice rather than a map: a later value for the same key
// must reach the helper after the earlier one so it wins.
type Option struct {
	Key   string
	Value string
}

type command struct {
	verb string
	arg  string
}

// Confirmation asks the user a yes/no question.
type Confirmation struct {
	// Binary is the helper to run; empty means DefaultBinary.
	Binary string
	// Args are extra helper arguments.
	Args []string

	Title  string
	Desc   string
	OK     string // label of the accept button
	NotOK  string // label of the decline button, when distinct from cancel
	Cancel string // label of the cancel button

	Options []Option
	Unix    UnixOptions
	Logger  *zerolog.Logger
}

func (d *Confirmation) commands() []command {
	var cmds []command
	if d.Title != "" {
		cmds = append(cmds, command{"SETTITLE", d.Title})
	}
	if d.Desc != "" {
		cmds = append(cmds, command{"SETDESC", d.Desc})
	}
	if d.OK != "" {
		cmds = append(cmds, command{"SETOK", d.OK})
	}
	if d.NotOK != "" {
		cmds = append(cmds, command{"SETNOTOK", d.NotOK})
	}
	if d.Cancel != "" {
		cmds = append(cmds, command{"SETCANCEL", d.Cancel})
	}
	return cmds
}

// Confirm shows the dialog. nil means the user accepted; a dismissed
// dialog surfaces as ErrCancelled, check with IsCancelled.
func (d *Confirmation) Confirm() error {
	c, err := start(d.Binary, d.Args, d.Unix, d.Options, d.commands(), d.Logger)
	if err != nil {
		return err
	}
	return finish(c.Confirm(), c.Close())
}

// Message shows the user a message with a single dismissal button.
type Message struct {
	Binary string
	Args   []string

	Title string
	Desc  string
	OK    string

	Options []Option
	Unix    UnixOptions
	Logger  *zerolog.Logger
}

func (d *Message) commands() []command {
	var cmds []command
	if d.Title != "" {
		cmds = append(cmds, command{"SETTITLE", d.Title})
	}
	if d.Desc != "" {
		cmds = append(cmds, command{"SETDESC", d.Desc})
	}
	if d.OK != "" {
		cmds = append(cmds, command{"SETOK", d.OK})
	}
	return cmds
}

// Show displays the message and waits for the user to dismiss it.
func (d *Message) Show() error {
	c, err := start(d.Binary, d.Args, d.Unix, d.Options, d.commands(), d.Logger)
	if err != nil {
		return err
	}
	return finish(c.ShowMessage(), c.Close())
}

// PassphraseInput asks the user for a passphrase or PIN.
type PassphraseInput struct {
	Binary string
	Args   []string

	Title  string
	Desc   string
	Prompt string
	OK     string
	Cancel string

	// Error is shown highlighted before the prompt, for retry rounds.
	Error string
	// KeyInfo names the key the entry is for, so caching pinentries can
	// key their cache on it.
	KeyInfo string
	// Repeat asks for the passphrase twice with this prompt on the
	// second entry, RepeatError is shown when the two do not match.
	Repeat      string
	RepeatError string
	// QualityBar shows a passphrase quality meter.
	QualityBar bool
	// Timeout dismisses the dialog after the given duration, surfacing
	// as ErrTimeout. Zero means no timeout.
	Timeout time.Duration

	Options []Option
	Unix    UnixOptions
	Logger  *zerolog.Logger
}

func (d *PassphraseInput) commands() []command {
	var cmds []command
	if d.Title != "" {
		cmds = append(cmds, command{"SETTITLE", d.Title})
	}
	if d.Desc != "" {
		cmds = append(cmds, command{"SETDESC", d.Desc})
	}
	if d.Prompt != "" {
		cmds = append(cmds, command{"SETPROMPT", d.Prompt})
	}
	if d.OK != "" {
		cmds = append(cmds, command{"SETOK", d.OK})
	}
	if d.Cancel != "" {
		cmds = append(cmds, command{"SETCANCEL", d.Cancel})
	}
	if d.Error != "" {
		cmds = append(cmds, command{"SETERROR", d.Error})
	}
	if d.KeyInfo != "" {
		cmds = append(cmds, command{"SETKEYINFO", d.KeyInfo})
	}
	if d.Repeat != "" {
		cmds = append(cmds, command{"SETREPEAT", d.Repeat})
	}
	if d.RepeatError != "" {
		cmds = append(cmds, command{"SETREPEATERROR", d.RepeatError})
	}
	if d.QualityBar {
		cmds = append(cmds, command{"SETQUALITYBAR", ""})
	}
	if d.Timeout > 0 {
		cmds = append(cmds, command{"SETTIMEOUT", strconv.Itoa(int(d.Timeout / time.Second))})
	}
	return cmds
}

// Interact shows the dialog and returns what the user typed. The caller
// owns the Secret and should Destroy it once used; the library keeps no
// copy. Cancellation surfaces as ErrCancelled via IsCancelled.
func (d *PassphraseInput) Interact() (*Secret, error) {
	c, err := start(d.Binary, d.Args, d.Unix, d.Options, d.commands(), d.Logger)
	if err != nil {
		return nil, err
	}
	secret, err := c.GetPIN()
	if err := finish(err, c.Close()); err != nil {
		if secret != nil {
			secret.Destroy()
		}
		return nil, err
	}
	return secret, nil
}

// start spawns a helper and walks it through the configuration phase:
// terminal options first, then the caller's options in their order, then
// the dialog text commands.
func start(binary string, args []string, unix UnixOptions, opts []Option, cmds []command, logger *zerolog.Logger) (*Client, error) {
	c, err := Connect(binary, args, unix.environ(), logger)
	if err != nil {
		return nil, err
	}
	for _, o := range unix.options() {
		if err := c.Option(o.Key, o.Value); err != nil {
			return nil, finish(err, c.Close())
		}
	}
	for _, o := range opts {
		if err := c.Option(o.Key, o.Value); err != nil {
			return nil, finish(err, c.Close())
		}
	}
	for _, cmd := range cmds {
		if err := c.Set(cmd.verb, cmd.arg); err != nil {
			return nil, finish(err, c.Close())
		}
	}
	return c, nil
}

// finish keeps the primary error when there is one, otherwise reports
// shutdown problems.
func finish(err, closeErr error) error {
	if err != nil {
		return err
	}
	return closeErr
}
