package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/foxboron/pinentry-client/pinentry"
)

type cliOptions struct {
	Confirm bool
	Message bool
	GetPin  bool

	Pinentry string
	Title    string
	Desc     string
	Prompt   string
	OK       string
	NotOK    string
	Cancel   string
	Timeout  int
	Options  []string

	ConfigFile string
	LogFile    string
}

var example = `
  $ pinentry-client --confirm --desc "Overwrite the existing key?" --ok "Overwrite" --cancel "Keep"
  confirmed

  $ pinentry-client --getpin --title "ssh" --prompt "Passphrase:" > pass.txt

  $ pinentry-client --config dialog.yaml`

var (
	cliOpts = cliOptions{}
	rootCmd = &cobra.Command{
		Use:     "pinentry-client",
		Long:    "pinentry-client drives a pinentry program to show confirmations, messages and passphrase prompts from scripts.",
		Example: example,
		RunE:    RunDialog,
	}
)

func NewLogger() zerolog.Logger {
	var w io.Writer
	if cliOpts.LogFile != "" {
		w, _ = os.OpenFile(cliOpts.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	} else if os.Getenv("PINENTRY_DEBUG") != "" {
		w = os.Stderr
	} else {
		w = io.Discard
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// dialogFile is the yaml description of a dialog, an alternative to
// spelling everything out in flags.
type dialogFile struct {
	Mode    string   `yaml:"mode"` // confirm, message or getpin
	Title   string   `yaml:"title"`
	Desc    string   `yaml:"desc"`
	Prompt  string   `yaml:"prompt"`
	OK      string   `yaml:"ok"`
	NotOK   string   `yaml:"not-ok"`
	Cancel  string   `yaml:"cancel"`
	Timeout int      `yaml:"timeout"`
	Options []string `yaml:"options"` // "key=value", in send order
}

func loadDialogFile(path string, opts *cliOptions) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f dialogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("failed to parse %q: %v", path, err)
	}
	switch f.Mode {
	case "confirm":
		opts.Confirm = true
	case "message":
		opts.Message = true
	case "getpin":
		opts.GetPin = true
	case "":
	default:
		return fmt.Errorf("unknown mode %q in %q", f.Mode, path)
	}
	if f.Title != "" {
		opts.Title = f.Title
	}
	if f.Desc != "" {
		opts.Desc = f.Desc
	}
	if f.Prompt != "" {
		opts.Prompt = f.Prompt
	}
	if f.OK != "" {
		opts.OK = f.OK
	}
	if f.NotOK != "" {
		opts.NotOK = f.NotOK
	}
	if f.Cancel != "" {
		opts.Cancel = f.Cancel
	}
	if f.Timeout != 0 {
		opts.Timeout = f.Timeout
	}
	opts.Options = append(opts.Options, f.Options...)
	return nil
}

func parseOptions(kvs []string) []pinentry.Option {
	var opts []pinentry.Option
	for _, kv := range kvs {
		key, value, _ := strings.Cut(kv, "=")
		opts = append(opts, pinentry.Option{Key: key, Value: value})
	}
	return opts
}

func clearLine(out io.Writer) {
	const (
		CUI = "\033["   // Control Sequence Introducer
		CPL = CUI + "F" // Cursor Previous Line
		EL  = CUI + "K" // Erase in Line
	)
	fmt.Fprintf(out, "\r\n"+CPL+EL)
}

// readPinFromTerminal is the fallback when no pinentry program exists
// but we are talking to a terminal anyway.
func readPinFromTerminal(prompt string) ([]byte, error) {
	if prompt == "" {
		prompt = "PIN:"
	}
	fmt.Fprintf(os.Stderr, "%s ", prompt)
	pin, err := term.ReadPassword(int(os.Stdin.Fd()))
	clearLine(os.Stderr)
	return pin, err
}

func RunDialog(cmd *cobra.Command, args []string) error {
	logger := NewLogger()
	if cliOpts.ConfigFile != "" {
		if err := loadDialogFile(cliOpts.ConfigFile, &cliOpts); err != nil {
			return err
		}
	}
	opts := parseOptions(cliOpts.Options)

	switch {
	case cliOpts.Confirm:
		d := pinentry.Confirmation{
			Binary:  cliOpts.Pinentry,
			Title:   cliOpts.Title,
			Desc:    cliOpts.Desc,
			OK:      cliOpts.OK,
			NotOK:   cliOpts.NotOK,
			Cancel:  cliOpts.Cancel,
			Options: opts,
			Logger:  &logger,
		}
		switch err := d.Confirm(); {
		case pinentry.IsCancelled(err):
			return fmt.Errorf("cancelled")
		case err != nil:
			return err
		}
		fmt.Println("confirmed")
		return nil
	case cliOpts.Message:
		d := pinentry.Message{
			Binary:  cliOpts.Pinentry,
			Title:   cliOpts.Title,
			Desc:    cliOpts.Desc,
			OK:      cliOpts.OK,
			Options: opts,
			Logger:  &logger,
		}
		return d.Show()
	case cliOpts.GetPin:
		d := pinentry.PassphraseInput{
			Binary:  cliOpts.Pinentry,
			Title:   cliOpts.Title,
			Desc:    cliOpts.Desc,
			Prompt:  cliOpts.Prompt,
			OK:      cliOpts.OK,
			Cancel:  cliOpts.Cancel,
			Timeout: time.Duration(cliOpts.Timeout) * time.Second,
			Options: opts,
			Logger:  &logger,
		}
		secret, err := d.Interact()
		if errors.Is(err, pinentry.ErrNoBinary) && term.IsTerminal(int(os.Stdin.Fd())) {
			pin, terr := readPinFromTerminal(cliOpts.Prompt)
			if terr != nil {
				return terr
			}
			os.Stdout.Write(pin)
			fmt.Println()
			for i := range pin {
				pin[i] = 0
			}
			return nil
		}
		switch {
		case pinentry.IsCancelled(err):
			return fmt.Errorf("cancelled")
		case pinentry.IsTimeout(err):
			return fmt.Errorf("timed out")
		case err != nil:
			return err
		}
		defer secret.Destroy()
		os.Stdout.Write(secret.Expose())
		fmt.Println()
		return nil
	default:
		return cmd.Help()
	}
}

func cliFlags(cmd *cobra.Command, opts *cliOptions) {
	flags := cmd.Flags()
	flags.SortFlags = false

	flags.BoolVar(&opts.Confirm, "confirm", false, "Ask the user a yes/no question.")
	flags.BoolVar(&opts.Message, "message", false, "Show the user a message.")
	flags.BoolVar(&opts.GetPin, "getpin", false, "Ask the user for a passphrase and print it to stdout.")

	flags.StringVar(&opts.Pinentry, "pinentry", "", "Pinentry program to run (default: pinentry from PATH).")
	flags.StringVar(&opts.Title, "title", "", "Window title.")
	flags.StringVar(&opts.Desc, "desc", "", "Description text shown in the dialog.")
	flags.StringVar(&opts.Prompt, "prompt", "", "Prompt next to the entry field.")
	flags.StringVar(&opts.OK, "ok", "", "Label of the ok button.")
	flags.StringVar(&opts.NotOK, "not-ok", "", "Label of the decline button.")
	flags.StringVar(&opts.Cancel, "cancel", "", "Label of the cancel button.")
	flags.IntVar(&opts.Timeout, "timeout", 0, "Dismiss the dialog after this many seconds.")
	flags.StringArrayVar(&opts.Options, "option", nil, "Extra OPTION key=value for the helper, in send order.")

	flags.StringVarP(&opts.ConfigFile, "config", "c", "", "Read the dialog description from a yaml file.")

	// Debug or logging stuff
	flags.StringVar(&opts.LogFile, "log-file", "", "Logging file for protocol debug output")
}

func main() {
	cliFlags(rootCmd, &cliOpts)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
