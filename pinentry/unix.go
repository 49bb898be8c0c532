package pinentry

import (
	"os"
	"os/exec"
	"strings"
)

// UnixOptions carries the terminal and display hints handed to the
// helper, the same knobs gpg-agent forwards to its pinentry. The zero
// value follows the GnuPG conventions.
type UnixOptions struct {
	// TTYName is the terminal device the dialog may use. Defaults to
	// /dev/tty.
	TTYName string

	// TTYType is the terminal type for curses pinentries. Defaults to
	// $TERM, then xterm-256color.
	TTYType string

	// X11Display selects the X11 display: nil inherits DISPLAY from the
	// parent, a pointer to the empty string removes it so the helper
	// cannot use X11 at all.
	X11Display *string

	// WaylandDisplay works like X11Display for WAYLAND_DISPLAY.
	WaylandDisplay *string
}

func (o UnixOptions) ttyName() string {
	if o.TTYName != "" {
		return o.TTYName
	}
	return "/dev/tty"
}

func (o UnixOptions) ttyType() string {
	if o.TTYType != "" {
		return o.TTYType
	}
	if term := os.Getenv("TERM"); term != "" {
		return term
	}
	return "xterm-256color"
}

// options returns the OPTION pairs implied by the terminal settings, in
// the order they are sent to the helper.
func (o UnixOptions) options() []Option {
	return []Option{
		{Key: "ttyname", Value: o.ttyName()},
		{Key: "ttytype", Value: o.ttyType()},
	}
}

// environ builds the child environment with the configured display
// variables applied, or nil when the parent environment passes through
// untouched.
func (o UnixOptions) environ() []string {
	if o.X11Display == nil && o.WaylandDisplay == nil {
		return nil
	}
	env := os.Environ()
	env = applyEnv(env, "DISPLAY", o.X11Display)
	env = applyEnv(env, "WAYLAND_DISPLAY", o.WaylandDisplay)
	return env
}

func applyEnv(env []string, key string, value *string) []string {
	if value == nil {
		return env
	}
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if !strings.HasPrefix(kv, key+"=") {
			out = append(out, kv)
		}
	}
	if *value != "" {
		out = append(out, key+"="+*value)
	}
	return out
}

// DefaultBinary locates the pinentry program on PATH. It returns the
// empty string when none is installed so callers can fall back to some
// other entry method.
func DefaultBinary() string {
	path, err := exec.LookPath("pinentry")
	if err != nil {
		return ""
	}
	return path
}
