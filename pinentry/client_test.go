package pinentry

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxboron/pinentry-client/internal/assuan"
)

// writeHelper drops a scripted stand-in for a pinentry binary into a
// temporary directory, the same way the upstream pinentries are faked in
// gpg-agent's own test suite.
func writeHelper(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-pinentry")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

const okHelper = `#!/bin/sh
echo "OK Pleased to meet you"
while read -r line; do
	case "$line" in
	GETPIN*) printf 'D %s\n' "${FAKE_PIN:-secret}"; echo "OK" ;;
	BYE*) echo "OK closing connection"; exit 0 ;;
	*) echo "OK" ;;
	esac
done
`

const cancelHelper = `#!/bin/sh
echo "OK Pleased to meet you"
while read -r line; do
	case "$line" in
	GETPIN*|CONFIRM*) echo "ERR 83886179 Operation cancelled <Pinentry>" ;;
	BYE*) echo "OK closing connection"; exit 0 ;;
	*) echo "OK" ;;
	esac
done
`

func TestConfirmAccepted(t *testing.T) {
	d := Confirmation{
		Binary: writeHelper(t, okHelper),
		Title:  "Example",
		Desc:   "Would you like to play a game?",
		OK:     "Definitely!",
		Cancel: "Maybe later",
	}
	require.NoError(t, d.Confirm())
}

func TestConfirmCancelled(t *testing.T) {
	d := Confirmation{
		Binary: writeHelper(t, cancelHelper),
		Desc:   "Proceed?",
	}
	err := d.Confirm()
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.False(t, IsTimeout(err))

	var helperErr *HelperError
	require.ErrorAs(t, err, &helperErr)
	assert.Equal(t, uint32(83886179), helperErr.Code)
	assert.Equal(t, "Operation cancelled <Pinentry>", helperErr.Description)
}

func TestConfirmDeclinedIsNotCancelled(t *testing.T) {
	helper := writeHelper(t, `#!/bin/sh
echo "OK"
while read -r line; do
	case "$line" in
	CONFIRM*) echo "ERR 83886194 Not confirmed" ;;
	BYE*) echo "OK"; exit 0 ;;
	*) echo "OK" ;;
	esac
done
`)
	d := Confirmation{Binary: helper, Desc: "Proceed?", NotOK: "No thanks"}
	err := d.Confirm()
	require.Error(t, err)
	assert.False(t, IsCancelled(err))

	var helperErr *HelperError
	require.ErrorAs(t, err, &helperErr)
	assert.Equal(t, uint32(83886194), helperErr.Code)
}

func TestMessageShow(t *testing.T) {
	d := Message{
		Binary: writeHelper(t, okHelper),
		Desc:   "This will be shown with a single button.",
		OK:     "Got it!",
	}
	require.NoError(t, d.Show())
}

func TestPassphraseInput(t *testing.T) {
	t.Setenv("FAKE_PIN", "hunter2")
	d := PassphraseInput{
		Binary: writeHelper(t, okHelper),
		Desc:   "Enter new passphrase for FooBar",
		Prompt: "Passphrase:",
	}
	secret, err := d.Interact()
	require.NoError(t, err)
	defer secret.Destroy()
	assert.Equal(t, []byte("hunter2"), secret.Expose())
}

func TestPassphraseInputCancelled(t *testing.T) {
	d := PassphraseInput{Binary: writeHelper(t, cancelHelper), Prompt: "PIN:"}
	secret, err := d.Interact()
	require.Error(t, err)
	assert.Nil(t, secret)
	assert.True(t, IsCancelled(err))
}

func TestGetPINMultiLineData(t *testing.T) {
	// The pin arrives over two D lines and only decodes correctly when
	// the lines are concatenated before percent-decoding.
	helper := writeHelper(t, `#!/bin/sh
echo "OK"
while read -r line; do
	case "$line" in
	GETPIN*) echo "D hun"; echo "D ter%32"; echo "OK" ;;
	BYE*) echo "OK"; exit 0 ;;
	*) echo "OK" ;;
	esac
done
`)
	d := PassphraseInput{Binary: helper, Prompt: "PIN:"}
	secret, err := d.Interact()
	require.NoError(t, err)
	defer secret.Destroy()
	assert.Equal(t, []byte("hunter2"), secret.Expose())
}

func TestGetPINPercentDecoding(t *testing.T) {
	helper := writeHelper(t, `#!/bin/sh
echo "OK"
while read -r line; do
	case "$line" in
	GETPIN*) echo "D %68%65%6C%6C%6F"; echo "OK" ;;
	BYE*) echo "OK"; exit 0 ;;
	*) echo "OK" ;;
	esac
done
`)
	d := PassphraseInput{Binary: helper, Prompt: "PIN:"}
	secret, err := d.Interact()
	require.NoError(t, err)
	defer secret.Destroy()
	assert.Equal(t, []byte("hello"), secret.Expose())
}

func TestOptionOrderPreserved(t *testing.T) {
	trace := filepath.Join(t.TempDir(), "trace")
	t.Setenv("FAKE_TRACE", trace)
	helper := writeHelper(t, `#!/bin/sh
echo "OK"
while read -r line; do
	case "$line" in
	OPTION*) echo "$line" >> "$FAKE_TRACE"; echo "OK" ;;
	BYE*) echo "OK"; exit 0 ;;
	*) echo "OK" ;;
	esac
done
`)
	d := Confirmation{
		Binary: helper,
		Desc:   "Proceed?",
		Options: []Option{
			{Key: "allow-external-password-cache", Value: ""},
			{Key: "default-prompt", Value: "first"},
			{Key: "default-prompt", Value: "second"},
		},
	}
	require.NoError(t, d.Confirm())

	b, err := os.ReadFile(trace)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	// Terminal options lead, then the caller's options in their order so
	// the later duplicate key wins on the helper side.
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "OPTION ttyname="))
	assert.True(t, strings.HasPrefix(lines[1], "OPTION ttytype="))
	assert.Equal(t, "OPTION allow-external-password-cache", lines[2])
	assert.Equal(t, "OPTION default-prompt=first", lines[3])
	assert.Equal(t, "OPTION default-prompt=second", lines[4])
}

func TestChildReapedAfterSuccess(t *testing.T) {
	c, err := Connect(writeHelper(t, okHelper), nil, nil, nil)
	require.NoError(t, err)
	pid := c.proc.cmd.Process.Pid

	require.NoError(t, c.Set("SETDESC", "hello"))
	require.NoError(t, c.Confirm())
	require.NoError(t, c.Close())

	// Reaped means gone from the process table, not lingering as a zombie.
	assert.ErrorIs(t, syscall.Kill(pid, 0), syscall.ESRCH)

	// A second close must not wait twice.
	require.NoError(t, c.Close())
}

func TestChildReapedAfterHelperError(t *testing.T) {
	c, err := Connect(writeHelper(t, cancelHelper), nil, nil, nil)
	require.NoError(t, err)
	pid := c.proc.cmd.Process.Pid

	err = c.Confirm()
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	_ = c.Close()

	assert.ErrorIs(t, syscall.Kill(pid, 0), syscall.ESRCH)
}

func TestHelperCrashMidSession(t *testing.T) {
	helper := writeHelper(t, `#!/bin/sh
echo "OK"
exit 1
`)
	c, err := Connect(helper, nil, nil, nil)
	require.NoError(t, err)
	pid := c.proc.cmd.Process.Pid

	err = c.Set("SETDESC", "hello")
	require.Error(t, err)

	var terminated *TerminatedError
	require.ErrorAs(t, err, &terminated)
	assert.False(t, terminated.State.Success())

	_ = c.Close()
	assert.ErrorIs(t, syscall.Kill(pid, 0), syscall.ESRCH)
}

func TestConnectBinaryMissing(t *testing.T) {
	_, err := Connect(filepath.Join(t.TempDir(), "no-such-pinentry"), nil, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoBinary)
}

func TestHandshakeError(t *testing.T) {
	helper := writeHelper(t, `#!/bin/sh
echo "ERR 83886254 No dialog support"
exit 1
`)
	_, err := Connect(helper, nil, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshake)
}

func TestHandshakeSkipsComments(t *testing.T) {
	helper := writeHelper(t, `#!/bin/sh
echo "# ready when you are"
echo "OK Pleased to meet you"
while read -r line; do
	case "$line" in
	BYE*) echo "OK"; exit 0 ;;
	*) echo "OK" ;;
	esac
done
`)
	c, err := Connect(helper, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestUnknownResponseIsProtocolError(t *testing.T) {
	helper := writeHelper(t, `#!/bin/sh
echo "OK"
while read -r line; do
	case "$line" in
	CONFIRM*) echo "BOGUS nonsense" ;;
	BYE*) echo "OK"; exit 0 ;;
	*) echo "OK" ;;
	esac
done
`)
	d := Confirmation{Binary: helper, Desc: "Proceed?"}
	err := d.Confirm()
	require.Error(t, err)
	assert.ErrorIs(t, err, assuan.ErrUnknownResponse)
}

func TestClientEnforcesPhases(t *testing.T) {
	c, err := Connect(writeHelper(t, okHelper), nil, nil, nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Confirm())
	// Configuration after the terminal command is a caller bug.
	require.Error(t, c.Set("SETDESC", "too late"))
	require.Error(t, c.Confirm())
}

func TestInteractFallsBackEnvUntouched(t *testing.T) {
	// No display overrides: the helper sees the parent environment.
	t.Setenv("FAKE_PIN", "from-parent-env")
	d := PassphraseInput{Binary: writeHelper(t, okHelper), Prompt: "PIN:"}
	secret, err := d.Interact()
	require.NoError(t, err)
	defer secret.Destroy()
	assert.Equal(t, []byte("from-parent-env"), secret.Expose())
}

func TestErrorNeverContainsSecret(t *testing.T) {
	t.Setenv("FAKE_PIN", "sup3rs3cret")
	helper := writeHelper(t, `#!/bin/sh
echo "OK"
while read -r line; do
	case "$line" in
	GETPIN*) printf 'D %s\n' "$FAKE_PIN"; echo "ERR 83886179 Operation cancelled" ;;
	BYE*) echo "OK"; exit 0 ;;
	*) echo "OK" ;;
	esac
done
`)
	d := PassphraseInput{Binary: helper, Prompt: "PIN:"}
	_, err := d.Interact()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "sup3rs3cret")
}
