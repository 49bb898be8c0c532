package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
)

// fakePinentryMain is a scripted pinentry used by the testscripts: it
// greets, acknowledges every configuration command and answers GETPIN
// and CONFIRM from environment variables.
func fakePinentryMain() {
	out := os.Stdout
	fmt.Fprintln(out, "OK Pleased to meet you")

	var trace *os.File
	if path := os.Getenv("FAKE_PINENTRY_TRACE"); path != "" {
		trace, _ = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if trace != nil {
			fmt.Fprintln(trace, line)
		}
		verb, _, _ := strings.Cut(line, " ")
		switch verb {
		case "BYE":
			fmt.Fprintln(out, "OK closing connection")
			return
		case "GETPIN":
			if os.Getenv("FAKE_PINENTRY_CANCEL") != "" {
				fmt.Fprintln(out, "ERR 83886179 Operation cancelled <Pinentry>")
				continue
			}
			fmt.Fprintf(out, "D %s\n", os.Getenv("FAKE_PINENTRY_PIN"))
			fmt.Fprintln(out, "OK")
		case "CONFIRM":
			if os.Getenv("FAKE_PINENTRY_CANCEL") != "" {
				fmt.Fprintln(out, "ERR 83886179 Operation cancelled <Pinentry>")
				continue
			}
			fmt.Fprintln(out, "OK")
		default:
			fmt.Fprintln(out, "OK")
		}
	}
}

func TestMain(m *testing.M) {
	testscript.Main(m, map[string]func(){
		"pinentry-client": main,
		"fake-pinentry":   fakePinentryMain,
	})
}

func TestScripts(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: "testdata/script",
	})
}
