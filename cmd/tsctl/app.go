package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dreamware/tuplespace/internal/client"
	"github.com/dreamware/tuplespace/internal/naming"
	"github.com/dreamware/tuplespace/internal/tuple"
)

const (
	defaultRegistry = "http://127.0.0.1:8080"
	defaultName     = "tuplespace"
)

// app holds shared state for all subcommands
type app struct {
	client *client.Client
	stdout io.Writer
	stderr io.Writer
}

// newApp resolves the service through the registry named by REGISTRY_ADDR.
// Nothing is contacted until a command runs.
func newApp(stdout, stderr io.Writer) *app {
	reg := naming.NewHTTPClient(envOr("REGISTRY_ADDR", defaultRegistry))
	return &app{
		client: client.New(reg, envOr("TUPLESPACE_NAME", defaultName)),
		stdout: stdout,
		stderr: stderr,
	}
}

func (a *app) Close() { a.client.Close() }

// fail reports err for cmd and returns the exit code
func (a *app) fail(cmd string, err error) int {
	fmt.Fprintf(a.stderr, "tsctl: %s: %v\n", cmd, err)
	return 1
}

func (a *app) usage(cmd, format string, args ...any) int {
	fmt.Fprintf(a.stderr, "tsctl: %s: %s\n", cmd, fmt.Sprintf(format, args...))
	return 2
}

func (a *app) print(ts ...tuple.Tuple) {
	for _, t := range ts {
		fmt.Fprintln(a.stdout, t.String())
	}
}

// parseTemplate joins the remaining arguments so unquoted shell words
// like (1, ?string) work too
func parseTemplate(args []string) (tuple.Tuple, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing template")
	}
	t, err := tuple.Parse(strings.Join(args, " "))
	if err != nil {
		return nil, err
	}
	return t, t.Validate()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
