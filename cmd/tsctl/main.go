// Command tsctl talks to a replicated tuple space from the shell. Tuples
// and templates are given in canonical text form, e.g. (1, "job", ?string).
package main

import (
	"fmt"
	"io"
	"os"
)

const version = "1.0.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command line and returns the process exit code
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	switch args[0] {
	case "--help", "-h", "help":
		printUsage(stdout)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintln(stdout, "tsctl", version)
		return 0
	}

	a := newApp(stdout, stderr)
	defer a.Close()

	rest := args[1:]
	switch args[0] {
	case "write":
		return a.cmdWrite(rest)
	case "read":
		return a.cmdBlocking("read", rest)
	case "take":
		return a.cmdBlocking("take", rest)
	case "try-read":
		return a.cmdTry("try-read", rest)
	case "try-take":
		return a.cmdTry("try-take", rest)
	case "read-all":
		return a.cmdAll("read-all", rest)
	case "take-all":
		return a.cmdAll("take-all", rest)
	case "watch":
		return a.cmdWatch(rest)
	case "save":
		return a.cmdSave(rest)
	case "load":
		return a.cmdLoad(rest)
	case "debug":
		return a.cmdDebug(rest)
	}
	fmt.Fprintf(stderr, "tsctl: unknown command %q\n", args[0])
	printUsage(stderr)
	return 2
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `usage: tsctl <command> [flags] [args]

Tuples:
  write TUPLE...            add tuples to the space
  read TEMPLATE             wait for a matching tuple and print it
  take TEMPLATE             wait for a matching tuple, remove and print it
  try-read TEMPLATE         print a matching tuple, exit 1 if none
  try-take TEMPLATE         remove and print a matching tuple, exit 1 if none
  read-all TEMPLATE         print every matching tuple
  take-all TEMPLATE         remove and print every matching tuple
  watch [-mode read|take] [-timing immediate|future] [-count N] TEMPLATE
                            print tuples as registrations fire

Server:
  save [PATH]               write the server's tuples to PATH or its state file
  load PATH                 replace the server's tuples with the contents of PATH
  debug [LABEL]             print the server's tuples and registrations

Environment:
  REGISTRY_ADDR             name registry URL (default http://127.0.0.1:8080)
  TUPLESPACE_NAME           service name (default tuplespace)

Templates use ?int ?float ?string ?bool ?bytes for typed wildcards and ?any
for any value, e.g. tsctl take '("job", ?int)'
`)
}
