package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dreamware/tuplespace/internal/space"
	"github.com/dreamware/tuplespace/internal/tuple"
)

// interruptible returns a context cancelled by Ctrl-C, for commands that
// may wait forever
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func (a *app) cmdWrite(args []string) int {
	fs := a.flags("write")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		return a.usage("write", "missing tuple")
	}

	// parse everything first so a typo writes nothing
	tuples := make([]tuple.Tuple, 0, fs.NArg())
	for _, arg := range fs.Args() {
		t, err := tuple.Parse(arg)
		if err != nil {
			return a.usage("write", "%v", err)
		}
		if err := t.ValidateConcrete(); err != nil {
			return a.usage("write", "%s: %v", arg, err)
		}
		tuples = append(tuples, t)
	}

	ctx, cancel := interruptible()
	defer cancel()
	for _, t := range tuples {
		if err := a.client.Write(ctx, t); err != nil {
			return a.fail("write", err)
		}
	}
	return 0
}

// cmdBlocking runs read or take
func (a *app) cmdBlocking(name string, args []string) int {
	fs := a.flags(name)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	tmpl, err := parseTemplate(fs.Args())
	if err != nil {
		return a.usage(name, "%v", err)
	}

	ctx, cancel := interruptible()
	defer cancel()
	var t tuple.Tuple
	if name == "take" {
		t, err = a.client.Take(ctx, tmpl)
	} else {
		t, err = a.client.Read(ctx, tmpl)
	}
	if err != nil {
		return a.fail(name, err)
	}
	a.print(t)
	return 0
}

// cmdTry runs try-read or try-take
func (a *app) cmdTry(name string, args []string) int {
	fs := a.flags(name)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	tmpl, err := parseTemplate(fs.Args())
	if err != nil {
		return a.usage(name, "%v", err)
	}

	ctx, cancel := interruptible()
	defer cancel()
	var (
		t  tuple.Tuple
		ok bool
	)
	if name == "try-take" {
		t, ok, err = a.client.TryTake(ctx, tmpl)
	} else {
		t, ok, err = a.client.TryRead(ctx, tmpl)
	}
	if err != nil {
		return a.fail(name, err)
	}
	if !ok {
		fmt.Fprintln(a.stderr, "no match")
		return 1
	}
	a.print(t)
	return 0
}

// cmdAll runs read-all or take-all
func (a *app) cmdAll(name string, args []string) int {
	fs := a.flags(name)
	count := fs.Bool("count", false, "print the number of matches instead of the tuples")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	tmpl, err := parseTemplate(fs.Args())
	if err != nil {
		return a.usage(name, "%v", err)
	}

	ctx, cancel := interruptible()
	defer cancel()
	var ts []tuple.Tuple
	if name == "take-all" {
		ts, err = a.client.TakeAll(ctx, tmpl)
	} else {
		ts, err = a.client.ReadAll(ctx, tmpl)
	}
	if err != nil {
		return a.fail(name, err)
	}
	if *count {
		fmt.Fprintln(a.stdout, len(ts))
		return 0
	}
	a.print(ts...)
	return 0
}

func (a *app) cmdWatch(args []string) int {
	fs := a.flags("watch")
	modeFlag := fs.String("mode", "read", "read or take")
	timingFlag := fs.String("timing", "immediate", "immediate or future")
	n := fs.Int("count", 1, "number of registrations to fire before exiting, 0 for no limit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	mode, err := space.ParseMode(*modeFlag)
	if err != nil {
		return a.usage("watch", "%v", err)
	}
	timing, err := space.ParseTiming(*timingFlag)
	if err != nil {
		return a.usage("watch", "%v", err)
	}
	if *n < 0 {
		return a.usage("watch", "-count must not be negative")
	}
	tmpl, err := parseTemplate(fs.Args())
	if err != nil {
		return a.usage("watch", "%v", err)
	}

	ctx, cancel := interruptible()
	defer cancel()

	fired := make(chan tuple.Tuple)
	register := func() error {
		return a.client.EventRegister(mode, timing, tmpl, func(t tuple.Tuple) {
			select {
			case fired <- t:
			case <-ctx.Done():
			}
		})
	}
	if err := register(); err != nil {
		return a.fail("watch", err)
	}

	// one registration at a time: each fires once, so re-register after it
	for seen := 0; *n == 0 || seen < *n; {
		select {
		case t := <-fired:
			a.print(t)
			seen++
			if *n != 0 && seen >= *n {
				return 0
			}
			if err := register(); err != nil {
				return a.fail("watch", err)
			}
		case <-ctx.Done():
			return 0
		}
	}
	return 0
}

func (a *app) cmdSave(args []string) int {
	fs := a.flags("save")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 1 {
		return a.usage("save", "at most one path")
	}

	ctx, cancel := interruptible()
	defer cancel()
	if err := a.client.Save(ctx, fs.Arg(0)); err != nil {
		return a.fail("save", err)
	}
	return 0
}

func (a *app) cmdLoad(args []string) int {
	fs := a.flags("load")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		return a.usage("load", "expected one path")
	}

	ctx, cancel := interruptible()
	defer cancel()
	if err := a.client.Load(ctx, fs.Arg(0)); err != nil {
		return a.fail("load", err)
	}
	return 0
}

func (a *app) cmdDebug(args []string) int {
	fs := a.flags("debug")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := interruptible()
	defer cancel()
	dump, err := a.client.Debug(ctx, fs.Arg(0))
	if err != nil {
		return a.fail("debug", err)
	}
	fmt.Fprint(a.stdout, dump)
	return 0
}
