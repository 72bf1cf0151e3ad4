package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/folio/adapter"
	"github.com/justapithecus/folio/cli/tui"
	"github.com/justapithecus/folio/log"
	"github.com/justapithecus/folio/runtime"
	"github.com/justapithecus/folio/session"
	"github.com/justapithecus/folio/watcher"
)

// WatchCommand returns the watch command: follow a document on disk,
// remap groups through each external change, and optionally re-execute.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Watch a document, remapping groups across edits",
		ArgsUsage: "<file>",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to folio.yaml config file",
			},
			&cli.StringFlag{
				Name:  "kernel",
				Usage: "Path to kernel binary",
			},
			&cli.StringSliceFlag{
				Name:  "kernel-arg",
				Usage: "Extra kernel argument (repeatable)",
			},
			&cli.StringFlag{
				Name:  "session",
				Usage: "Session id (default: random)",
			},
			&cli.DurationFlag{
				Name:  "debounce",
				Usage: "Editor write burst coalescing window",
			},
			&cli.BoolFlag{
				Name:  "exec",
				Usage: "Execute the document after each change",
			},
		}, ReadOnlyFlags()...),
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: folio watch [options] <file>", runtime.ExitCodeCrash)
	}
	path := c.Args().First()

	choice, err := resolveChoice(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeCrash)
	}
	if v := c.Duration("debounce"); v > 0 {
		choice.debounce = v
	}

	down, err := buildAdapter(choice.adapter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("adapter: %v", err), runtime.ExitCodeCrash)
	}
	if choice.sessionID == "" {
		choice.sessionID = uuid.NewString()
	}

	// The watcher delivers the initial content as its first event, so
	// the session starts empty and adopts it like any other change.
	targets := []adapter.Adapter{down}

	var program *tea.Program
	if c.Bool("tui") {
		program = tui.NewWatchProgram(choice.sessionID, path)
		targets = append(targets, tui.NewProgramAdapter(program))
	}

	sess := session.New(session.Config{
		SessionID:  choice.sessionID,
		Path:       path,
		KernelPath: choice.kernelPath,
		KernelArgs: choice.kernelArgs,
		Adapter:    adapter.NewFanout(targets...),
	}, "")
	defer func() { _ = sess.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	w := watcher.New(path, choice.debounce, log.NewLogger(sess.ID(), path))

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- w.Run(ctx)
	}()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = sess.Run(ctx, sessionEvents(w.Events()), watchHooks(sess, c.Bool("exec"), program == nil))
	}()

	if program != nil {
		// The TUI owns the terminal; quitting it ends the watch.
		_, tuiErr := program.Run()
		cancel()
		<-loopDone
		if tuiErr != nil {
			return cli.Exit(fmt.Sprintf("tui: %v", tuiErr), runtime.ExitCodeCrash)
		}
		return nil
	}

	err = <-watchErr
	<-loopDone
	if err != nil && !errors.Is(err, context.Canceled) {
		return cli.Exit(fmt.Sprintf("watch failed: %v", err), runtime.ExitCodeCrash)
	}
	return nil
}

// sessionEvents bridges watcher notifications into the session's event
// type; the two taxonomies share the same values.
func sessionEvents(in <-chan watcher.Event) <-chan session.WatchEvent {
	out := make(chan session.WatchEvent)
	go func() {
		defer close(out)
		for ev := range in {
			out <- session.WatchEvent{
				Type:    session.WatchEventType(ev.Type),
				Content: ev.Content,
				Err:     ev.Err,
			}
		}
	}()
	return out
}

// watchHooks wires the command's --exec behavior and progress output
// into the session's watch loop.
func watchHooks(sess *session.Session, exec, verbose bool) session.Hooks {
	return session.Hooks{
		OnChanged: func(ctx context.Context) {
			if verbose {
				fmt.Fprintf(os.Stderr, "%s document changed, %d group(s) kept\n",
					time.Now().Format("15:04:05"), len(sess.Groups()))
			}
			if !exec {
				return
			}
			result, err := sess.Execute(ctx, nil)
			switch {
			case err != nil:
				fmt.Fprintf(os.Stderr, "execution failed: %v\n", err)
			case verbose:
				fmt.Fprintf(os.Stderr, "%s run %s in %s\n",
					time.Now().Format("15:04:05"), result.Outcome.Status,
					result.Duration.Round(time.Millisecond))
			}
		},
		OnDeleted: func(context.Context) {
			if verbose {
				fmt.Fprintln(os.Stderr, "document deleted, state cleared")
			}
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		},
	}
}
