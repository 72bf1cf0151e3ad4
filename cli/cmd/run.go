package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/folio/adapter"
	redisadapter "github.com/justapithecus/folio/adapter/redis"
	webhookadapter "github.com/justapithecus/folio/adapter/webhook"
	"github.com/justapithecus/folio/cli/config"
	"github.com/justapithecus/folio/cli/render"
	"github.com/justapithecus/folio/cli/tui"
	"github.com/justapithecus/folio/groups"
	"github.com/justapithecus/folio/runtime"
	"github.com/justapithecus/folio/session"
	"github.com/justapithecus/folio/types"
)

// RunCommand returns the run command: execute a document once through
// the kernel and print the final group layout.
//
// Exit codes follow the kernel outcome: 0 completed, 1 kernel error,
// 2 crash, 130 cancelled.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Execute a document once through the kernel",
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
				Name:  "lines",
				Usage: "Restrict execution to a line range, e.g. 3-7 or 5",
			},
			&cli.StringFlag{
				Name:  "session",
				Usage: "Session id (default: random)",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress result output",
			},
		}, ReadOnlyFlags()...),
		Action: runAction,
	}
}

// RunReport is the run command's printable result.
type RunReport struct {
	SessionID string              `json:"sessionId"`
	Path      string              `json:"path"`
	Outcome   string              `json:"outcome"`
	Message   string              `json:"message,omitempty"`
	Duration  string              `json:"duration"`
	Frames    int64               `json:"frames"`
	Groups    []*groups.LineGroup `json:"groups"`
}

// sessionChoice holds merged flag and config-file settings.
type sessionChoice struct {
	kernelPath string
	kernelArgs []string
	sessionID  string
	debounce   time.Duration
	adapter    config.AdapterConfig
}

func runAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: folio run [options] <file>", runtime.ExitCodeCrash)
	}
	path := c.Args().First()

	choice, err := resolveChoice(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeCrash)
	}

	lineRange, err := parseLineRange(c.String("lines"))
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeCrash)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot read %s: %v", path, err), runtime.ExitCodeCrash)
	}

	down, err := buildAdapter(choice.adapter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("adapter: %v", err), runtime.ExitCodeCrash)
	}

	sess := session.New(session.Config{
		SessionID:  choice.sessionID,
		Path:       path,
		KernelPath: choice.kernelPath,
		KernelArgs: choice.kernelArgs,
		Adapter:    down,
	}, string(content))
	defer func() { _ = sess.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SIGINT interrupts the kernel so it can emit its cancelled frame;
	// a second signal cancels the context outright.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		_ = sess.Interrupt()
		<-sigCh
		cancel()
	}()

	result, err := sess.Execute(ctx, lineRange)
	if err != nil {
		return cli.Exit(fmt.Sprintf("execution failed: %v", err), runtime.ExitCodeCrash)
	}

	if !c.Bool("quiet") {
		if err := printRunResult(c, sess, result); err != nil {
			return err
		}
	}

	return cli.Exit("", outcomeToExitCode(result.Outcome.Status))
}

func printRunResult(c *cli.Context, sess *session.Session, result *runtime.RunResult) error {
	report := RunReport{
		SessionID: sess.ID(),
		Path:      c.Args().First(),
		Outcome:   string(result.Outcome.Status),
		Message:   result.Outcome.Message,
		Duration:  result.Duration.Round(time.Millisecond).String(),
		Frames:    result.FrameCount,
		Groups:    sess.Groups(),
	}

	if c.Bool("tui") {
		return tui.Run("groups_run", report.Groups)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if err := r.Render(report); err != nil {
		return err
	}

	if result.StderrOutput != "" {
		fmt.Fprint(os.Stderr, result.StderrOutput)
	}
	return nil
}

// resolveChoice merges the config file (when given) with flags; flags
// always win.
func resolveChoice(c *cli.Context) (sessionChoice, error) {
	var choice sessionChoice

	if path := c.String("config"); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return choice, err
		}
		choice.kernelPath = cfg.Kernel.Path
		choice.kernelArgs = cfg.Kernel.Args
		choice.sessionID = cfg.Session
		choice.debounce = cfg.Watcher.Debounce.Duration
		choice.adapter = cfg.Adapter
	}

	if v := c.String("kernel"); v != "" {
		choice.kernelPath = v
	}
	if v := c.StringSlice("kernel-arg"); len(v) > 0 {
		choice.kernelArgs = v
	}
	if v := c.String("session"); v != "" {
		choice.sessionID = v
	}
	if choice.kernelPath == "" {
		choice.kernelPath = "folio-kernel"
	}
	return choice, nil
}

// buildAdapter constructs the configured downstream adapter.
// An empty type means no adapter.
func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	switch cfg.Type {
	case "":
		return nil, nil

	case "webhook":
		wcfg := webhookadapter.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: webhookadapter.DefaultRetries,
		}
		if cfg.Retries != nil {
			wcfg.Retries = *cfg.Retries
		}
		return webhookadapter.New(wcfg)

	case "redis":
		rcfg := redisadapter.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: redisadapter.DefaultRetries,
		}
		if cfg.Retries != nil {
			rcfg.Retries = *cfg.Retries
		}
		return redisadapter.New(rcfg)

	default:
		return nil, fmt.Errorf("unknown adapter type: %s (must be webhook or redis)", cfg.Type)
	}
}

// parseLineRange parses "3-7" or "5" into a 1-based inclusive range.
// Empty input means the whole document.
func parseLineRange(s string) (*types.LineRange, error) {
	if s == "" {
		return nil, nil
	}

	parts := strings.SplitN(s, "-", 2)
	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || start < 1 {
		return nil, fmt.Errorf("invalid line range %q (expected N or N-M)", s)
	}

	end := start
	if len(parts) == 2 {
		end, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || end < start {
			return nil, fmt.Errorf("invalid line range %q (expected N or N-M)", s)
		}
	}

	return &types.LineRange{LineStart: start, LineEnd: end}, nil
}

// outcomeToExitCode maps a run outcome to the process exit code.
func outcomeToExitCode(status runtime.OutcomeStatus) int {
	switch status {
	case runtime.OutcomeCompleted:
		return runtime.ExitCodeCompleted
	case runtime.OutcomeKernelError:
		return runtime.ExitCodeError
	case runtime.OutcomeCancelled:
		return runtime.ExitCodeInterrupted
	case runtime.OutcomeCrash:
		return runtime.ExitCodeCrash
	default:
		return runtime.ExitCodeCrash
	}
}
