// Package cli wires the subscriber components into the pushsubscriber commands.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/SherClockHolmes/webpush-go"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinywideclouds/go-push-subscriber/internal/backendsync"
	"github.com/tinywideclouds/go-push-subscriber/internal/coordinator"
	"github.com/tinywideclouds/go-push-subscriber/internal/metrics"
	"github.com/tinywideclouds/go-push-subscriber/internal/notice"
	"github.com/tinywideclouds/go-push-subscriber/internal/platform/agent"
	"github.com/tinywideclouds/go-push-subscriber/internal/platform/localstate"
	"github.com/tinywideclouds/go-push-subscriber/internal/platform/permission"
	"github.com/tinywideclouds/go-push-subscriber/internal/platform/pushservice"
	"github.com/tinywideclouds/go-push-subscriber/internal/tui"
	"github.com/tinywideclouds/go-push-subscriber/pkg/subscription"
	"github.com/tinywideclouds/go-push-subscriber/subscriber/config"
)

const usage = `usage: pushsubscriber <command> [flags]

commands:
  status                      show the current subscription state
  enable                      enable push notifications
  ui                          interactive notification settings
  permission granted|denied|default
                              record a permission decision
  keygen                      generate a VAPID key pair
`

// ErrUsage is returned for unknown commands or bad arguments.
var ErrUsage = errors.New("invalid usage")

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	stdin      *os.File
	stdout     io.Writer
	httpClient *http.Client
}

func NewApp(cfg *config.Config, logger *slog.Logger, stdin *os.File, stdout io.Writer) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		stdin:  stdin,
		stdout: stdout,
	}
}

// WithHTTPClient overrides the client used for the push service and backend.
func (a *App) WithHTTPClient(c *http.Client) *App {
	a.httpClient = c
	return a
}

// Run executes one command. args excludes the program name.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(a.stdout, usage)
		return ErrUsage
	}

	switch args[0] {
	case "status":
		return a.status(ctx)
	case "enable":
		return a.enable(ctx, args[1:])
	case "ui":
		return a.ui(ctx)
	case "permission":
		return a.permission(ctx, args[1:])
	case "keygen":
		return a.keygen()
	case "help", "-h", "--help":
		fmt.Fprint(a.stdout, usage)
		return nil
	default:
		fmt.Fprint(a.stdout, usage)
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}
}

func (a *App) status(ctx context.Context) error {
	c := a.coordinator(permission.NewTerminalPrompter(a.stdin, a.stdout), notice.NewConsole(a.stdout))
	if err := c.Mount(ctx); err != nil {
		a.logger.Warn("Status check failed", "err", err)
	}
	s := c.State()
	fmt.Fprintf(a.stdout, "phase=%s permission=%s subscribed=%t\n", s.Phase, s.Permission, s.IsSubscribed)
	return nil
}

func (a *App) enable(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("enable", flag.ContinueOnError)
	fs.SetOutput(a.stdout)
	auto := fs.Bool("auto", false, "run as an automatic attempt (no success or blocked notices)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}

	c := a.coordinator(permission.NewTerminalPrompter(a.stdin, a.stdout), notice.NewConsole(a.stdout))
	err := c.Subscribe(ctx, !*auto)
	// Dismissal and blocking are user choices, not command failures.
	if errors.Is(err, subscription.ErrPermissionDenied) || errors.Is(err, subscription.ErrPermissionDismissed) {
		return nil
	}
	return err
}

func (a *App) ui(ctx context.Context) error {
	prompter := tui.NewPrompter()
	notices := make(notice.Channel, 8)
	states := make(chan coordinator.State, 1)

	c := a.coordinator(prompter, notices, coordinator.WithListener(tui.StateFeed(states)))
	model := tui.New(ctx, c, states, notices, prompter)

	_, err := tea.NewProgram(model, tea.WithContext(ctx), tea.WithInput(a.stdin), tea.WithOutput(a.stdout)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (a *App) permission(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: permission needs exactly one of granted, denied, default", ErrUsage)
	}
	state, err := subscription.ParsePermissionState(args[0])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	perms := permission.NewStore(localstate.New(a.cfg.StateDir), nil, a.logger)
	if err := perms.Set(ctx, state); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "permission=%s\n", state)
	return nil
}

func (a *App) keygen() error {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return fmt.Errorf("failed to generate VAPID keys: %w", err)
	}
	fmt.Fprintf(a.stdout, "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", publicKey, privateKey)
	return nil
}

// coordinator assembles one coordinator over the local platform.
func (a *App) coordinator(prompter permission.Prompter, notifier subscription.Notifier, opts ...coordinator.Option) *coordinator.Coordinator {
	dir := localstate.New(a.cfg.StateDir)
	perms := permission.NewStore(dir, prompter, a.logger)

	registrar := agent.NewRegistrar(agent.NewLocalInstaller(dir), a.cfg.Agent.ScriptURL, a.cfg.Agent.Scope, a.logger)
	store := pushservice.NewStore(dir, perms, a.cfg.PushServiceURL, a.httpClient, a.logger)
	backend := backendsync.NewClient(backendsync.Config{
		BaseURL:        a.cfg.Backend.BaseURL,
		AccessToken:    a.cfg.Backend.AccessToken,
		Timeout:        a.cfg.Backend.Timeout,
		BreakerTimeout: a.cfg.Backend.BreakerTimeout,
	}, a.httpClient, a.logger)

	if a.cfg.MetricsEnabled {
		recorder, err := metrics.NewRecorder()
		if err != nil {
			a.logger.Warn("Metrics disabled", "err", err)
		} else {
			opts = append(opts, coordinator.WithRecorder(recorder))
		}
	}

	return coordinator.New(coordinator.Deps{
		Permissions: perms,
		Registrar:   registrar,
		Store:       store,
		Backend:     backend,
		Notifier:    notifier,
		PublicKey:   a.cfg.VapidPublicKey,
	}, a.logger, opts...)
}
