package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/atuona/mediabot/pkg/bus"
	"github.com/atuona/mediabot/pkg/channels"
	"github.com/atuona/mediabot/pkg/config"
	"github.com/atuona/mediabot/pkg/dispatch"
	"github.com/atuona/mediabot/pkg/gateway"
	"github.com/atuona/mediabot/pkg/imagegen"
	"github.com/atuona/mediabot/pkg/mediaproviders"
	"github.com/atuona/mediabot/pkg/orchestrator"
	"github.com/atuona/mediabot/pkg/poller"
	"github.com/atuona/mediabot/pkg/scheduler"
	"github.com/atuona/mediabot/pkg/utils"
	"github.com/atuona/mediabot/pkg/videogen"
	"github.com/atuona/mediabot/pkg/visualization"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: mediabot <command> [args]")
		fmt.Println("Commands: run, visualize, gallery, onboard")
		os.Exit(1)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "run":
		err = runServe(os.Args[2:])
	case "visualize":
		err = runVisualize(os.Args[2:])
	case "gallery":
		err = runGallery(os.Args[2:])
	case "onboard":
		err = runOnboard(os.Args[2:])
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the components shared by every subcommand.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	repo      visualization.Repository
	scheduler *scheduler.Service
	poller    *poller.Poller
	orch      *orchestrator.Orchestrator
	closeRepo func()
}

func setup(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	workspace := cfg.WorkspacePath()
	logger := utils.SetupLogger(filepath.Join(workspace, "logs"), cfg.LogLevel, cfg.AppEnv)

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}

	factory := mediaproviders.NewFactory(cfg)
	primary, secondary, err := factory.ImageChains()
	if err != nil {
		closeRepo()
		return nil, fmt.Errorf("image providers: %w", err)
	}
	videoChain, err := factory.VideoChain()
	if err != nil {
		closeRepo()
		return nil, fmt.Errorf("video providers: %w", err)
	}

	images := imagegen.NewCoordinator(primary, secondary, logger)
	if cfg.Media.Image.RetryBudget > 0 {
		images.RetryBudget = cfg.Media.Image.RetryBudget
	}
	if cfg.Media.Image.BaseDelaySeconds > 0 {
		images.BaseDelay = time.Duration(cfg.Media.Image.BaseDelaySeconds) * time.Second
	}

	ratios, err := mediaproviders.ParseAspectRatios(strings.Join(cfg.Media.AspectRatios, ","))
	if err != nil {
		closeRepo()
		return nil, fmt.Errorf("media.aspectRatios: %w", err)
	}

	sched := scheduler.NewService(logger)
	poll := poller.New(sched, logger)
	orch := orchestrator.New(orchestrator.Deps{
		Repo:   repo,
		Images: images,
		Videos: videogen.NewCoordinator(videoChain, logger),
		Poller: poll,
		Logger: logger,
	}, orchestrator.Options{
		OutputFormat:  cfg.Media.Image.OutputFormat,
		Loop:          cfg.Media.Video.Loop,
		DefaultRatios: ratios,
	})

	logger.Info().
		Int("image_primary", len(primary)).
		Int("image_secondary", len(secondary)).
		Int("video", len(videoChain)).
		Str("storage", cfg.Storage.Backend).
		Msg("mediabot: configured")

	return &app{
		cfg:       cfg,
		logger:    logger,
		repo:      repo,
		scheduler: sched,
		poller:    poll,
		orch:      orch,
		closeRepo: closeRepo,
	}, nil
}

func openRepository(ctx context.Context, cfg *config.Config) (visualization.Repository, func(), error) {
	switch cfg.Storage.Backend {
	case "postgres":
		pool, err := visualization.NewPostgresPool(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		repo, err := visualization.NewPostgresRepository(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool.Close, nil
	case "", "file":
		repo, err := visualization.OpenFileRepository(cfg.StatePath())
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("c", "", "Path to config file")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.closeRepo()

	messageBus := bus.NewMessageBus(a.logger)
	defer messageBus.Stop()

	tg := channels.NewTelegramChannel(&a.cfg.Channels.Telegram, messageBus, a.logger)
	messageBus.SubscribeOutbound(tg.Name(), tg.Send)
	// tasks resumed after a restart, found by the sweep, or started over
	// HTTP have no chat of their own
	detached := a.logSink()
	if a.cfg.Channels.Telegram.Enabled && a.cfg.Channels.Telegram.ChatID != "" {
		detached = dispatch.ChatSink{Bus: messageBus, Channel: tg.Name(), ChatID: a.cfg.Channels.Telegram.ChatID}
	}
	a.orch.SetSink(detached)

	if _, err := a.scheduler.AddJob("pending-sweep", a.cfg.Media.SweepCron, func(ctx context.Context) {
		a.orch.SweepPending(ctx)
	}); err != nil {
		return fmt.Errorf("media.sweepCron: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	a.scheduler.Start(gctx)
	defer a.scheduler.Stop()
	defer a.poller.Stop()

	if err := tg.Start(gctx); err != nil {
		return err
	}
	defer tg.Stop()

	if n, err := a.orch.Resume(gctx); err != nil {
		a.logger.Error().Err(err).Msg("mediabot: resume pending tasks")
	} else if n > 0 {
		a.logger.Info().Int("tasks", n).Msg("mediabot: resumed video polling")
	}

	g.Go(func() error {
		messageBus.DispatchOutbound(gctx)
		return nil
	})
	g.Go(func() error {
		return dispatch.New(messageBus, a.orch, a.logger).Run(gctx)
	})
	if a.cfg.Gateway.Enabled {
		addr := net.JoinHostPort(a.cfg.Gateway.Host, strconv.Itoa(a.cfg.Gateway.Port))
		srv := gateway.New(a.orch, detached, a.logger)
		g.Go(func() error {
			return srv.ListenAndServe(gctx, addr)
		})
	}

	a.logger.Info().Msg("mediabot: running, press Ctrl+C to stop")
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.logger.Info().Msg("mediabot: stopped")
	return err
}

// logSink records events in the log when no operator chat is configured.
func (a *app) logSink() orchestrator.Sink {
	return orchestrator.SinkFunc(func(_ context.Context, ev orchestrator.Event) error {
		a.logger.Info().Str("content_id", ev.ContentID).Str("event", string(ev.Kind)).Msg(ev.Text)
		return nil
	})
}

func runVisualize(args []string) error {
	fs := flag.NewFlagSet("visualize", flag.ExitOnError)
	configPath := fs.String("c", "", "Path to config file")
	contentID := fs.String("id", "", "Content id")
	prompt := fs.String("p", "", "Image prompt")
	ratioList := fs.String("r", "", "Aspect ratios, e.g. horizontal,vertical")
	title := fs.String("t", "", "Title")
	wait := fs.Bool("wait", false, "Wait for an asynchronous video to finish")
	fs.Parse(args)

	if *contentID == "" || *prompt == "" {
		return errors.New("-id and -p are required")
	}
	ratios, err := mediaproviders.ParseAspectRatios(*ratioList)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.closeRepo()
	a.scheduler.Start(ctx)
	defer a.scheduler.Stop()
	defer a.poller.Stop()

	done := make(chan struct{}, 1)
	stdout := orchestrator.SinkFunc(func(_ context.Context, ev orchestrator.Event) error {
		if ev.URL != "" {
			fmt.Printf("[%s] %s\n  %s\n", ev.Kind, ev.Text, ev.URL)
		} else {
			fmt.Printf("[%s] %s\n", ev.Kind, ev.Text)
		}
		if ev.Kind == orchestrator.EventFailure || ev.Artifact == orchestrator.ArtifactVideo {
			select {
			case done <- struct{}{}:
			default:
			}
		}
		return nil
	})

	res, err := a.orch.Orchestrate(ctx, orchestrator.Request{
		ContentID:    *contentID,
		Title:        *title,
		Prompt:       *prompt,
		AspectRatios: ratios,
	}, stdout)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s: %s\n", res.Status.Glyph(), res.ContentID, res.Status)

	if !*wait || res.Video.TaskHandle == "" {
		return nil
	}
	for a.poller.Active(res.Video.TaskHandle) {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	rec, err := a.orch.Get(ctx, res.ContentID)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s: %s\n", rec.Status.Glyph(), rec.ContentID, rec.Status)
	return nil
}

func runGallery(args []string) error {
	fs := flag.NewFlagSet("gallery", flag.ExitOnError)
	configPath := fs.String("c", "", "Path to config file")
	limit := fs.Int("n", 10, "Number of entries")
	fs.Parse(args)

	ctx := context.Background()
	a, err := setup(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.closeRepo()

	items, err := a.orch.Gallery(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Println(dispatch.FormatGallery(items))
	return nil
}

func runOnboard(args []string) error {
	fs := flag.NewFlagSet("onboard", flag.ExitOnError)
	configDir := fs.String("dir", ".mediabot", "Config directory")
	fs.Parse(args)

	if err := os.MkdirAll(*configDir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	workspace := filepath.Join(*configDir, "workspace")
	configFile := filepath.Join(*configDir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		if abs, err := filepath.Abs(workspace); err == nil {
			cfg.Workspace = abs
		} else {
			cfg.Workspace = workspace
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		if err := os.WriteFile(configFile, data, 0o600); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}
		fmt.Printf("Created config file at %s\n", configFile)
	} else {
		fmt.Printf("Config file already exists at %s\n", configFile)
	}

	if err := os.MkdirAll(filepath.Join(workspace, "logs"), 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	fmt.Printf("Created workspace at %s\n", workspace)
	fmt.Printf("Onboarding complete! Add provider keys to %s or .env.\n", configFile)
	return nil
}
