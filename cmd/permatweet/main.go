package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"permatweet/internal/archive"
	"permatweet/internal/config"
	"permatweet/internal/credpool"
	"permatweet/internal/jobs"
	"permatweet/internal/logging"
	"permatweet/internal/metrics"
	"permatweet/internal/pipeline"
	"permatweet/internal/quota"
	"permatweet/internal/render"
	"permatweet/internal/scrape"
	"permatweet/internal/store"
	"permatweet/internal/theme"
	"permatweet/internal/xapi"
)

func init() {
	_ = godotenv.Load()
}

func main() {
	app := &cli.App{
		Name:  "permatweet",
		Usage: "archive mentioned tweets to the permaweb",
		Commands: []*cli.Command{
			newInitCommand(),
			newServeCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newInitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "write a default config file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Value: "./permatweet.yaml", Usage: "path to write config"},
		},
		Action: func(c *cli.Context) error {
			path := c.String("path")
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			abs, _ := filepath.Abs(path)
			theme.PrintBanner()
			fmt.Println("Config written to:", abs)
			return nil
		},
	}
}

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "start the mention poll loop",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "./permatweet.yaml", Usage: "config path"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := logging.Init(cfg.Logging); err != nil {
				return err
			}
			theme.PrintBanner()
			return serve(cfg)
		},
	}
}

func serve(cfg config.Config) error {
	logger := logging.Component("main")

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	pool := credpool.New(st, logging.Component("credpool"))
	seeds := make([]credpool.SeedSet, 0, len(cfg.Credentials))
	for _, cred := range cfg.Credentials {
		seeds = append(seeds, credpool.SeedSet{
			Name:         cred.Name,
			BearerToken:  cred.BearerToken,
			RequestLimit: cred.RequestLimit,
		})
	}
	if err := pool.Seed(ctx, seeds); err != nil {
		return fmt.Errorf("failed to seed credentials: %w", err)
	}

	var access xapi.AccessPolicy = pool
	if len(cfg.Credentials) == 1 && cfg.Credentials[0].RequestLimit == 0 {
		// single unlimited credential: skip pool bookkeeping entirely
		access = xapi.StaticBearer(cfg.Credentials[0].BearerToken)
	}
	client := xapi.NewHTTPClient(access)

	gate := quota.New(st, cfg.Quota, logging.Component("quota"))
	renderer := render.NewHTTPRenderer(cfg.Render.URL)
	uploader := archive.NewArweaveUploader(cfg.Archive, logging.Component("archive"))

	var source pipeline.MentionSource
	var browser *scrape.Source
	switch cfg.Pipeline.Source {
	case "browser":
		browser = scrape.NewSource(
			scrape.NewCookieStore(cfg.Browser.CookiePath),
			cfg.Browser.Headless,
			logging.Component("scrape"))
		if err := browser.Open(ctx); err != nil {
			return fmt.Errorf("failed to open browser session: %w", err)
		}
		defer browser.Close()
		source = browser
	default:
		me, err := client.UserByUsername(ctx, cfg.Account.Handle)
		if err != nil {
			return fmt.Errorf("failed to look up @%s: %w", cfg.Account.Handle, err)
		}
		source = pipeline.NewAPISource(client, me.ID, cfg.Pipeline.BatchLimit)
	}

	pipe := pipeline.New(st, client, source, gate, renderer, uploader,
		cfg.Pipeline.MaxAttempts, logging.Component("pipeline"))

	metrics.StartServer(cfg.Metrics.Addr)

	runner, err := jobs.NewRunner(cfg.Pipeline.Interval(), pipe.RunCycle, logging.Component("jobs"))
	if err != nil {
		return err
	}
	runner.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutting down", zap.String("signal", s.String()))

	<-runner.Stop().Done()
	return nil
}
