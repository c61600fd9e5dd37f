// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package main provides the webprintd daemon: the webpage-to-PDF
// conversion service.  By default it runs every component in one
// process — the HTTP API, the rendering worker, and the file
// sweeper — and subcommands run each component alone for split
// deployments.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diffeo/go-webprint/cache"
	"github.com/diffeo/go-webprint/config"
	"github.com/diffeo/go-webprint/render"
	"github.com/diffeo/go-webprint/restserver"
	"github.com/diffeo/go-webprint/ssrf"
	"github.com/diffeo/go-webprint/sweeper"
	"github.com/diffeo/go-webprint/webprint"
	"github.com/diffeo/go-webprint/worker"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "webprintd"
	app.Usage = "asynchronous webpage-to-PDF conversion service"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "YAML configuration file (environment wins)",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "run only the HTTP API",
			Action: withRuntime(runServe),
		},
		{
			Name:   "work",
			Usage:  "run only the rendering worker",
			Action: withRuntime(runWork),
		},
		{
			Name:   "sweep",
			Usage:  "run only the storage sweeper",
			Action: withRuntime(runSweep),
		},
	}
	app.Action = withRuntime(runAll)

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

// runtime is everything the subcommands share.
type runtime struct {
	Config config.Config
	Queue  webprint.Queue
	Guard  *ssrf.Guard
}

// withRuntime loads configuration and opens the queue before
// delegating to a subcommand body.
func withRuntime(body func(ctx context.Context, rt *runtime) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		cfg, err := config.Load(c.GlobalString("config"))
		if err != nil {
			return err
		}
		logrus.SetLevel(cfg.LogrusLevel())
		if err = cfg.EnsureDirectories(); err != nil {
			return err
		}

		be := cfg.Backend()
		queue, err := be.Queue()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return body(ctx, &runtime{
			Config: cfg,
			Queue:  queue,
			Guard:  &ssrf.Guard{},
		})
	}
}

// runServe runs the HTTP API (with metrics) until interrupted.
func runServe(ctx context.Context, rt *runtime) error {
	defaults, err := rt.Config.JobDefaults()
	if err != nil {
		return err
	}

	go Observe(ctx, rt.Queue, time.Minute)

	// Status reads go through the terminal-job cache; everything
	// else passes through.
	apiQueue := cache.New(rt.Queue)
	handler := restserver.New(apiQueue, restserver.Options{
		Defaults:    defaults,
		Guard:       rt.Guard,
		StoragePath: rt.Config.PDFStoragePath,
	})
	logrus.WithField("addr", rt.Config.Bind()).Info("serving HTTP API")
	return ServeHTTP(ctx, handler, rt.Config.Bind())
}

// runWork runs the rendering worker until interrupted.
func runWork(ctx context.Context, rt *runtime) error {
	renderer := render.NewChrome()
	defer renderer.Close()

	w := &worker.Worker{
		Queue:        rt.Queue,
		Renderer:     renderer,
		Guard:        rt.Guard,
		StoragePath:  rt.Config.PDFStoragePath,
		PollInterval: time.Duration(rt.Config.WorkerPollIntervalSeconds) * time.Second,
	}
	return w.Run(ctx)
}

// runSweep runs the storage sweeper until interrupted.
func runSweep(ctx context.Context, rt *runtime) error {
	s := &sweeper.Sweeper{
		Dir:      rt.Config.PDFStoragePath,
		MaxAge:   time.Duration(rt.Config.CleanupFileAgeSeconds) * time.Second,
		Interval: time.Duration(rt.Config.CleanupIntervalSeconds) * time.Second,
	}
	s.Run(ctx)
	return nil
}

// runAll runs every component in one process.
func runAll(ctx context.Context, rt *runtime) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errs := make(chan error, 2)
	go func() { errs <- runWork(ctx, rt) }()
	go func() { runSweep(ctx, rt); errs <- nil }()

	err := runServe(ctx, rt)
	cancel()
	// The API exiting (error or signal) takes the process down;
	// wait for the worker to finish its in-flight job and the
	// sweeper to stop.
	for i := 0; i < 2; i++ {
		if werr := <-errs; err == nil {
			err = werr
		}
	}
	return err
}
