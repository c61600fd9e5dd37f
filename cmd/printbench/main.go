// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package printbench provides a load-generation tool for the
// webprint API.
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/diffeo/go-webprint/restclient"
	"github.com/diffeo/go-webprint/restdata"
	"github.com/diffeo/go-webprint/webprint"
	"github.com/satori/go.uuid"
	"github.com/urfave/cli"
)

type benchWork struct {
	Client      *restclient.Client
	Concurrency int
}

func (bench *benchWork) Run(runner func()) {
	wg := sync.WaitGroup{}
	wg.Add(bench.Concurrency)
	for i := 0; i < bench.Concurrency; i++ {
		go func() {
			defer wg.Done()
			runner()
		}()
	}
	wg.Wait()
}

var bench benchWork

var submitJobs = cli.Command{
	Name:  "submit",
	Usage: "submit many unique conversion jobs",
	Flags: []cli.Flag{
		cli.IntFlag{
			Name:  "count",
			Value: 100,
			Usage: "number of jobs to submit",
		},
		cli.StringFlag{
			Name:  "host",
			Value: "https://example.com",
			Usage: "scheme and host of the generated page URLs",
		},
	},
	Action: func(c *cli.Context) error {
		count := c.Int("count")
		host := c.String("host")
		numbers := make(chan int)
		go func() {
			for i := 1; i <= count; i++ {
				numbers <- i
			}
			close(numbers)
		}()
		var failures int64
		var mu sync.Mutex
		bench.Run(func() {
			for <-numbers != 0 {
				// Unique path per job so nothing deduplicates
				target := fmt.Sprintf("%v/bench/%v", host, uuid.NewV4().String())
				_, err := bench.Client.Submit(restdata.JobRequest{URL: target})
				if err != nil {
					mu.Lock()
					failures++
					mu.Unlock()
				}
			}
		})
		fmt.Printf("submitted %v jobs, %v failures\n", count, failures)
		return nil
	},
}

var watchJob = cli.Command{
	Name:      "watch",
	Usage:     "poll one job until it reaches a terminal state",
	ArgsUsage: "job-id",
	Flags: []cli.Flag{
		cli.DurationFlag{
			Name:  "interval",
			Value: 2 * time.Second,
			Usage: "poll interval",
		},
	},
	Action: func(c *cli.Context) error {
		jobID := c.Args().First()
		if jobID == "" {
			return cli.NewExitError("watch requires a job ID", 1)
		}
		interval := c.Duration("interval")
		for {
			status, err := bench.Client.Status(jobID)
			if err != nil {
				return err
			}
			fmt.Printf("%v attempts=%v\n", statusLabel(status.Status), status.Attempts)
			if status.Status.Terminal() {
				if status.ErrorCode != "" {
					fmt.Printf("%v: %v\n", status.ErrorCode, status.ErrorMessage)
				}
				return nil
			}
			time.Sleep(interval)
		}
	},
}

var showHealth = cli.Command{
	Name:  "health",
	Usage: "print the service health document",
	Action: func(c *cli.Context) error {
		health, err := bench.Client.Health()
		if err != nil {
			return err
		}
		fmt.Printf("service=%v database=%v worker=%v state=%v\n",
			health.Status, health.Database, health.Worker.Status, health.Worker.State)
		return nil
	},
}

func statusLabel(status webprint.Status) string {
	label, err := status.MarshalText()
	if err != nil {
		return "unknown"
	}
	return string(label)
}

func main() {
	app := cli.NewApp()
	app.Name = "printbench"
	app.Usage = "generate load against a webprint API server"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "url",
			Value: "http://localhost:8000/",
			Usage: "base URL of the API server",
		},
		cli.IntFlag{
			Name:  "concurrency",
			Value: 8,
			Usage: "number of concurrent submitters",
		},
	}
	app.Before = func(c *cli.Context) error {
		bench.Client = restclient.New(c.GlobalString("url"))
		bench.Concurrency = c.GlobalInt("concurrency")
		return nil
	}
	app.Commands = []cli.Command{submitJobs, watchJob, showHealth}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
