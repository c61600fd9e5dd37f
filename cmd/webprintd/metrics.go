// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package main

import (
	"context"
	"math"
	"time"

	"github.com/diffeo/go-webprint/webprint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var (
	summarySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "webprint",
			Name:      "summary_seconds",
			Help:      "Seconds required to gather the job summary",
			Buckets:   prometheus.ExponentialBuckets(math.Pow(2, -5), 2, 12),
		})

	jobsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "webprint",
			Name:      "jobs",
			Help:      "Number of jobs by status",
		},
		[]string{
			"status",
		})
)

// allStatuses enumerates every status label so counts that drop to
// zero are reported as zero rather than going missing.
var allStatuses = []webprint.Status{
	webprint.Queued,
	webprint.WaitingDomainLock,
	webprint.Running,
	webprint.Succeeded,
	webprint.Failed,
}

func init() {
	prometheus.MustRegister(summarySeconds)
	prometheus.MustRegister(jobsByStatus)
}

// Observe repeatedly calls Summarize() on the queue, and publishes
// each status count on a prometheus GaugeVec and the elapsed time on
// a prometheus Histogram.  It runs until the context is cancelled.
func Observe(
	ctx context.Context,
	queue webprint.Queue,
	period time.Duration,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(period):
			t0 := time.Now()
			summary, err := queue.Summarize()
			if err != nil {
				logrus.Error(err)
				break
			}
			summarySeconds.Observe(time.Since(t0).Seconds())

			counts := make(map[webprint.Status]int)
			for _, record := range summary {
				counts[record.Status] += record.Count
			}
			for _, status := range allStatuses {
				label, err := status.MarshalText()
				if err != nil {
					logrus.Error(err)
					break
				}
				jobsByStatus.With(prometheus.Labels{
					"status": string(label),
				}).Set(float64(counts[status]))
			}
		}
	}
}
