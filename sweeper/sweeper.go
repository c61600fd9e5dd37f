// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package sweeper deletes rendered PDF files once they have outlived
// their usefulness.  It runs entirely against the storage directory
// and never touches the job queue: a swept job keeps its Succeeded
// status, and its download endpoint starts returning 404.
package sweeper

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// Sweeper periodically removes old files from a directory.
type Sweeper struct {
	// Dir is the directory to sweep.
	Dir string

	// MaxAge is the modification-time age beyond which files are
	// deleted.
	MaxAge time.Duration

	// Interval is the sweep period.
	Interval time.Duration

	// Clock defines a time source.  Only test code should need to
	// set this.
	Clock clock.Clock

	// Log receives sweep activity.  If unset, uses the standard
	// logrus logger.
	Log *logrus.Logger
}

func (s *Sweeper) setDefaults() {
	if s.Clock == nil {
		s.Clock = clock.New()
	}
	if s.Log == nil {
		s.Log = logrus.StandardLogger()
	}
}

// Run sweeps immediately and then on every interval tick, until the
// context is cancelled.  Individual sweep failures are logged and do
// not stop later sweeps.
func (s *Sweeper) Run(ctx context.Context) {
	s.setDefaults()
	s.Log.WithFields(logrus.Fields{
		"dir":      s.Dir,
		"interval": s.Interval,
		"max_age":  s.MaxAge,
	}).Info("starting cleanup sweeper")

	ticker := s.Clock.Ticker(s.Interval)
	defer ticker.Stop()

	s.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep makes one pass over the directory.
func (s *Sweeper) sweep() {
	s.setDefaults()
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.Log.WithError(err).Error("cannot read storage directory")
		}
		return
	}

	now := s.Clock.Now()
	deleted, failed := 0, 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pdf") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			failed++
			continue
		}
		if now.Sub(info.ModTime()) <= s.MaxAge {
			continue
		}
		if err := os.Remove(filepath.Join(s.Dir, entry.Name())); err != nil {
			failed++
			s.Log.WithError(err).WithField("file", entry.Name()).Error("cannot delete old file")
			continue
		}
		deleted++
	}
	if deleted > 0 || failed > 0 {
		s.Log.WithFields(logrus.Fields{
			"deleted": deleted,
			"failed":  failed,
		}).Info("cleanup pass finished")
	}
}
