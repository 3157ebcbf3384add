// SPDX-License-Identifier: MIT

package resolver

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ottera/streamgate/internal/log"
	"github.com/ottera/streamgate/internal/metrics"
)

// Report summarizes a preload batch. Preload is best-effort: partial
// (or even total) failure is reported here, never returned as an error.
type Report struct {
	Total    int `json:"total"`
	Resolved int `json:"resolved"`
	Sessions int `json:"sessions"`
}

// Preload warms the cache for a prioritized list of channels.
//
// Phase 1 resolves stream URLs for all channels with bounded
// concurrency; individual failures are logged and skipped. Phase 2
// initializes sessions strictly in list order, throttled to one call
// per SessionInterval, because session initialization is assumed to be
// rate-limited upstream.
func (r *Resolver) Preload(ctx context.Context, channelIDs []string) Report {
	logger := log.WithComponentFromContext(ctx, "preload")
	report := Report{Total: len(channelIDs)}
	if len(channelIDs) == 0 {
		return report
	}

	// Phase 1: concurrent bulk resolve.
	sem := make(chan struct{}, r.cfg.PreloadWorkers)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		resolved int
	)
	for _, id := range channelIDs {
		wg.Add(1)
		go func(channelID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if _, err := r.ResolveStreamURL(ctx, channelID); err != nil {
				metrics.PreloadItemsTotal.WithLabelValues("resolve", "failure").Inc()
				logger.Warn().Err(err).Str("channel", channelID).Msg("preload resolve failed")
				return
			}
			metrics.PreloadItemsTotal.WithLabelValues("resolve", "success").Inc()
			mu.Lock()
			resolved++
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	report.Resolved = resolved

	// Phase 2: sequential session warm-up in list order.
	limiter := rate.NewLimiter(rate.Every(r.cfg.SessionInterval), 1)
	for _, id := range channelIDs {
		if err := limiter.Wait(ctx); err != nil {
			logger.Warn().Err(err).Msg("preload aborted during session warm-up")
			break
		}
		if _, err := r.InitializeSession(ctx, id); err != nil {
			metrics.PreloadItemsTotal.WithLabelValues("session", "failure").Inc()
			logger.Warn().Err(err).Str("channel", id).Msg("preload session init failed")
			continue
		}
		metrics.PreloadItemsTotal.WithLabelValues("session", "success").Inc()
		report.Sessions++
	}

	logger.Info().
		Int("total", report.Total).
		Int("resolved", report.Resolved).
		Int("sessions", report.Sessions).
		Msg("preload complete")
	return report
}
