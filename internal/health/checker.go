// Package health probes the daemon's dependencies and derives readiness.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// StatusFunc is called whenever overall readiness changes.
type StatusFunc func(serving bool)

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(name string, success bool)

type probe struct {
	name     string
	check    Probe
	critical bool
}

// Checker runs periodic dependency probes. A dependency is degraded after
// FailThreshold consecutive failures and recovers on the first success. The
// daemon is ready while no critical dependency is degraded.
type Checker struct {
	probes     []probe
	httpClient *http.Client
	failCounts map[string]int
	degraded   map[string]bool
	serving    bool
	mu         sync.Mutex
	cfg        Config
	onStatus   StatusFunc
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// New creates a new Checker.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &Checker{
		httpClient: &http.Client{Timeout: cfg.ProbeTimeout},
		failCounts: make(map[string]int),
		degraded:   make(map[string]bool),
		serving:    true,
		cfg:        cfg,
		logger:     logger,
	}
}

// AddProbe registers a dependency. Only critical dependencies affect
// readiness. Probes must be added before Start.
func (h *Checker) AddProbe(name string, p Probe, critical bool) {
	h.probes = append(h.probes, probe{name: name, check: p, critical: critical})
}

// AddEndpoint registers an HTTP endpoint probe. Any 2xx, 4xx or 405 reply
// counts as reachable; only transport errors and 5xx fail.
func (h *Checker) AddEndpoint(name, url string, critical bool) {
	h.AddProbe(name, func(ctx context.Context) error {
		return h.probeEndpoint(ctx, url)
	}, critical)
}

// SetStatusFunc configures the readiness change callback.
func (h *Checker) SetStatusFunc(fn StatusFunc) {
	h.onStatus = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs the check loop until ctx is done. The first check runs
// immediately.
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		h.CheckAll(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll runs every probe concurrently and updates readiness.
func (h *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range h.probes {
		wg.Add(1)
		go func(p probe) {
			defer wg.Done()

			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := p.check(pctx)
			cancel()

			if h.onMetrics != nil {
				h.onMetrics(p.name, err == nil)
			}
			h.record(p, err)
		}(p)
	}
	wg.Wait()

	h.mu.Lock()
	serving := true
	for _, p := range h.probes {
		if p.critical && h.degraded[p.name] {
			serving = false
		}
	}
	changed := serving != h.serving
	h.serving = serving
	h.mu.Unlock()

	if changed {
		h.logger.Info("health: readiness changed", zap.Bool("serving", serving))
		if h.onStatus != nil {
			h.onStatus(serving)
		}
	}
}

func (h *Checker) record(p probe, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err == nil {
		if h.degraded[p.name] {
			h.logger.Info("health: recovered", zap.String("dependency", p.name))
		}
		h.failCounts[p.name] = 0
		h.degraded[p.name] = false
		return
	}

	h.failCounts[p.name]++
	count := h.failCounts[p.name]
	if count == h.cfg.FailThreshold {
		h.degraded[p.name] = true
		h.logger.Warn("health: degraded",
			zap.String("dependency", p.name),
			zap.Int("fail_count", count),
			zap.Error(err),
		)
	}
}

// Ready returns an error naming the degraded critical dependencies.
func (h *Checker) Ready(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var down []string
	for _, p := range h.probes {
		if p.critical && h.degraded[p.name] {
			down = append(down, p.name)
		}
	}
	if len(down) == 0 {
		return nil
	}
	sort.Strings(down)
	return fmt.Errorf("degraded: %s", strings.Join(down, ", "))
}

// probeEndpoint attempts HEAD then GET.
func (h *Checker) probeEndpoint(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := h.httpClient.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode < 500 {
			return nil
		}
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err = h.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s returned %d", endpoint, resp.StatusCode)
	}
	return nil
}
