// ajocached runs the cache layer against a simulated flaky Soroban RPC
// endpoint. It exists for local development: watch the decision tree
// (hit, stale hit, miss), the breaker state machine and the metrics
// stream without a wallet or a network in the loop.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	ajocache "github.com/sudo-robi/soroban-ajo-sub002"
	"github.com/sudo-robi/soroban-ajo-sub002/api"
	"github.com/sudo-robi/soroban-ajo-sub002/config"
	"github.com/sudo-robi/soroban-ajo-sub002/fetch"
	"github.com/sudo-robi/soroban-ajo-sub002/invalidation"
	"github.com/sudo-robi/soroban-ajo-sub002/metrics"
	"github.com/sudo-robi/soroban-ajo-sub002/types"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML profile; empty uses env + defaults")
		listenAddr = flag.String("listen", ":9290", "address for /metrics and /debug/cache")
		interval   = flag.Duration("interval", 2*time.Second, "simulated UI read interval")
	)
	flag.Parse()

	if err := run(*configPath, *listenAddr, *interval); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, listenAddr string, interval time.Duration) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := buildLogger(cfg.Profile)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	reg := prometheus.NewRegistry()
	promSink, err := metrics.NewPrometheusSink(reg)
	if err != nil {
		return err
	}
	sink := metrics.MultiSink{promSink, metrics.LogSink{Log: log.Named("events")}}

	cache, err := ajocache.New(cfg, log, sink)
	if err != nil {
		return err
	}
	var client api.Client = cache

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if configPath != "" {
		err = config.Watch(ctx, configPath, log.Named("config"), func(c *config.Config) {
			log.Info("profile changed on disk; restart to apply structural changes",
				zap.String("profile", string(c.Profile)))
		})
		if err != nil {
			return err
		}
	}

	srv := &http.Server{Addr: listenAddr, Handler: buildMux(reg, client)}
	go func() {
		log.Info("diagnostics listening", zap.String("addr", listenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("diagnostics server failed", zap.Error(err))
		}
	}()

	ledger := newFlakyLedger(log.Named("ledger"))
	driveUI(ctx, client, ledger, log, interval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Close(shutdownCtx); err != nil {
		log.Warn("refresh drain incomplete", zap.Error(err))
	}
	return srv.Shutdown(shutdownCtx)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.FromEnv()
}

func buildLogger(p config.Profile) (*zap.Logger, error) {
	if p == config.Production || p == config.Staging {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func buildMux(reg *prometheus.Registry, client api.Client) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/cache", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(client.ExportState())
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := client.CheckHealth()
		if !h.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(h)
	})
	return mux
}

/*
driveUI plays the part of the frontend: it reads group views on a
timer, occasionally simulates a confirmed contribution (invalidating
the affected tags), and logs the health snapshot once a minute.
*/
func driveUI(ctx context.Context, client api.Client, ledger *flakyLedger, log *zap.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	health := time.NewTicker(time.Minute)
	defer health.Stop()

	var cycle uint32 = 1
	for {
		select {
		case <-ctx.Done():
			return
		case <-health.C:
			h := client.CheckHealth()
			snap := client.Metrics()
			log.Info("cache health",
				zap.Bool("healthy", h.Healthy),
				zap.Strings("issues", h.Issues),
				zap.Float64("hit_rate", snap.HitRate),
				zap.Int("size", snap.Size))
		case <-ticker.C:
			groupID := uint64(1 + rand.Intn(3))

			v, err := client.GetOrFetch(ctx, ajocache.GroupStatusKey(groupID),
				ledger.groupStatus(groupID, cycle),
				ajocache.Options{Tags: []string{
					invalidation.TagGroup(groupID),
					invalidation.TagCycle(groupID, cycle),
				}})
			if err != nil {
				log.Warn("status read failed", zap.Uint64("group", groupID), zap.Error(err))
				continue
			}
			log.Debug("status read", zap.Uint64("group", groupID), zap.Any("value", v))

			// Every so often a member "contributes" and the cached views
			// for that group go stale through the proper channel.
			if rand.Intn(5) == 0 {
				ledger.contribute(groupID)
				n := client.InvalidateAfterMutation(
					invalidation.TagsForContribution(groupID, cycle, "GDEMO")...)
				log.Info("contribution confirmed",
					zap.Uint64("group", groupID), zap.Int("views_invalidated", n))
			}
		}
	}
}

/*
flakyLedger fakes the RPC endpoint: slow-ish answers, a failure rate
high enough to exercise the retry path, and occasional bursts bad
enough to trip the breaker.
*/
type flakyLedger struct {
	mu            sync.Mutex
	contributions map[uint64]int
	outageUntil   time.Time
	log           *zap.Logger
}

func newFlakyLedger(log *zap.Logger) *flakyLedger {
	return &flakyLedger{contributions: make(map[uint64]int), log: log}
}

func (l *flakyLedger) contribute(groupID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.contributions[groupID]++
}

func (l *flakyLedger) groupStatus(groupID uint64, cycle uint32) types.FetchFunc {
	return func(ctx context.Context) (any, error) {
		if err := l.misbehave(); err != nil {
			return nil, err
		}
		l.mu.Lock()
		n := l.contributions[groupID]
		l.mu.Unlock()
		return map[string]any{
			"group_id":      groupID,
			"cycle":         cycle,
			"contributions": n,
			"as_of":         time.Now().UTC().Format(time.RFC3339),
		}, nil
	}
}

func (l *flakyLedger) misbehave() error {
	l.mu.Lock()
	inOutage := time.Now().Before(l.outageUntil)
	if !inOutage && rand.Intn(60) == 0 {
		l.outageUntil = time.Now().Add(30 * time.Second)
		inOutage = true
		l.log.Warn("simulated rpc outage begins")
	}
	l.mu.Unlock()

	time.Sleep(time.Duration(20+rand.Intn(80)) * time.Millisecond)

	switch {
	case inOutage:
		return fetch.NetworkError(errors.New("simulated outage: connection refused"))
	case rand.Intn(10) == 0:
		return fetch.TimeoutError(errors.New("simulated rpc timeout"))
	case rand.Intn(40) == 0:
		return fetch.RateLimitError(errors.New("simulated rate limit"), 2*time.Second)
	default:
		return nil
	}
}
