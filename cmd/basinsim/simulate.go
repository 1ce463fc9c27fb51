package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/martinemde/basin/ecokernel"
	"github.com/martinemde/basin/popsim"
)

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadSimConfig(configPath)
	if err != nil {
		return err
	}
	if seed != 0 {
		cfg.Seed = seed
	}
	kernelCfg, err := cfg.Kernel.toKernelConfig()
	if err != nil {
		return err
	}
	popCfg, err := cfg.Popsim.toPopsimConfig()
	if err != nil {
		return err
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if duration > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), duration)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	kernel := ecokernel.NewKernel(&kernelCfg,
		ecokernel.WithLogger(logger.Named("kernel")),
		ecokernel.WithRand(rand.New(rand.NewSource(cfg.Seed))),
	)
	defer kernel.Close()

	roster, err := registerRoster(kernel, cfg.Agents)
	if err != nil {
		return err
	}
	logger.Info("roster registered", zap.Int("agents", len(roster)), zap.Int64("seed", cfg.Seed))

	sim := popsim.New(kernel, &popCfg, popsim.WithLogger(logger.Named("popsim")))

	if configPath != "" {
		watcher, werr := newBetaWatcher(configPath, kernel, logger.Named("betawatch"))
		if werr != nil {
			logger.Warn("beta watcher unavailable", zap.Error(werr))
		} else if werr := watcher.Start(ctx); werr != nil {
			logger.Warn("beta watcher failed to start", zap.Error(werr))
		} else {
			defer watcher.Stop()
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed + 1))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return sampleLoop(egCtx, kernel, roster, rng, cfg) })
	eg.Go(func() error { return tickLoop(egCtx, kernel, cfg) })
	eg.Go(func() error { return sim.Run(egCtx) })
	eg.Go(func() error { return eventLoop(egCtx, kernel) })

	err = eg.Wait()
	printFinalReport(kernel, sim)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// registerRoster registers every configured agent under a unique runtime
// id and returns the ids.
func registerRoster(kernel *ecokernel.Kernel, specs []AgentSpec) ([]string, error) {
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		id := strings.ToUpper(spec.Name) + "-" + uuid.NewString()[:4]
		opts := []ecokernel.AgentOption{ecokernel.WithName(spec.Name)}
		if spec.Domain != "" {
			opts = append(opts, ecokernel.WithDomain(spec.Domain))
		}
		if spec.Phi > 0 {
			opts = append(opts, ecokernel.WithPhi(spec.Phi))
		}
		if spec.Epsilon > 0 {
			opts = append(opts, ecokernel.WithEpsilon(spec.Epsilon))
		}
		if len(spec.Capabilities) > 0 {
			opts = append(opts, ecokernel.WithCapabilities(spec.Capabilities...))
		}
		if _, err := kernel.Register(id, ecokernel.ResourceType(spec.Resource), opts...); err != nil {
			return nil, fmt.Errorf("register %s: %w", spec.Name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// sampleLoop feeds the kernel randomized cost/benefit traffic: every
// interval two distinct agents exchange one sample each, occasionally
// followed by a task outcome derived from the sample's quality.
func sampleLoop(ctx context.Context, kernel *ecokernel.Kernel, roster []string, rng *rand.Rand, cfg *SimConfig) error {
	if len(roster) < 2 {
		logger.Warn("sample loop idle: fewer than two agents registered")
		<-ctx.Done()
		return ctx.Err()
	}
	minWait, maxWait := cfg.sampleBounds()

	for {
		wait := minWait + time.Duration(rng.Float64()*float64(maxWait-minWait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		i := rng.Intn(len(roster))
		j := rng.Intn(len(roster) - 1)
		if j >= i {
			j++
		}
		for _, id := range []string{roster[i], roster[j]} {
			cost, benefit := drawSample(rng, cfg.HighCostRate)
			if err := kernel.ReportSample(id, cost, benefit); err != nil {
				if ecokernel.IsFatal(err) {
					return err
				}
				logger.Warn("sample rejected", zap.String("agent", id), zap.Error(err))
				continue
			}
			if rng.Float64() < cfg.OutcomeRate {
				quality := benefit / math.Max(cost, 0.01)
				if quality > 1 {
					quality = 1
				}
				if err := kernel.RecordOutcome(id, quality); err != nil {
					logger.Warn("outcome rejected", zap.String("agent", id), zap.Error(err))
				}
			}
		}
	}
}

// drawSample returns one cost/benefit observation. A small fraction of
// samples comes from the contention regime where cost rivals benefit.
func drawSample(rng *rand.Rand, highCostRate float64) (cost, benefit float64) {
	if rng.Float64() < highCostRate {
		return 0.8 + rng.Float64()*0.6, 0.6 + rng.Float64()*0.4
	}
	return 0.1 + rng.Float64()*0.5, 0.5 + rng.Float64()*0.7
}

// tickLoop drives the kernel's intervention retries and periodic index
// snapshots.
func tickLoop(ctx context.Context, kernel *ecokernel.Kernel, cfg *SimConfig) error {
	ticker := time.NewTicker(cfg.tickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := kernel.Tick(); err != nil {
				if ecokernel.IsFatal(err) {
					return err
				}
				logger.Warn("kernel tick", zap.Error(err))
			}
		}
	}
}

// eventLoop streams kernel events to the log as they happen.
func eventLoop(ctx context.Context, kernel *ecokernel.Kernel) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-kernel.Events():
			if !ok {
				return nil
			}
			fields := []zap.Field{
				zap.String("id", ev.ID),
				zap.String("kind", string(ev.Kind)),
			}
			if ev.Pair != nil {
				fields = append(fields, zap.String("pair", ev.Pair.String()))
			}
			if ev.Intervention != "" {
				fields = append(fields,
					zap.String("mechanism", string(ev.Intervention)),
					zap.Bool("resolved", ev.Resolved))
			}
			logger.Info(ev.Description, fields...)
		}
	}
}

// printFinalReport writes the closing ecosystem report to stdout.
func printFinalReport(kernel *ecokernel.Kernel, sim *popsim.Simulator) {
	report := struct {
		Health      ecokernel.HealthSnapshot  `json:"health"`
		Agents      []ecokernel.AgentSnapshot `json:"agents"`
		Populations map[string]float64        `json:"populations"`
		Capacities  map[string]float64        `json:"capacities"`
		PopsimTicks int                       `json:"popsim_ticks"`
	}{
		Health:      kernel.Health(),
		Agents:      kernel.ListAgents(),
		Populations: sim.Populations(),
		Capacities:  sim.Capacities(),
		PopsimTicks: sim.Ticks(),
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.Error("final report marshal failed", zap.Error(err))
		return
	}
	fmt.Println(string(out))
}
