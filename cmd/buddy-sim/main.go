// buddy-sim drives a self-hosted allocator with a stochastic workload:
// random sizes with short random lifetimes, for a configurable number of
// steps. Every allocation is eventually released; a non-zero byte count left
// at the end would mean the allocator lost track of memory.
package main

import (
	"math/rand"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nmxmxh/buddyarena/buddy"
	"github.com/nmxmxh/buddyarena/guard"
	"github.com/nmxmxh/buddyarena/metrics"
	"github.com/nmxmxh/buddyarena/region"
)

type simConfig struct {
	regionSize int
	steps      int
	seed       int64
	maxAlloc   int
	maxDelay   int
	useGuard   bool
	verbose    bool
}

func main() {
	cfg := simConfig{}

	root := &cobra.Command{
		Use:   "buddy-sim",
		Short: "Stochastic allocator workload",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
		SilenceUsage: true,
	}
	root.Flags().IntVar(&cfg.regionSize, "size", 1<<20, "region size in bytes (power of two)")
	root.Flags().IntVar(&cfg.steps, "steps", 10000000, "simulation steps")
	root.Flags().Int64Var(&cfg.seed, "seed", 0x01371730, "random seed, 0 for time-based")
	root.Flags().IntVar(&cfg.maxAlloc, "max-alloc", 100*1024, "exclusive upper bound on allocation request sizes")
	root.Flags().IntVar(&cfg.maxDelay, "max-delay", 5, "exclusive upper bound on allocation lifetime in steps")
	root.Flags().BoolVar(&cfg.useGuard, "guard", false, "detect misuse with the guard wrapper")
	root.Flags().BoolVar(&cfg.verbose, "verbose", false, "log every allocation failure")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type releaser interface {
	Alloc(size int) []byte
	Free(block []byte)
}

type coreReleaser struct {
	*buddy.Allocator
}

type guardReleaser struct {
	g   *guard.Guard
	log *logrus.Entry
}

func (r guardReleaser) Alloc(size int) []byte {
	return r.g.Alloc(size)
}

func (r guardReleaser) Free(block []byte) {
	if err := r.g.Free(block); err != nil {
		r.log.WithError(err).Error("guard rejected a release")
	}
}

func run(cfg simConfig) error {
	log := logrus.WithFields(logrus.Fields{
		"size":  cfg.regionSize,
		"steps": cfg.steps,
	})

	metaSize := buddy.MetadataSize(cfg.regionSize)
	log.WithFields(logrus.Fields{
		"metadata_bytes": metaSize,
		"overhead_pct":   float64(metaSize) / float64(cfg.regionSize) * 100,
	}).Info("starting simulation")

	provider, err := region.NewAligned(cfg.regionSize)
	if err != nil {
		return err
	}
	allocator, err := buddy.Create(provider.Bytes())
	if err != nil {
		return err
	}
	initialUsed := allocator.Used()

	var backend releaser = coreReleaser{allocator}
	var guarded *guard.Guard
	if cfg.useGuard {
		guarded = guard.Wrap(allocator, uint(cfg.steps))
		backend = guardReleaser{g: guarded, log: log}
	}

	seed := cfg.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	pending := make([][][]byte, cfg.maxDelay)
	outstanding := 0
	failures := 0

	start := time.Now()
	for mark := 0; mark < cfg.steps; mark++ {
		size := buddy.MinLeafSize + rng.Intn(cfg.maxAlloc-buddy.MinLeafSize)
		delay := rng.Intn(cfg.maxDelay)
		slot := mark % cfg.maxDelay

		if block := backend.Alloc(size); block != nil {
			bucket := (slot + delay) % cfg.maxDelay
			pending[bucket] = append(pending[bucket], block)
			outstanding++
		} else {
			failures++
			if cfg.verbose {
				log.WithFields(logrus.Fields{
					"mark":      mark,
					"request":   size,
					"available": allocator.Available(),
					"largest":   allocator.LargestAvailable(),
				}).Warn("allocation failed")
			}
		}

		for _, block := range pending[slot] {
			backend.Free(block)
			outstanding--
		}
		pending[slot] = pending[slot][:0]
	}

	for slot := range pending {
		for _, block := range pending[slot] {
			backend.Free(block)
			outstanding--
		}
		pending[slot] = nil
	}

	lost := allocator.Used() - initialUsed
	fields := logrus.Fields{
		"elapsed":     time.Since(start),
		"failures":    failures,
		"outstanding": outstanding,
		"lost_bytes":  lost,
	}
	if guarded != nil {
		fields["violations"] = len(guarded.Violations())
	}
	log.WithFields(fields).Info("simulation finished")

	registry := prometheus.NewRegistry()
	if err := registry.Register(metrics.NewCollector(allocator)); err != nil {
		return err
	}
	families, err := registry.Gather()
	if err != nil {
		return err
	}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			log.WithFields(logrus.Fields{
				"metric": family.GetName(),
				"value":  metric.GetGauge().GetValue(),
			}).Debug("final gauge")
		}
	}

	if lost != 0 {
		log.Error("allocator lost bytes")
		os.Exit(1)
	}
	return nil
}
