package loops

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/homelab/sentinel/internal/metrics"
	"github.com/homelab/sentinel/pkg/contracts"
)

// OptimizerConfig configures the Optimizer loop.
type OptimizerConfig struct {
	TickInterval time.Duration // deep tick; defaults to 30 minutes
	HistorySize  int           // defaults to 100
}

// RecommendationKind enumerates the classes of optimization recommendation.
type RecommendationKind string

const (
	RecOverProvisioned  RecommendationKind = "over_provisioned"
	RecUnderProvisioned RecommendationKind = "under_provisioned"
	RecReclaimStorage   RecommendationKind = "reclaim_storage"
	RecSlowQuery        RecommendationKind = "slow_query"
	RecUnindexedTable   RecommendationKind = "unindexed_table"
)

// Recommendation is one optimizer finding, ranked by priority.
type Recommendation struct {
	Kind             RecommendationKind
	Target           string
	Priority         int // 3-7; lower is more urgent
	RequiresApproval bool
	Detail           string
}

// ContainerEfficiency is one container's computed efficiency score.
type ContainerEfficiency struct {
	ContainerName string
	Score         float64 // (cpu% + mem%) / 2, capped at 100
}

// OptimizerSnapshot is one Optimizer tick's complete reading.
type OptimizerSnapshot struct {
	Timestamp        time.Time
	Efficiency       []ContainerEfficiency
	AggregateScore   float64 // mean per-container efficiency across this tick
	Recommendations  []Recommendation
	DanglingImages   []string
	ReclaimableBytes int64
}

// OptimizerLoop classifies resource over/under-provisioning and surfaces
// storage/query recommendations.
type OptimizerLoop struct {
	cfg OptimizerConfig

	containers contracts.ContainerProbe // optional
	images     contracts.ImageInventory // optional
	database   contracts.DatabaseProbe  // optional
	logger     *zap.Logger

	sched   *scheduler
	history *history[OptimizerSnapshot]
}

// NewOptimizerLoop constructs an Optimizer loop. Any collaborator may be nil.
func NewOptimizerLoop(cfg OptimizerConfig, containers contracts.ContainerProbe, images contracts.ImageInventory, database contracts.DatabaseProbe, logger *zap.Logger) *OptimizerLoop {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Minute
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OptimizerLoop{
		cfg: cfg, containers: containers, images: images, database: database, logger: logger,
		sched:   newScheduler("optimizer", cfg.TickInterval),
		history: newHistory[OptimizerSnapshot](cfg.HistorySize),
	}
}

func (o *OptimizerLoop) Start(ctx context.Context) { o.sched.start(ctx, o.tick) }
func (o *OptimizerLoop) Stop()                     { o.sched.stop() }
func (o *OptimizerLoop) Tick(ctx context.Context)  { o.tick(ctx) }

func (o *OptimizerLoop) tick(ctx context.Context) {
	snap := OptimizerSnapshot{Timestamp: time.Now().UTC()}

	if o.containers != nil {
		statuses, err := o.containers.ListContainers(ctx)
		if err != nil {
			o.logger.Error("container probe failed", zap.Error(err))
		}
		for _, st := range statuses {
			avg := (st.CPUPercent + st.MemoryPercent) / 2
			if avg > 100 {
				avg = 100
			}
			snap.Efficiency = append(snap.Efficiency, ContainerEfficiency{ContainerName: st.Name, Score: avg})

			switch {
			case avg < 10 && st.MemoryLimitMiB > 512:
				snap.Recommendations = append(snap.Recommendations, Recommendation{
					Kind: RecOverProvisioned, Target: st.Name, Priority: 6, RequiresApproval: false,
					Detail: fmt.Sprintf("%s is using only %.1f%% of its resource budget", st.Name, avg),
				})
			case st.MemoryPercent > 85:
				snap.Recommendations = append(snap.Recommendations, Recommendation{
					Kind: RecUnderProvisioned, Target: st.Name, Priority: 3, RequiresApproval: true,
					Detail: fmt.Sprintf("%s is at %.1f%% memory, at risk of OOM", st.Name, st.MemoryPercent),
				})
			}
		}
	}

	if len(snap.Efficiency) > 0 {
		var sum float64
		for _, e := range snap.Efficiency {
			sum += e.Score
		}
		snap.AggregateScore = sum / float64(len(snap.Efficiency))
		metrics.EfficiencyScoreGauge.Set(snap.AggregateScore)
	}

	if o.images != nil {
		if dangling, err := o.images.DanglingImages(ctx); err != nil {
			o.logger.Warn("dangling image listing failed", zap.Error(err))
		} else {
			snap.DanglingImages = dangling
		}
		if reclaimable, err := o.images.ReclaimableBytes(ctx); err != nil {
			o.logger.Warn("image inventory probe failed", zap.Error(err))
		} else if reclaimable > 0 {
			snap.ReclaimableBytes = reclaimable
			const fiveGiB = 5 * 1024 * 1024 * 1024
			snap.Recommendations = append(snap.Recommendations, Recommendation{
				Kind: RecReclaimStorage, Target: "docker", Priority: 5, RequiresApproval: reclaimable > fiveGiB,
				Detail: fmt.Sprintf("%d bytes reclaimable from unused images", reclaimable),
			})
		}
	}

	if o.database != nil {
		if health, err := o.database.Health(ctx); err == nil {
			for _, q := range health.SlowQueries {
				if q.MeanSeconds >= 1.0 {
					snap.Recommendations = append(snap.Recommendations, Recommendation{
						Kind: RecSlowQuery, Target: q.Query, Priority: 4, RequiresApproval: false,
						Detail: fmt.Sprintf("mean latency %.2fs", q.MeanSeconds),
					})
				}
			}
			for _, table := range health.UnindexedLargeTables {
				snap.Recommendations = append(snap.Recommendations, Recommendation{
					Kind: RecUnindexedTable, Target: table, Priority: 7, RequiresApproval: false,
					Detail: table + " is large and has no supporting index",
				})
			}
		}
	}

	o.history.push(snap)
}

// History returns the bounded snapshot history, oldest first.
func (o *OptimizerLoop) History() []OptimizerSnapshot {
	return o.history.snapshot()
}

// LatestRecommendations returns the most recent tick's recommendations.
func (o *OptimizerLoop) LatestRecommendations() []Recommendation {
	latest, ok := o.history.latest()
	if !ok {
		return nil
	}
	return latest.Recommendations
}
