package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/vivarium/internal/api"
	"github.com/nidhogg/vivarium/internal/cognition"
	"github.com/nidhogg/vivarium/internal/config"
	"github.com/nidhogg/vivarium/internal/dialogue"
	"github.com/nidhogg/vivarium/internal/engine"
	"github.com/nidhogg/vivarium/internal/memory"
	"github.com/nidhogg/vivarium/internal/notify"
	"github.com/nidhogg/vivarium/internal/plan"
	"github.com/nidhogg/vivarium/internal/relation"
	"github.com/nidhogg/vivarium/internal/sim"
	pgstore "github.com/nidhogg/vivarium/internal/store"
	"github.com/nidhogg/vivarium/internal/vectorstore"
	"github.com/nidhogg/vivarium/internal/world"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Vivarium...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/vivarium.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Cognition router with fallback chain
	router := cognition.NewRouter(logger)
	for i, bc := range cfg.Cognition {
		client := cognition.NewClient(cognition.ClientConfig{
			ID:             bc.ID,
			Endpoint:       bc.Endpoint,
			APIKey:         bc.APIKey,
			Model:          bc.Model,
			EmbeddingModel: bc.EmbeddingModel,
			Timeout:        time.Duration(bc.TimeoutSec) * time.Second,
		}, logger)
		router.Register(client)
		if i == 0 {
			router.SetDefault(bc.ID)
		}
	}

	// PostgreSQL store
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), cfg.Migrations); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
		}
	}

	// Qdrant vector index
	var vectors *vectorstore.Client
	if cfg.Database.Qdrant.Host != "" {
		vc, vErr := vectorstore.NewClient(context.Background(), vectorstore.QdrantConfig{
			Host:       cfg.Database.Qdrant.Host,
			Port:       cfg.Database.Qdrant.Port,
			Collection: cfg.Database.Qdrant.Collection,
			Dimension:  uint64(cfg.Database.Qdrant.Dimension),
		})
		if vErr != nil {
			logger.Warn("Qdrant unavailable, running without vector index", zap.Error(vErr))
		} else {
			vectors = vc
		}
	}

	// Relationship store: Neo4j graph or in-process fallback
	var relations relation.Store
	var graph *relation.Graph
	if cfg.Database.Neo4j.URI != "" {
		g, gErr := relation.NewGraph(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User,
			cfg.Database.Neo4j.Password, cfg.Database.Neo4j.DecayRate, logger)
		if gErr == nil {
			gErr = g.Ping(context.Background())
		}
		if gErr != nil {
			logger.Warn("Neo4j unavailable, using in-process relationships", zap.Error(gErr))
		} else {
			graph = g
			relations = g
		}
	}
	if relations == nil {
		relations = relation.NewInMemory()
	}

	// Memory store
	weights := memory.Weights{
		Alpha:         cfg.Simulation.RelevanceWeight,
		Beta:          cfg.Simulation.RecencyWeight,
		Gamma:         cfg.Simulation.ImportanceWeight,
		HalfLifeHours: cfg.Simulation.RecencyHalfLifeHrs,
	}
	memOpts := []memory.Option{
		memory.WithEmbedder(router),
		memory.WithTopN(cfg.Simulation.RetrievalTopN),
	}
	if pgStore != nil {
		memOpts = append(memOpts, memory.WithPersister(pgStore), memory.WithRecordLoader(pgStore))
	}
	if vectors != nil {
		memOpts = append(memOpts, memory.WithVectorIndex(vectors))
	}
	memories := memory.NewStore(weights, logger, memOpts...)

	reflections := memory.NewReflectionTrigger(memories, router, memory.ReflectionConfig{
		ImportanceThreshold: cfg.Simulation.ReflectionThreshold,
		Window:              time.Duration(cfg.Simulation.ReflectionWindowHrs) * time.Hour,
		MinCount:            cfg.Simulation.ReflectionMinCount,
	}, logger)

	planner := plan.NewPlanner(router, logger)

	// Simulated clock
	origin := cfg.TimeOrigin()
	if origin.IsZero() {
		origin = time.Now()
	}
	clock, err := sim.NewClock(cfg.Simulation.TickRateHz, cfg.Simulation.TimeMultiplier, origin, logger)
	if err != nil {
		logger.Fatal("invalid clock settings", zap.Error(err))
	}

	// World state: persisted snapshot first, then seed file, then empty
	var initial *world.State
	if pgStore != nil {
		if st, loadErr := pgStore.LoadWorldState(context.Background(), cfg.World.ID); loadErr == nil {
			initial = st
			logger.Info("World restored from snapshot",
				zap.String("world", st.WorldID), zap.Uint64("version", st.Version))
		} else if loadErr != pgstore.ErrNoSnapshot {
			logger.Warn("snapshot load failed", zap.Error(loadErr))
		}
	}
	if initial == nil && cfg.World.SeedFile != "" {
		st, seedErr := world.LoadSeed(cfg.World.SeedFile, origin)
		if seedErr != nil {
			logger.Fatal("seed load failed", zap.Error(seedErr))
		}
		initial = st
		seedLabels := make(map[string]map[string]string)
		for id, a := range st.Agents {
			if len(a.Relationships) > 0 {
				seedLabels[id] = a.Relationships
			}
		}
		relation.SeedLabels(relations, seedLabels)
		logger.Info("World seeded",
			zap.String("world", st.WorldID), zap.Int("agents", len(st.Agents)))
	}
	if initial == nil {
		initial = &world.State{WorldID: cfg.World.ID, CurrentTime: origin}
	}
	worldMgr := world.NewManager(initial, world.DefaultHistoryDepth, logger)

	dialogues := dialogue.NewCoordinator(router, relations, memories, dialogueRecorder(pgStore), clock.Now, logger)

	// Change notification bus
	var bus *notify.Bus
	if cfg.Database.Redis.URL != "" {
		b, busErr := notify.NewBus(cfg.Database.Redis.URL, cfg.Database.Redis.StreamCap, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without notifications", zap.Error(busErr))
		} else {
			bus = b
		}
	}

	// Event queue and simulation loop
	queue := sim.NewEventQueue(logger)
	pipeline := engine.NewPipeline(memories, reflections, planner, dialogues, relations, router, logger,
		engine.WithObserveRadius(cfg.Simulation.ObserveRadius))

	var notifier engine.Notifier
	if bus != nil {
		notifier = bus
	}
	loop := engine.NewLoop(clock, queue, worldMgr, pipeline, notifier, engine.LoopConfig{
		BatchSize:     cfg.Simulation.BatchSize,
		MaxConcurrent: cfg.Simulation.MaxConcurrent,
		AgentTimeout:  time.Duration(cfg.Simulation.AgentTimeoutSec) * time.Second,
	}, logger)

	// Relationship decay follows simulated time
	if graph != nil {
		clock.AddListener(sim.ListenerFunc(func(t sim.Tick) {
			graph.OnTick(t.SimulatedTime)
		}))
	}

	// Periodic world snapshot persistence
	if pgStore != nil {
		clock.AddListener(sim.ListenerFunc(func(t sim.Tick) {
			if t.TicksElapsed%100 != 0 {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := pgStore.SaveWorldState(ctx, worldMgr.Snapshot()); err != nil {
				logger.Warn("world snapshot persist failed", zap.Error(err))
			}
		}))
	}

	loop.Start()
	logger.Info("Simulation started",
		zap.Float64("tick_rate_hz", cfg.Simulation.TickRateHz),
		zap.Float64("time_multiplier", cfg.Simulation.TimeMultiplier))

	// Build HTTP handler
	handler := api.NewHandler(clock, queue, loop, worldMgr, memories, reflections, dialogues, relations, logger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Vivarium listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Vivarium...")
	loop.Stop()
	ctx := context.Background()
	srv.Shutdown(ctx)
	if pgStore != nil {
		if err := pgStore.SaveWorldState(ctx, worldMgr.Snapshot()); err != nil {
			logger.Warn("final snapshot persist failed", zap.Error(err))
		}
		pgStore.Close()
	}
	if graph != nil {
		graph.Close(ctx)
	}
	if bus != nil {
		bus.Close()
	}
	if vectors != nil {
		vectors.Close()
	}
}

// dialogueRecorder avoids handing the coordinator a non-nil interface
// wrapping a nil store.
func dialogueRecorder(s *pgstore.Store) dialogue.Recorder {
	if s == nil {
		return nil
	}
	return s
}
