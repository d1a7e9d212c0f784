package main

import (
	"context"
	"flag"
	"log"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"tradecore/internal/book"
	"tradecore/internal/cache"
	"tradecore/internal/cache/pebble"
	"tradecore/internal/cache/postgres"
	"tradecore/internal/execution"
	"tradecore/internal/live"
	"tradecore/internal/msgbus"
	"tradecore/internal/msgbus/stream"
	"tradecore/internal/obs"
	"tradecore/internal/ops"
	"tradecore/internal/order"
	"tradecore/internal/ratelimit"
	"tradecore/internal/recorder"
	"tradecore/internal/risk"
	"tradecore/pkg/clock"
	"tradecore/pkg/conn"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	envPath := flag.String("env", ".env", "Path to the env file carrying credentials")
	profileAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disable)")
	flag.Parse()

	loaded, err := ops.Load(*configPath, *envPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if *profileAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "tradecore/trader",
			ServerAddress:   *profileAddr,
			Tags: map[string]string{
				"env":    loaded.Environment.String(),
				"trader": string(loaded.TraderID),
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sys.Shutdown()
		logs.Info("trader: shutdown signal received")
		cancel()
	}()

	if err := run(ctx, loaded); err != nil {
		log.Fatalf("trader failed: %v", err)
	}
}

func run(ctx context.Context, loaded ops.Loaded) error {
	metrics := obs.NewMetrics()
	clk := clock.Real()

	c, err := openCache(loaded.Cache, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(context.Background()); err != nil {
			logs.Errorf("trader: close cache, err: %+v", err)
		}
	}()
	if err := c.LoadAll(ctx); err != nil {
		return errors.Wrap(err, "load cache")
	}
	for _, inst := range loaded.Instruments {
		if err := c.AddInstrument(inst); err != nil {
			return errors.Wrapf(err, "add instrument %s", inst.ID)
		}
	}

	runner := msgbus.NewRunner(msgbus.NewBus(string(loaded.TraderID)), msgbus.WithMetrics(metrics), msgbus.WithClock(clk))

	quotas := make([]ratelimit.Option[string], 0, len(loaded.Quotas)+1)
	quotas = append(quotas, ratelimit.WithMetrics[string](metrics))
	for key, q := range loaded.Quotas {
		quotas = append(quotas, ratelimit.WithQuota(key, q))
	}
	limiter, err := ratelimit.New(loaded.DefaultQuota, quotas...)
	if err != nil {
		return errors.Wrap(err, "rate limiter")
	}

	var writer *recorder.Writer
	if loaded.RecorderDir != "" {
		writer, err = recorder.NewWriter(recorder.DefaultConfig(loaded.RecorderDir))
		if err != nil {
			return errors.Wrap(err, "recorder")
		}
		if err := writer.Start(ctx); err != nil {
			return errors.Wrap(err, "start recorder")
		}
		defer func() {
			if err := writer.Close(); err != nil {
				logs.Errorf("trader: close recorder, err: %+v", err)
			}
		}()
	}

	venues, err := buildVenues(loaded, venueDeps{
		runner:   runner,
		limiter:  limiter,
		recorder: writer,
		metrics:  metrics,
	})
	if err != nil {
		return err
	}

	books := book.NewEngine(loaded.Book,
		book.WithMetrics(metrics),
		book.WithClock(clk),
		book.WithResync(live.ResyncTo(venues.data...)),
	)
	checker, err := risk.NewEngine(loaded.Risk, c, risk.WithMetrics(metrics), risk.WithReference(books.Reference))
	if err != nil {
		return errors.Wrap(err, "risk engine")
	}

	gatewayOpts := []order.Option{
		order.WithRisk(checker),
		order.WithLimiter(limiter),
		order.WithMetrics(metrics),
	}
	for _, d := range venues.delegators {
		gatewayOpts = append(gatewayOpts, order.WithDelegator(d))
	}
	gateway, err := order.NewGateway(loaded.Gateway, runner, c, gatewayOpts...)
	if err != nil {
		return errors.Wrap(err, "order gateway")
	}

	engine, err := execution.NewEngine(c, execution.WithMetrics(metrics))
	if err != nil {
		return errors.Wrap(err, "execution engine")
	}
	reconciler, err := execution.NewReconciler(loaded.Execution, engine)
	if err != nil {
		return errors.Wrap(err, "reconciler")
	}

	opts := []live.Option{
		live.WithMetrics(metrics),
		live.WithService("cache writer", c.Run),
	}
	for _, s := range venues.services {
		opts = append(opts, live.WithService(s.name, s.run))
	}
	byID := make(map[string]int, len(loaded.Instruments))
	for i, inst := range loaded.Instruments {
		byID[inst.ID.String()] = i
	}
	for _, s := range loaded.Subscriptions {
		opts = append(opts, live.WithSubscription(loaded.Instruments[byID[s.Instrument.String()]], s.Topic))
	}

	if len(loaded.Stream.Brokers) > 0 {
		kw := stream.NewKafkaWriter(loaded.Stream)
		streamer := stream.New(loaded.Stream, kw, stream.WithMetrics(metrics))
		if err := streamer.Attach(runner.Bus()); err != nil {
			return err
		}
		opts = append(opts, live.WithService("kafka stream", streamer.Run))
	}

	node, err := live.NewNode(live.Config{
		TraderID:         loaded.TraderID,
		Reconciliation:   loaded.Reconciliation,
		StartupDelay:     loaded.StartupDelay,
		Lookback:         loaded.Lookback,
		InflightInterval: loaded.InflightInterval,
		OpenInterval:     loaded.OpenInterval,
		StatusAddr:       loaded.StatusAddr,
	}, live.Parts{
		Runner:     runner,
		Cache:      c,
		Books:      books,
		Reconciler: reconciler,
		Gateway:    gateway,
		Data:       venues.data,
	}, opts...)
	if err != nil {
		return errors.Wrap(err, "live node")
	}

	logs.Infof("trader: %s starting with %d venues and %d instruments", loaded.TraderID, len(loaded.Venues), len(loaded.Instruments))
	return node.Run(ctx)
}

func openCache(cfg ops.CacheConfig, metrics *obs.Metrics) (*cache.Cache, error) {
	var db cache.Database
	switch cfg.Backing {
	case "pebble":
		pdb, err := pebble.Open(cfg.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "open pebble %s", cfg.Path)
		}
		db = pdb
	case "postgres":
		client, err := conn.OpenPostgres(cfg.Postgres)
		if err != nil {
			return nil, errors.Wrap(err, "open postgres")
		}
		pdb, err := postgres.New(client)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		db = pdb
	default:
		return cache.New(cache.WithMetrics(metrics)), nil
	}
	return cache.New(cache.WithDatabase(db, cfg.WriteLimit), cache.WithMetrics(metrics)), nil
}
