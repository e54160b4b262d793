package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "marketfeed/config"
	"marketfeed/internal/health"
	"marketfeed/internal/metrics"
	"marketfeed/logger"
	"marketfeed/processor"
	"marketfeed/reader/binance"
	"marketfeed/writer"
)

// Pipeline wires the feed connection, the aggregator, the publish sink and
// the health reporter for one symbol.
type Pipeline struct {
	Stream   *binance.Stream
	Sink     *writer.Sink
	Stats    *health.Stats
	Reporter *health.Reporter

	log *logger.Log
}

// New builds the pipeline around an already open cache client. A CloudWatch
// exporter is attached when enabled; failing to create one only disables it.
func New(ctx context.Context, cfg *appconfig.Config, client redis.UniversalClient) *Pipeline {
	log := logger.GetLogger()

	sink := writer.NewSink(cfg, client)
	stats := health.NewStats(time.Now())
	agg := processor.NewAggregator(cfg, sink, stats)
	stream := binance.NewStream(cfg.Stream, agg.HandleFrame)
	reporter := health.NewReporter(stats, stream, sink, cfg.Health.Interval)

	if cfg.CloudWatch.Enabled {
		exporter, err := metrics.NewCloudWatchExporter(ctx, cfg.CloudWatch, cfg.Stream.Symbol)
		if err != nil {
			log.WithComponent("cloudwatch").WithError(err).Warn("CloudWatch metrics disabled")
		} else {
			reporter.WithExporter(exporter)
		}
	}

	return &Pipeline{
		Stream:   stream,
		Sink:     sink,
		Stats:    stats,
		Reporter: reporter,
		log:      log,
	}
}

// Run blocks until ctx is cancelled (nil) or the stream gives up
// (binance.ErrReconnectExhausted). The health reporter stops with it.
func (p *Pipeline) Run(ctx context.Context) error {
	reportCtx, stopReports := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Reporter.Run(reportCtx)
	}()

	p.log.WithComponent("pipeline").WithField("url", p.Stream.URL()).Info("pipeline started")
	err := p.Stream.Run(ctx)

	stopReports()
	wg.Wait()

	p.log.WithComponent("pipeline").WithFields(logger.Fields{
		"sink_failures": p.Sink.Failures(),
		"dials":         p.Stream.Dials(),
	}).Info("pipeline stopped")
	return err
}
