package metrics

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	appconfig "marketfeed/config"
	"marketfeed/logger"
	"marketfeed/models"
)

// putMetricDataAPI is the slice of the CloudWatch client the exporter needs.
type putMetricDataAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchExporter pushes worker health snapshots as CloudWatch metrics.
// Frame counters are sent as deltas since the previous export so that the
// Sum statistic reads as frames per period.
type CloudWatchExporter struct {
	client    putMetricDataAPI
	namespace string
	symbol    string
	now       func() time.Time

	mu   sync.Mutex
	prev *models.WorkerStats
}

// NewCloudWatchExporter loads the default AWS configuration for the
// configured region. Static credentials are used when both keys are set.
func NewCloudWatchExporter(ctx context.Context, cfg appconfig.CloudWatchConfig, symbol string) (*CloudWatchExporter, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{
		"region":    awsCfg.Region,
		"namespace": cfg.Namespace,
	}).Info("initialized CloudWatch client")

	return newExporter(cloudwatch.NewFromConfig(awsCfg), cfg.Namespace, symbol), nil
}

func newExporter(client putMetricDataAPI, namespace, symbol string) *CloudWatchExporter {
	if namespace == "" {
		namespace = "MarketFeed"
	}
	return &CloudWatchExporter{
		client:    client,
		namespace: namespace,
		symbol:    strings.ToUpper(symbol),
		now:       time.Now,
	}
}

// Export publishes one batch for st. The delta baseline only advances when
// the call succeeds.
func (e *CloudWatchExporter) Export(ctx context.Context, st models.WorkerStats) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data := e.datums(st)
	if _, err := e.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(e.namespace),
		MetricData: data,
	}); err != nil {
		return fmt.Errorf("failed to publish CloudWatch metrics: %w", err)
	}

	snapshot := st
	e.prev = &snapshot

	logger.GetLogger().WithComponent("cloudwatch").WithField("metrics", len(data)).Debug("published metrics to CloudWatch")
	return nil
}

func (e *CloudWatchExporter) datums(st models.WorkerStats) []cwtypes.MetricDatum {
	var prev models.WorkerStats
	if e.prev != nil {
		prev = *e.prev
	}

	ts := aws.Time(e.now())
	dims := []cwtypes.Dimension{
		{Name: aws.String("component"), Value: aws.String("worker")},
		{Name: aws.String("symbol"), Value: aws.String(e.symbol)},
	}
	datum := func(name string, value float64, unit cwtypes.StandardUnit) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Dimensions: dims,
			Timestamp:  ts,
			Unit:       unit,
			Value:      aws.Float64(value),
		}
	}

	connected := 0.0
	if st.Connected {
		connected = 1
	}

	return []cwtypes.MetricDatum{
		datum("tickers", delta(st.TickerCount, prev.TickerCount), cwtypes.StandardUnitCount),
		datum("order_books", delta(st.OrderBookCount, prev.OrderBookCount), cwtypes.StandardUnitCount),
		datum("trades", delta(st.TradeCount, prev.TradeCount), cwtypes.StandardUnitCount),
		datum("candles", delta(st.CandleCount, prev.CandleCount), cwtypes.StandardUnitCount),
		datum("unknown_frames", delta(st.UnknownFrameCount, prev.UnknownFrameCount), cwtypes.StandardUnitCount),
		datum("decode_errors", delta(st.DecodeErrorCount, prev.DecodeErrorCount), cwtypes.StandardUnitCount),
		datum("uptime", float64(st.UptimeSeconds), cwtypes.StandardUnitSeconds),
		datum("connected", connected, cwtypes.StandardUnitNone),
	}
}

// delta treats a counter that went backwards as a restart.
func delta(cur, prev int64) float64 {
	if cur < prev {
		return float64(cur)
	}
	return float64(cur - prev)
}
