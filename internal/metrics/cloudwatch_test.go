package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"marketfeed/models"
)

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func valueOf(t *testing.T, data []cwtypes.MetricDatum, name string) float64 {
	t.Helper()
	for _, d := range data {
		if d.MetricName != nil && *d.MetricName == name {
			return *d.Value
		}
	}
	t.Fatalf("metric %q not published", name)
	return 0
}

func TestExportSendsCounterDeltas(t *testing.T) {
	cw := &fakeCloudWatch{}
	e := newExporter(cw, "", "btcusdt")
	e.now = func() time.Time { return time.UnixMilli(1700000000000) }

	first := models.WorkerStats{TickerCount: 10, TradeCount: 4, UptimeSeconds: 30, Connected: true}
	if err := e.Export(context.Background(), first); err != nil {
		t.Fatalf("export: %v", err)
	}
	second := models.WorkerStats{TickerCount: 25, TradeCount: 4, UptimeSeconds: 60}
	if err := e.Export(context.Background(), second); err != nil {
		t.Fatalf("export: %v", err)
	}

	if len(cw.inputs) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(cw.inputs))
	}
	if ns := *cw.inputs[0].Namespace; ns != "MarketFeed" {
		t.Fatalf("namespace = %q", ns)
	}

	batch := cw.inputs[1].MetricData
	if got := valueOf(t, batch, "tickers"); got != 15 {
		t.Fatalf("tickers delta = %v, want 15", got)
	}
	if got := valueOf(t, batch, "trades"); got != 0 {
		t.Fatalf("trades delta = %v, want 0", got)
	}
	if got := valueOf(t, batch, "uptime"); got != 60 {
		t.Fatalf("uptime = %v, want 60", got)
	}
	if got := valueOf(t, cw.inputs[0].MetricData, "connected"); got != 1 {
		t.Fatalf("connected = %v, want 1", got)
	}
	if got := valueOf(t, batch, "connected"); got != 0 {
		t.Fatalf("connected = %v, want 0", got)
	}

	var symbol string
	for _, d := range batch[0].Dimensions {
		if *d.Name == "symbol" {
			symbol = *d.Value
		}
	}
	if symbol != "BTCUSDT" {
		t.Fatalf("symbol dimension = %q", symbol)
	}
}

func TestExportFailureKeepsBaseline(t *testing.T) {
	cw := &fakeCloudWatch{err: errors.New("throttled")}
	e := newExporter(cw, "Feed", "ethusdt")

	if err := e.Export(context.Background(), models.WorkerStats{TickerCount: 5}); err == nil {
		t.Fatal("expected error from failing client")
	}

	cw.err = nil
	if err := e.Export(context.Background(), models.WorkerStats{TickerCount: 8}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if got := valueOf(t, cw.inputs[0].MetricData, "tickers"); got != 8 {
		t.Fatalf("tickers delta = %v, want 8 after failed export", got)
	}
}

func TestDeltaTreatsResetAsRestart(t *testing.T) {
	if got := delta(3, 10); got != 3 {
		t.Fatalf("delta(3,10) = %v, want 3", got)
	}
	if got := delta(10, 3); got != 7 {
		t.Fatalf("delta(10,3) = %v, want 7", got)
	}
}
