package models

import (
	"encoding/json"
	"testing"
)

func TestTradeEventKeepsCaseSensitiveKeys(t *testing.T) {
	raw := `{"e":"trade","E":1700000000100,"s":"BTCUSDT","t":12345,"p":"65000.10","q":"0.25","T":1700000000000,"m":true,"M":false}`
	var ev WsTradeEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.TradeID != 12345 || ev.TradeTime != 1700000000000 {
		t.Fatalf("trade id/time mixed up: %+v", ev)
	}
	if !ev.IsBuyerMaker || ev.Ignore {
		t.Fatalf("m/M mixed up: %+v", ev)
	}
}

func TestKlineEventClosedFlag(t *testing.T) {
	raw := `{"s":"BTCUSDT","k":{"t":1,"T":60000,"i":"1m","o":"1","c":"2","h":"3","l":"0.5","L":99,"v":"10","V":"4","q":"20","Q":"8","x":true}}`
	var ev WsKlineEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Kline.StartTime != 1 || ev.Kline.CloseTime != 60000 {
		t.Fatalf("t/T mixed up: %+v", ev.Kline)
	}
	if ev.Kline.Volume != "10" || ev.Kline.BuyVolume != "4" {
		t.Fatalf("v/V mixed up: %+v", ev.Kline)
	}
	if !ev.Kline.IsClosed {
		t.Fatalf("closed flag lost")
	}
}

func TestSnapshotJSONKeys(t *testing.T) {
	b, err := json.Marshal(OrderBookSnapshot{Symbol: "BTCUSDT", Bids: []OrderBookLevel{{Price: 1, Size: 2, CumulativeSize: 2}}, Asks: []OrderBookLevel{}})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"symbol":"BTCUSDT","bids":[{"price":1,"size":2,"total":2}],"asks":[],"timestamp":0}`
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}
}

func TestSpread(t *testing.T) {
	s := OrderBookSnapshot{
		Bids: []OrderBookLevel{{Price: 99.5}},
		Asks: []OrderBookLevel{{Price: 100}},
	}
	if v, ok := s.Spread(); !ok || v != 0.5 {
		t.Fatalf("spread = %v %v", v, ok)
	}
	if _, ok := (OrderBookSnapshot{}).Spread(); ok {
		t.Fatalf("empty book should have no spread")
	}
}

func TestStreamKindString(t *testing.T) {
	if KindKline.String() != "kline" || KindUnknown.String() != "unknown" || KindEmpty.String() != "empty" {
		t.Fatalf("unexpected names")
	}
}
