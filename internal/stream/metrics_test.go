package stream

import "testing"

func TestMetricsTracksBytesAndDrops(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveSent("client-a", 512)
	metrics.ObserveSent("client-a", 640)
	metrics.ObserveSent("client-b", -4)
	metrics.ObserveDrop(DropBandwidth)
	metrics.ObserveDrop(DropBandwidth)
	metrics.ObserveDrop(DropBackpressure)

	bytes := metrics.BytesPerClient()
	if bytes["client-a"] != 640 {
		t.Fatalf("expected latest payload size, got %d", bytes["client-a"])
	}
	if bytes["client-b"] != 0 {
		t.Fatalf("expected negative sizes clamped, got %d", bytes["client-b"])
	}
	if metrics.Sent() != 3 {
		t.Fatalf("expected 3 sends, got %d", metrics.Sent())
	}
	drops := metrics.Drops()
	if drops[DropBandwidth] != 2 || drops[DropBackpressure] != 1 {
		t.Fatalf("unexpected drops %#v", drops)
	}

	metrics.ForgetClient("client-a")
	if _, ok := metrics.BytesPerClient()["client-a"]; ok {
		t.Fatalf("expected client gauge removed")
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveSent("client", 1)
	metrics.ObserveDrop(DropBandwidth)
	metrics.ForgetClient("client")
	if metrics.BytesPerClient() != nil || metrics.Drops() != nil || metrics.Sent() != 0 {
		t.Fatalf("expected nil metrics to report nothing")
	}
}
