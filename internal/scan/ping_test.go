package scan

import (
	"context"
	"testing"
	"time"

	ping "github.com/go-ping/ping"
	"github.com/rs/zerolog"
)

func TestReplied(t *testing.T) {
	if replied(nil) {
		t.Fatalf("expected missing statistics to count as silence")
	}
	if replied(&ping.Statistics{PacketsSent: 1}) {
		t.Fatalf("expected an unanswered echo to count as silence")
	}
	if !replied(&ping.Statistics{PacketsSent: 1, PacketsRecv: 1}) {
		t.Fatalf("expected a received reply to count")
	}
}

func TestICMPSweepWithoutTargets(t *testing.T) {
	hosts, err := icmpSweep(context.Background(), nil, time.Second, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hosts) != 0 {
		t.Fatalf("expected no hosts, got %v", hosts)
	}
}
