package main

import (
	"context"
	"fmt"

	"github.com/c360/windowcache/health"
	"github.com/c360/windowcache/natsclient"
)

// queueHighWater is the queue fill ratio at which the pool reports degraded.
const queueHighWater = 0.9

// registerProbes adds the item store and worker pool probes to m.
func registerProbes(m *health.Monitor, a *app) {
	m.Register("itemstore", func(ctx context.Context) error {
		_, err := a.oracle.Sequence(ctx)
		return err
	})
	m.Register("orchestrator", func(context.Context) error {
		stats := a.svc.PoolStats()
		if stats.QueueSize > 0 && float64(stats.QueueDepth) >= queueHighWater*float64(stats.QueueSize) {
			return health.Degraded(fmt.Errorf("generation queue %d/%d", stats.QueueDepth, stats.QueueSize))
		}
		return nil
	})
}

// natsProbe reports the NATS connection state.
func natsProbe(client *natsclient.Client) health.Probe {
	return func(context.Context) error {
		switch st := client.Status(); st {
		case natsclient.StatusConnected:
			return nil
		case natsclient.StatusReconnecting:
			return health.Degraded(fmt.Errorf("nats %s", st))
		default:
			return fmt.Errorf("nats %s", st)
		}
	}
}
