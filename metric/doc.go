// Package metric provides the Prometheus registry and the /metrics HTTP server
// shared by every windowcache component.
//
// Components never register collectors on the global Prometheus registry. They
// receive a *MetricsRegistry and register under a service name, which gives
// duplicate detection per (service, metric) pair and lets tests build isolated
// registries:
//
//	registry := metric.NewMetricsRegistry()
//	hits := prometheus.NewCounter(prometheus.CounterOpts{
//	    Namespace: "windowcache",
//	    Subsystem: "lookup",
//	    Name:      "hits_total",
//	    Help:      "Point lookups served from the artifact cache",
//	})
//	if err := registry.RegisterCounter("orchestrator", "hits_total", hits); err != nil {
//	    return err
//	}
//
// A nil *MetricsRegistry is accepted everywhere a registry is optional and means
// metrics are disabled.
//
// The Server exposes the registry over HTTP together with a /health endpoint,
// which answers a static OK unless SetHealthHandler installs another handler:
//
//	srv := metric.NewServer(9090, "/metrics", registry)
//	srv.SetHealthHandler(monitor.Handler("windowcache"))
//	go srv.Start()
//	defer srv.Stop()
package metric
