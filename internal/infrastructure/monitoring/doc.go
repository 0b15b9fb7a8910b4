/*
Package monitoring collects Prometheus metrics for the add-on host.

Collectors are registered on a caller-supplied registry. Besides HTTP
request metrics the package tracks the add-on lifecycle:

  - addon_install_attempts_total{outcome}
  - addon_loaded and addon_load_failures_total
  - addon_staged
  - addon_store_requests_total{op,status}

Metrics satisfies the observer interfaces of the runtime registry, the
install pipeline and the store client, so wiring is a matter of passing it
to each:

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	registry.SetObserver(metrics)
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
