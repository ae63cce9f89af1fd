/*
Package monitoring exposes gateway metrics in Prometheus format.

Every Metrics value owns its registry, so several gateways (or tests) can
live in one process. Metrics are prefixed with termgate_:

	sessions_active            registered terminal sessions
	channel_events_total       events by direction and name
	channel_connected          1 while the backend channel is open
	poll_total                 polls by collection and status
	notifications_total        notifications by kind
	dropped_output_total       output for unknown sessions
	viewer_connections         attached terminal viewers

Usage:

	metrics := monitoring.NewMetrics()
	gw := gateway.New(cfg, ch, backend, logger, gateway.WithHooks(metrics.GatewayHooks()))
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
