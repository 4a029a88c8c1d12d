/*
Package monitoring provides Prometheus metrics for the anonymity and
torrent subsystem.

Tracked series cover the bridge HTTP surface, adblock decisions and list
refreshes, challenge solve outcomes, managed subprocess lifecycle, tor
bootstrap progress, and WebSocket event-stream connections.

Usage:

	metrics, registry := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
*/
package monitoring
