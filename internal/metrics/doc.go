/*
Package metrics provides prometheus instrumentation for storage providers.

The Collector owns a private registry, so several collectors can live in one
process (tests, multiple orchestrators) without colliding on the default one.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9100,
		Path:      "/metrics",
		Namespace: "waterbutler",
	}, logger)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}

Series:

	operations_total{provider,operation,status}
	operation_duration_seconds{provider,operation}
	bytes_transferred_total{provider,direction}
	errors_total{provider,operation,code}
	transport_retries_total{provider,method}

The code label is the ErrorCode of the failure, for example NOT_FOUND or
AMBIGUOUS_PATH. A disabled collector accepts every call and records nothing.
*/
package metrics
