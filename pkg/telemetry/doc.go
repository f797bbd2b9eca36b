// Package telemetry wires structured logging, tracing and metrics for orgsync.
//
// Logging uses zerolog through Logger, which adds component and run fields.
// Tracing uses OpenTelemetry with an OTLP gRPC or stdout
// exporter; the orchestrator receives the tracer through Tracer.Tracer and
// opens one span per run and per resource type. Metrics implements
// engine.Metrics on a private Prometheus registry and can serve it over HTTP.
//
// A typical command sets everything up once:
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	tel.StartMetricsServer()
//
//	op := telemetry.StartOperation(tel.WithContext(ctx), "orgsync.sync")
//	defer op.End(err)
package telemetry
