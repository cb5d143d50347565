// Package promcollector exports mmvar store metrics to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	vars, err := mmvar.Open("state.mmf",
//	    mmvar.WithMetricsCollector(promcollector.New(reg, promcollector.WithNamespace("myapp"))),
//	)
package promcollector
