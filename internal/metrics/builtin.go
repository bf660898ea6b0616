package metrics

// Built-in metric names recorded by the load engine.
const (
	HTTPReqs          = "http_reqs"
	HTTPReqDuration   = "http_req_duration"
	HTTPReqWaiting    = "http_req_waiting"
	HTTPReqFailed     = "http_req_failed"
	Checks            = "checks"
	Iterations        = "iterations"
	IterationDuration = "iteration_duration"
	VUs               = "vus"
)

// Builtins holds handles to the metrics every run records.
type Builtins struct {
	HTTPReqs          *Metric
	HTTPReqDuration   *Metric
	HTTPReqWaiting    *Metric
	HTTPReqFailed     *Metric
	Checks            *Metric
	Iterations        *Metric
	IterationDuration *Metric
	VUs               *Metric
}

// DeclareBuiltins declares the built-in metrics on the registry.
func DeclareBuiltins(r *Registry) (*Builtins, error) {
	b := &Builtins{}
	decls := []struct {
		name string
		kind Kind
		dst  **Metric
	}{
		{HTTPReqs, KindCounter, &b.HTTPReqs},
		{HTTPReqDuration, KindTrend, &b.HTTPReqDuration},
		{HTTPReqWaiting, KindTrend, &b.HTTPReqWaiting},
		{HTTPReqFailed, KindRate, &b.HTTPReqFailed},
		{Checks, KindRate, &b.Checks},
		{Iterations, KindCounter, &b.Iterations},
		{IterationDuration, KindTrend, &b.IterationDuration},
		{VUs, KindGauge, &b.VUs},
	}

	for _, d := range decls {
		m, err := r.Declare(d.name, d.kind)
		if err != nil {
			return nil, err
		}
		*d.dst = m
	}
	return b, nil
}
