package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	CyclesRun      Counter
	CyclesSkipped  Counter
	FetchFailures  Counter
	OrdersPlaced   Counter
	OrdersCanceled Counter
	OrdersFailed   Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		CyclesRun:      n,
		CyclesSkipped:  n,
		FetchFailures:  n,
		OrdersPlaced:   n,
		OrdersCanceled: n,
		OrdersFailed:   n,
	}
}
