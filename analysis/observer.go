package analysis

// Definition outcomes reported to Observer.DefinitionResolved
const (
	OutcomeFound     = "found"
	OutcomeNotFound  = "not_found"
	OutcomeMalformed = "malformed"
	OutcomeError     = "error"
)

// Observer receives coordinator events for metrics.
type Observer interface {
	QueueDepth(n int)
	DefinitionResolved(outcome string)
}

type nopObserver struct{}

func (nopObserver) QueueDepth(int)            {}
func (nopObserver) DefinitionResolved(string) {}
