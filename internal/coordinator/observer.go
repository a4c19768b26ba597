package coordinator

import (
	"github.com/dakarenzi/AI-Tutor/internal/domain"
)

// Turn outcomes passed to Observer.ObserveTurn.
const (
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
)

// Observer is notified of pipeline events. Implementations must be safe
// for concurrent use.
type Observer interface {
	ObserveTurn(capability domain.Capability, outcome string)
	ObserveFallback(from domain.Capability)
	ObserveRepair(unsafeAfter bool)
	ObservePersistFailure(op string)
}

type nopObserver struct{}

func (nopObserver) ObserveTurn(domain.Capability, string) {}
func (nopObserver) ObserveFallback(domain.Capability)     {}
func (nopObserver) ObserveRepair(bool)                    {}
func (nopObserver) ObservePersistFailure(string)          {}
