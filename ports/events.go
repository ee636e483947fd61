package ports

import (
	"ablab/domain/experiment"
)

// EventReaderPort supplies raw per-unit event records to the analysis
// pipeline. Implementations own file or transport mechanics; the
// engine only ever sees the ordered event slice.
type EventReaderPort interface {
	ReadEvents(source string) ([]experiment.Event, error)
}
