package dispatcher

import "github.com/ethereum/go-ethereum/metrics"

// Package-level counters, one per reactor-visible event kind, following the
// teacher's metrics.go convention of a package-level counters block (there
// expressed over CGO-side miss counters; here over go-ethereum's own
// metrics.Counter).
var (
	inputsProducedCounter      = metrics.NewRegisteredCounter("dispatcher/inputs_produced", nil)
	finishEpochProducedCounter = metrics.NewRegisteredCounter("dispatcher/finish_epoch_produced", nil)
	claimsSubmittedCounter     = metrics.NewRegisteredCounter("dispatcher/claims_submitted", nil)
	finalizationsCounter       = metrics.NewRegisteredCounter("dispatcher/finalizations", nil)
)
