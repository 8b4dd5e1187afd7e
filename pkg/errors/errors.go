package errors

import (
	"github.com/pingcap/errors"
)

// errors used by the batch scheduler agent
var (
	// config related errors
	ErrConfigDecodeFile  = errors.Normalize("decode config file %s: %s", errors.RFCCodeText("BATCHER:ErrConfigDecodeFile"))
	ErrConfigUnknownItem = errors.Normalize("unknown config item: %s", errors.RFCCodeText("BATCHER:ErrConfigUnknownItem"))
	ErrConfigInvalid     = errors.Normalize("invalid config: %s", errors.RFCCodeText("BATCHER:ErrConfigInvalid"))

	// host collaborator errors
	ErrHostNotFound      = errors.Normalize("host %s not found", errors.RFCCodeText("BATCHER:ErrHostNotFound"))
	ErrTargetNotFound    = errors.Normalize("target %s not found", errors.RFCCodeText("BATCHER:ErrTargetNotFound"))
	ErrInsufficientValue = errors.Normalize("target %s holds %f, cannot extract %f", errors.RFCCodeText("BATCHER:ErrInsufficientValue"))
	ErrLaunchFailed      = errors.Normalize("launch %s with %d threads on %s failed", errors.RFCCodeText("BATCHER:ErrLaunchFailed"))
	ErrScenarioInvalid   = errors.Normalize("invalid scenario: %s", errors.RFCCodeText("BATCHER:ErrScenarioInvalid"))

	// driver errors
	ErrNoTarget = errors.Normalize("no target to schedule", errors.RFCCodeText("BATCHER:ErrNoTarget"))

	// bridge errors
	ErrBridgeClosed = errors.Normalize("bridge connection is closed", errors.RFCCodeText("BATCHER:ErrBridgeClosed"))
	ErrBridgeRemote = errors.Normalize("bridge call %s failed: %s", errors.RFCCodeText("BATCHER:ErrBridgeRemote"))

	// journal errors
	ErrJournalEmptyPath = errors.Normalize("journal path is empty", errors.RFCCodeText("BATCHER:ErrJournalEmptyPath"))
)
