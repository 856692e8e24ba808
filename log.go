package dytor

import (
	"github.com/btcsuite/btclog/v2"
)

// Subsystem is the log subsystem tag for the runtime.
const Subsystem = "DYTR"

// log is a logger that is initialized as disabled. This means the package
// will not perform any logging by default until a logger is set via
// UseLogger.
var log btclog.Logger = btclog.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// DisableLog disables all library log output. Logging output is disabled by
// default until UseLogger is called.
func DisableLog() {
	log = btclog.Disabled
}
