package core

import "time"

// Environment variables recognized by the Bedrock node process.
const (
	EnvRedisURL     = "BEDROCK_REDIS_URL"     // membership directory backend
	EnvNodeName     = "BEDROCK_NODE_NAME"     // cluster-unique node name
	EnvPriority     = "BEDROCK_PRIORITY"      // node election priority
	EnvCommandPort  = "BEDROCK_COMMAND_PORT"  // client command port
	EnvControlPort  = "BEDROCK_CONTROL_PORT"  // administrative status port
	EnvClusterPort  = "BEDROCK_CLUSTER_PORT"  // node-to-node replication port
	EnvDevMode      = "BEDROCK_DEV_MODE"      // development mode flag
	EnvLogLevel     = "BEDROCK_LOG_LEVEL"     // logger verbosity
)

// Request header names recognized by the core command pipeline (§6).
const (
	HeaderMethodLine = "methodLine"
	HeaderConnection = "connection"
	HeaderTimeout    = "timeout"
	HeaderQuery      = "query"

	ConnectionForget = "forget"
)

// Response timing headers, one per phase, written by FinalizeTimingInfo.
const TimingHeaderPrefix = "X-Bedrock-Timing-"

// Default command deadlines (§3).
const (
	DefaultCommandTimeout       = 290 * time.Second
	DefaultForgetCommandTimeout = 3600 * time.Second
	DefaultProcessPhaseCap      = 30 * time.Second
)

// Status lines used by the controller's exception boundary and built-in
// failure paths (§7).
const (
	StatusOK              = "200 OK"
	StatusForgetAccepted  = "202 Accepted and forgotten"
	StatusMissingField    = "402 Missing %s"
	StatusInvalidField    = "402 Invalid %s"
	StatusConflict        = "500 Conflict"
	StatusRepeekLoop      = "500 Repeek loop"
	StatusRecognizedCrash = "500 Recognized crash"
	StatusInternal        = "500 Internal error"
	StatusTimeout         = "555 Timeout"
)

// MaxConflictRetries bounds the number of times the sync thread re-attempts
// a command's process phase after a database-level write conflict before
// surfacing StatusConflict. Not stated by the original design; chosen per
// the Open Questions note in §9.
const MaxConflictRetries = 3

// MaxRepeekAttempts bounds consecutive no-progress peeks before the
// controller treats `repeek` as a plugin fault (§4.3, §9).
const MaxRepeekAttempts = 3
