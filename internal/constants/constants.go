package constants

import "time"

// Reserved mail states. Configuration cannot redefine them: "ghost" is
// never a processor name and "error" always names the error processor.
const (
	StateRoot  = "root"
	StateError = "error"
	StateGhost = "ghost"
)

// Rule error policies.
const (
	OnErrorPropagate = "propagate"
	OnErrorIgnore    = "ignore"
	OnErrorAbort     = "abort"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixDuplicate = "dup:"
	CacheKeyPrefixRRT       = "rrt:"
)

const (
	DefaultSpoolTopic = "mail_spool"
)

const (
	DefaultMongoDBName = "mailflow"
	DefaultRepository  = "error"
)

const (
	ShutdownTimeout = 5 * time.Second
	DrainTimeout    = 30 * time.Second
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	DefaultTTLSeconds = 3600
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
	FallbackError = "error"
)

const (
	BrokerKafka  = "kafka"
	BrokerMemory = "memory"
)

// Dispatch outcomes used as metric labels.
const (
	OutcomeGhost     = "ghost"
	OutcomeRejected  = "rejected"
	OutcomeCancelled = "cancelled"
)
