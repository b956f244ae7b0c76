package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MailsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_submitted_total",
			Help: "Total number of mails accepted or refused at ingestion (count)",
		},
		[]string{"source", "status"},
	)

	MailsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_dispatched_total",
			Help: "Total number of dispatch attempts by outcome (count)",
		},
		[]string{"outcome"},
	)

	MailsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mail_in_flight",
			Help: "Number of mails currently being dispatched (count)",
		},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mail_dispatch_duration_ms",
			Help:    "Time from dispatch start to terminal state in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"outcome"},
	)

	ProcessorVisitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_processor_visits_total",
			Help: "Total number of processor visits (count)",
		},
		[]string{"processor"},
	)

	ProcessorVisitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mail_processor_visit_duration_ms",
			Help:    "Duration of a single processor visit in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"processor"},
	)

	RuleEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_rule_evaluations_total",
			Help: "Total number of rule evaluations by match result (count)",
		},
		[]string{"processor", "matcher", "result"},
	)

	MailetDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mail_mailet_duration_ms",
			Help:    "Duration of mailet invocations in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"mailet", "status"},
	)

	RuleFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_rule_failures_total",
			Help: "Total number of matcher or mailet failures by applied error policy (count)",
		},
		[]string{"processor", "component", "policy"},
	)

	LoopGuardTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_loop_guard_triggers_total",
			Help: "Total number of times a processor ended without routing the mail elsewhere (count)",
		},
		[]string{"processor"},
	)

	RoutingLoopsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mail_routing_loops_total",
			Help: "Total number of mails ghosted after exceeding the processor visit bound (count)",
		},
	)

	ConfigErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_config_errors_total",
			Help: "Total number of configuration errors detected at load or dispatch time (count)",
		},
		[]string{"reason"},
	)

	ComponentLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_component_loads_total",
			Help: "Total number of processor, matcher and mailet instantiations (count)",
		},
		[]string{"kind", "name", "status"},
	)

	ActiveProcessors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mail_active_processors",
			Help: "Number of processors in the active router (count)",
		},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_deliveries_total",
			Help: "Total number of per-recipient delivery attempts (count)",
		},
		[]string{"mailet", "status"},
	)

	DuplicateChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_duplicate_checks_total",
			Help: "Total number of duplicate fingerprint checks (count)",
		},
		[]string{"status"},
	)

	EnrichmentLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_enrichment_lookups_total",
			Help: "Total number of enrichment lookups by source and result (count)",
		},
		[]string{"source", "result"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests and mails checked against rate limits (count)",
		},
		[]string{"scope", "status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000, 1000000, 10000000},
		},
		[]string{"service", "topic", "direction"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (difference between latest offset and committed offset) (count)",
		},
		[]string{"service", "topic", "partition"},
	)

	KafkaReadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_read_duration_ms",
			Help:    "Duration of reading messages from Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)

	SpoolQueueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spool_queue_size",
			Help: "Current number of mails waiting in the spool (count)",
		},
		[]string{"spool"},
	)

	SpoolWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spool_wait_duration_ms",
			Help:    "Duration mails wait in the spool before dispatch in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000},
		},
		[]string{"spool"},
	)
)

func RegisterEngineMetrics() {
	prometheus.MustRegister(MailsSubmittedTotal)
	prometheus.MustRegister(MailsDispatchedTotal)
	prometheus.MustRegister(MailsInFlight)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(ProcessorVisitsTotal)
	prometheus.MustRegister(ProcessorVisitDuration)
	prometheus.MustRegister(RuleEvaluationsTotal)
	prometheus.MustRegister(MailetDuration)
	prometheus.MustRegister(RuleFailuresTotal)
	prometheus.MustRegister(LoopGuardTriggersTotal)
	prometheus.MustRegister(RoutingLoopsTotal)
	prometheus.MustRegister(ConfigErrorsTotal)
	prometheus.MustRegister(ComponentLoadsTotal)
	prometheus.MustRegister(ActiveProcessors)
}

func RegisterDeliveryMetrics() {
	prometheus.MustRegister(DeliveriesTotal)
	prometheus.MustRegister(DuplicateChecksTotal)
	prometheus.MustRegister(EnrichmentLookupsTotal)
	prometheus.MustRegister(FallbackUsageTotal)
	prometheus.MustRegister(DatabaseQueriesTotal)
	prometheus.MustRegister(DatabaseQueryDuration)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaMessageSizeBytes)
	prometheus.MustRegister(KafkaConsumerLag)
	prometheus.MustRegister(KafkaReadDuration)
	prometheus.MustRegister(KafkaWriteDuration)
	prometheus.MustRegister(SpoolQueueSize)
	prometheus.MustRegister(SpoolWaitDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterManagementMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func ObserveDispatchDuration(duration time.Duration, outcome string) {
	DispatchDuration.WithLabelValues(outcome).Observe(float64(duration.Milliseconds()))
}

func ObserveProcessorVisit(processor string, duration time.Duration) {
	ProcessorVisitsTotal.WithLabelValues(processor).Inc()
	ProcessorVisitDuration.WithLabelValues(processor).Observe(float64(duration.Milliseconds()))
}

func ObserveMailetDuration(mailet, status string, duration time.Duration) {
	MailetDuration.WithLabelValues(mailet, status).Observe(float64(duration.Milliseconds()))
}

func IncMailsSubmitted(source, status string) {
	MailsSubmittedTotal.WithLabelValues(source, status).Inc()
}

func IncMailsDispatched(outcome string) {
	MailsDispatchedTotal.WithLabelValues(outcome).Inc()
}

func IncRuleEvaluation(processor, matcher, result string) {
	RuleEvaluationsTotal.WithLabelValues(processor, matcher, result).Inc()
}

func IncRuleFailure(processor, component, policy string) {
	RuleFailuresTotal.WithLabelValues(processor, component, policy).Inc()
}

func IncLoopGuardTrigger(processor string) {
	LoopGuardTriggersTotal.WithLabelValues(processor).Inc()
}

func IncConfigError(reason string) {
	ConfigErrorsTotal.WithLabelValues(reason).Inc()
}

func IncComponentLoad(kind, name, status string) {
	ComponentLoadsTotal.WithLabelValues(kind, name, status).Inc()
}

func SetActiveProcessors(count int) {
	ActiveProcessors.Set(float64(count))
}

func IncDelivery(mailet, status string) {
	DeliveriesTotal.WithLabelValues(mailet, status).Inc()
}

func IncDuplicateCheck(status string) {
	DuplicateChecksTotal.WithLabelValues(status).Inc()
}

func IncEnrichmentLookup(source, result string) {
	EnrichmentLookupsTotal.WithLabelValues(source, result).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func SetKafkaConsumerLag(service, topic string, partition int, lag int64) {
	KafkaConsumerLag.WithLabelValues(service, topic, fmt.Sprintf("%d", partition)).Set(float64(lag))
}

func ObserveKafkaReadDuration(service, topic string, duration time.Duration) {
	KafkaReadDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}

func SetSpoolQueueSize(spool string, size int) {
	SpoolQueueSize.WithLabelValues(spool).Set(float64(size))
}

func ObserveSpoolWaitDuration(spool string, duration time.Duration) {
	SpoolWaitDuration.WithLabelValues(spool).Observe(float64(duration.Milliseconds()))
}
