package management

import (
	"time"

	"mailflow/internal/engine"
)

// Actor identifies who issued a management request.
type Actor struct {
	ChangedBy string
	IPAddress string
}

type PipelineInfo struct {
	MaxVisits  int                    `json:"max_visits"`
	InFlight   []string               `json:"in_flight"`
	Processors []engine.ProcessorInfo `json:"processors"`
	// Matchers and Mailets are the registered component names.
	Matchers []string `json:"matchers,omitempty"`
	Mailets  []string `json:"mailets,omitempty"`
}

type ReloadResponse struct {
	// Mode is "local" when this instance rebuilt its router, "broadcast"
	// when a reload event was published for every instance.
	Mode       string   `json:"mode"`
	Processors []string `json:"processors,omitempty"`
}

type SubmitMailRequest struct {
	Sender     string   `json:"sender"`
	Recipients []string `json:"recipients" binding:"required,min=1"`
	Subject    string   `json:"subject,omitempty"`
	Body       string   `json:"body,omitempty"`
	// Raw is a complete RFC 5322 message; it takes precedence over
	// Subject and Body.
	Raw   string `json:"raw,omitempty"`
	State string `json:"state,omitempty"`
}

type SubmitMailResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

type ReprocessRequest struct {
	Processor string `json:"processor"`
}

type RepositoryInfo struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

type MailDetail struct {
	ID           string                 `json:"id"`
	Sender       string                 `json:"sender"`
	Recipients   []string               `json:"recipients"`
	State        string                 `json:"state"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Attributes   map[string]interface{} `json:"attributes,omitempty"`
	Headers      map[string][]string    `json:"headers,omitempty"`
	Subject      string                 `json:"subject,omitempty"`
	Body         string                 `json:"body,omitempty"`
	Size         int64                  `json:"size"`
	RemoteAddr   string                 `json:"remote_addr,omitempty"`
	ReceivedAt   time.Time              `json:"received_at"`
}

type AuditLog struct {
	ID        string                 `json:"id"`
	Action    string                 `json:"action"`
	Target    string                 `json:"target"`
	Details   map[string]interface{} `json:"details,omitempty"`
	ChangedBy string                 `json:"changed_by"`
	IPAddress string                 `json:"ip_address,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type ValidateExpressionRequest struct {
	Expression string `json:"expression"`
	// Kind is "filter" (boolean, the default) or "value".
	Kind string `json:"kind,omitempty"`
}

type ValidateExpressionResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}
