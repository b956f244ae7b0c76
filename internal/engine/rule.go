package engine

import (
	"fmt"

	"mailflow/internal/constants"
)

// ErrorPolicy decides what happens to a mail when a rule's matcher or
// mailet fails.
type ErrorPolicy int

const (
	// PolicyPropagate moves the mail to the error processor.
	PolicyPropagate ErrorPolicy = iota
	// PolicyIgnore leaves the mail untouched and continues with the next rule.
	PolicyIgnore
	// PolicyAbort ghosts the mail.
	PolicyAbort
)

func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch s {
	case "", constants.OnErrorPropagate:
		return PolicyPropagate, nil
	case constants.OnErrorIgnore:
		return PolicyIgnore, nil
	case constants.OnErrorAbort:
		return PolicyAbort, nil
	default:
		return PolicyPropagate, fmt.Errorf("unknown error policy %q (valid: propagate, ignore, abort)", s)
	}
}

func (p ErrorPolicy) String() string {
	switch p {
	case PolicyIgnore:
		return constants.OnErrorIgnore
	case PolicyAbort:
		return constants.OnErrorAbort
	default:
		return constants.OnErrorPropagate
	}
}

type Rule struct {
	// Position is the zero-based index of the rule within its processor.
	Position    int
	MatcherName string
	Matcher     Matcher
	MailetName  string
	Mailet      Mailet
	OnError     ErrorPolicy
}

type RuleInfo struct {
	Position int    `json:"position"`
	Matcher  string `json:"matcher"`
	Mailet   string `json:"mailet"`
	OnError  string `json:"on_error"`
}

func (r *Rule) Info() RuleInfo {
	return RuleInfo{
		Position: r.Position,
		Matcher:  r.MatcherName,
		Mailet:   r.MailetName,
		OnError:  r.OnError.String(),
	}
}
