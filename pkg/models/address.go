package models

import (
	"fmt"
	"strings"

	"github.com/emersion/go-message/mail"
)

// Address is a postal mail address split into local part and domain.
type Address struct {
	Local  string
	Domain string
}

// ParseAddress accepts both a bare "local@domain" form and an RFC 5322
// mailbox such as "Bob <bob@example.com>".
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, &ValidationError{Field: "address", Message: "address cannot be empty"}
	}

	raw := s
	if strings.ContainsAny(s, "<\" ") {
		parsed, err := mail.ParseAddress(s)
		if err != nil {
			return Address{}, &ValidationError{Field: "address", Message: fmt.Sprintf("invalid address %q: %v", s, err)}
		}
		raw = parsed.Address
	}

	at := strings.LastIndex(raw, "@")
	if at <= 0 || at == len(raw)-1 {
		return Address{}, &ValidationError{Field: "address", Message: fmt.Sprintf("invalid address %q", s)}
	}

	return Address{Local: raw[:at], Domain: strings.ToLower(raw[at+1:])}, nil
}

func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// ParseAddresses parses every entry and fails on the first invalid one.
func ParseAddresses(values []string) ([]Address, error) {
	addrs := make([]Address, 0, len(values))
	for _, v := range values {
		addr, err := ParseAddress(v)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func (a Address) String() string {
	if a.Domain == "" {
		return a.Local
	}
	return a.Local + "@" + a.Domain
}

// Key is the case-normalized form used for set membership.
func (a Address) Key() string {
	return strings.ToLower(a.Local) + "@" + strings.ToLower(a.Domain)
}

func (a Address) Equal(other Address) bool {
	return a.Key() == other.Key()
}

func (a Address) IsZero() bool {
	return a.Local == "" && a.Domain == ""
}

func AddressStrings(addrs []Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}
