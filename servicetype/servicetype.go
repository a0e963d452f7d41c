// Package servicetype parses and formats DNS-SD service types such as
// "_http._tcp", "_http._tcp.local,_printer" or "_printer._sub._http._tcp.local".
package servicetype

import (
	"fmt"
	"slices"
	"strings"
)

const (
	// WildcardString is the DNS-SD service type enumeration name.
	WildcardString = "_services._dns-sd._udp"

	ProtocolTCP = "tcp"
	ProtocolUDP = "udp"

	maxNameLen    = 15
	maxSubtypeLen = 63
	subLabel      = "_sub"
)

// Wildcard matches every service type.
var Wildcard = ServiceType{Name: "services._dns-sd", Protocol: ProtocolUDP}

// ServiceType is a parsed DNS-SD service type.
type ServiceType struct {
	Name           string   // without the leading underscore, e.g. "http"
	Protocol       string   // "tcp" or "udp"
	Subtypes       []string // without leading underscores
	ParentDomain   string   // e.g. "local", empty when not given
	FullyQualified bool     // the string form ended with a dot
}

// Descriptor is the field-by-field form accepted by FromDescriptor.
// Leading underscores are optional.
type Descriptor struct {
	Name           string
	Protocol       string
	Subtypes       []string
	ParentDomain   string
	FullyQualified bool
}

// DecodeError reports a service type that does not follow the grammar.
type DecodeError struct {
	Input  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("servicetype: cannot decode %q: %s", e.Input, e.Reason)
}

// Parse decodes the string form of a service type.
//
// Labels left of the service name (the instance part of a full service name) are
// ignored. The protocol defaults to tcp when missing.
func Parse(text string) (ServiceType, error) {
	input := text
	var st ServiceType

	main, rest, hasSubtypes := strings.Cut(text, ",")
	var commaSubtypes []string
	if hasSubtypes {
		commaSubtypes = strings.Split(rest, ",")
		// "_http._tcp,_printer.local" carries the domain on the last subtype
		last := commaSubtypes[len(commaSubtypes)-1]
		if sub, domain, ok := strings.Cut(last, "."); ok {
			commaSubtypes[len(commaSubtypes)-1] = sub
			if !hasDomain(main) {
				main = main + "." + domain
			}
		}
	}

	if strings.HasSuffix(main, ".") {
		st.FullyQualified = true
		main = strings.TrimSuffix(main, ".")
	}
	if main == "" {
		return ServiceType{}, &DecodeError{Input: input, Reason: "empty service type"}
	}

	labels := strings.Split(main, ".")
	slices.Reverse(labels)

	var domain []string
	for len(labels) > 0 && !strings.HasPrefix(labels[0], "_") {
		domain = append([]string{labels[0]}, domain...)
		labels = labels[1:]
	}
	st.ParentDomain = strings.Join(domain, ".")

	st.Protocol = ProtocolTCP
	if len(labels) > 0 && isProtocol(labels[0]) {
		st.Protocol = trimUnderscore(labels[0])
		labels = labels[1:]
	} else if len(labels) > 1 {
		return ServiceType{}, &DecodeError{Input: input, Reason: fmt.Sprintf("protocol must be either \"_tcp\" or \"_udp\" but is %q", labels[0])}
	}

	var name []string
	for len(labels) > 0 && strings.HasPrefix(labels[0], "_") && labels[0] != subLabel {
		name = append([]string{labels[0]}, name...)
		labels = labels[1:]
	}

	var subtypes []string
	if len(labels) > 0 && labels[0] == subLabel {
		labels = labels[1:]
		if len(labels) == 0 {
			// some responders send an empty subtype
			subtypes = append(subtypes, "")
		}
		for _, l := range labels {
			subtypes = append(subtypes, trimUnderscore(l))
		}
		labels = nil
	}
	if len(name) == 0 && len(labels) > 0 {
		slices.Reverse(labels)
		name = labels
	}

	st.Name = trimUnderscore(strings.Join(name, "."))
	for _, s := range commaSubtypes {
		subtypes = append(subtypes, trimUnderscore(s))
	}
	st.Subtypes = subtypes

	if st.IsWildcard() {
		return st, nil
	}
	if err := st.validate(); err != nil {
		return ServiceType{}, &DecodeError{Input: input, Reason: err.Error()}
	}
	return st, nil
}

// MustParse is like Parse but panics on error.
func MustParse(text string) ServiceType {
	st, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return st
}

// FromParts builds a service type from its name, protocol and subtypes.
func FromParts(name, protocol string, subtypes ...string) (ServiceType, error) {
	return FromDescriptor(Descriptor{Name: name, Protocol: protocol, Subtypes: subtypes})
}

// FromDescriptor builds a service type from a descriptor.
func FromDescriptor(d Descriptor) (ServiceType, error) {
	st := ServiceType{
		Name:           trimUnderscore(d.Name),
		Protocol:       trimUnderscore(d.Protocol),
		ParentDomain:   strings.TrimSuffix(d.ParentDomain, "."),
		FullyQualified: d.FullyQualified,
	}
	for _, s := range d.Subtypes {
		st.Subtypes = append(st.Subtypes, trimUnderscore(s))
	}
	if st.IsWildcard() {
		return st, nil
	}
	if err := st.validate(); err != nil {
		return ServiceType{}, &DecodeError{Input: st.String(), Reason: err.Error()}
	}
	return st, nil
}

// TCP builds a tcp service type. Passing a protocol as the first subtype is an error.
func TCP(name string, subtypes ...string) (ServiceType, error) {
	return withProtocol(ProtocolTCP, name, subtypes)
}

// UDP builds a udp service type. Passing a protocol as the first subtype is an error.
func UDP(name string, subtypes ...string) (ServiceType, error) {
	return withProtocol(ProtocolUDP, name, subtypes)
}

func withProtocol(protocol, name string, subtypes []string) (ServiceType, error) {
	if len(subtypes) > 0 && isProtocol(subtypes[0]) {
		return ServiceType{}, &DecodeError{Input: name + "," + strings.Join(subtypes, ","), Reason: fmt.Sprintf("duplicate protocol %q in arguments", subtypes[0])}
	}
	return FromParts(name, protocol, subtypes...)
}

func (st ServiceType) validate() error {
	if st.Protocol != ProtocolTCP && st.Protocol != ProtocolUDP {
		return fmt.Errorf("protocol must be tcp or udp, got %q", st.Protocol)
	}
	if len(st.Name) < 1 || len(st.Name) > maxNameLen {
		return fmt.Errorf("name %q must be 1 to %d characters", st.Name, maxNameLen)
	}
	for i, c := range st.Name {
		alnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !alnum && (c != '-' || i == 0 || i == len(st.Name)-1) {
			return fmt.Errorf("name %q may only contain letters, digits and inner hyphens", st.Name)
		}
	}
	for _, s := range st.Subtypes {
		if len(s) > maxSubtypeLen {
			return fmt.Errorf("subtype %q is longer than %d characters", s, maxSubtypeLen)
		}
	}
	return nil
}

// IsWildcard reports whether st is the service type enumeration type.
func (st ServiceType) IsWildcard() bool {
	return st.Name == Wildcard.Name && st.Protocol == Wildcard.Protocol
}

// Matches reports whether st and other name the same service. The wildcard
// matches everything. Subtypes and domains are not compared.
func (st ServiceType) Matches(other ServiceType) bool {
	if st.IsWildcard() || other.IsWildcard() {
		return true
	}
	return strings.EqualFold(st.Name, other.Name) && st.Protocol == other.Protocol
}

// Equal compares every field.
func (st ServiceType) Equal(other ServiceType) bool {
	return st.Name == other.Name && st.Protocol == other.Protocol &&
		st.ParentDomain == other.ParentDomain && st.FullyQualified == other.FullyQualified &&
		slices.Equal(st.Subtypes, other.Subtypes)
}

// Base returns "_name._proto".
func (st ServiceType) Base() string {
	return "_" + st.Name + "._" + st.Protocol
}

// Domain returns the parent domain, or def when there is none.
func (st ServiceType) Domain(def string) string {
	if st.ParentDomain != "" {
		return st.ParentDomain
	}
	return strings.TrimSuffix(def, ".")
}

// FQDN returns "_name._proto.domain" using def when st has no parent domain.
func (st ServiceType) FQDN(def string) string {
	return st.Base() + "." + st.Domain(def)
}

// SubtypeFQDNs returns "_sub._sub._name._proto.domain" for every subtype.
func (st ServiceType) SubtypeFQDNs(def string) []string {
	out := make([]string, 0, len(st.Subtypes))
	for _, s := range st.Subtypes {
		if s == "" {
			continue
		}
		out = append(out, "_"+s+"."+subLabel+"."+st.FQDN(def))
	}
	return out
}

// String formats st so that Parse(st.String()) returns st.
func (st ServiceType) String() string {
	var sb strings.Builder
	sb.WriteString(st.Base())
	if st.ParentDomain != "" {
		sb.WriteString(".")
		sb.WriteString(st.ParentDomain)
	}
	if st.FullyQualified {
		sb.WriteString(".")
	}
	for _, s := range st.Subtypes {
		sb.WriteString(",_")
		sb.WriteString(s)
	}
	return sb.String()
}

func hasDomain(s string) bool {
	labels := strings.Split(strings.TrimSuffix(s, "."), ".")
	return !strings.HasPrefix(labels[len(labels)-1], "_")
}

func isProtocol(s string) bool {
	switch s {
	case "tcp", "_tcp", "udp", "_udp":
		return true
	}
	return false
}

func trimUnderscore(s string) string {
	return strings.TrimPrefix(s, "_")
}
