// Package mdnssd browses and advertises DNS-SD services over multicast DNS.
//
// An Mdns owns one transport shared by every browser and advertisement created
// from it. The sockets are opened when the first browser or advertisement starts
// and closed when the last one stops.
package mdnssd

import (
	"github.com/benbjohnson/clock"

	"github.com/nbeirne/coredns-mdnssd/advertiser"
	"github.com/nbeirne/coredns-mdnssd/browser"
	"github.com/nbeirne/coredns-mdnssd/logger"
	"github.com/nbeirne/coredns-mdnssd/servicetype"
	"github.com/nbeirne/coredns-mdnssd/transport"
)

type Mdns struct {
	Log logger.Logger

	transport *transport.Transport
	registry  *advertiser.Registry
	clock     clock.Clock
}

// Option configures an Mdns.
type Option func(*Mdns)

// WithTransportOptions configures the shared transport.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(m *Mdns) { m.transport = transport.New(opts...) }
}

// WithClock sets the clock of every browser and advertisement.
func WithClock(c clock.Clock) Option {
	return func(m *Mdns) { m.clock = c }
}

func WithLogger(l logger.Logger) Option {
	return func(m *Mdns) { m.Log = logger.OrNop(l) }
}

func New(opts ...Option) *Mdns {
	m := &Mdns{Log: logger.NoLogger{}, clock: clock.New()}
	for _, opt := range opts {
		opt(m)
	}
	if m.transport == nil {
		m.transport = transport.New()
	}
	if _, ok := m.transport.Log.(logger.NoLogger); ok {
		m.transport.Log = m.Log
	}
	m.registry = advertiser.NewRegistry(m.transport)
	m.registry.Log = m.Log
	return m
}

// Transport returns the shared transport.
func (m *Mdns) Transport() *transport.Transport { return m.transport }

// Registry returns the responder shared by the advertisements.
func (m *Mdns) Registry() *advertiser.Registry { return m.registry }

// ExcludeInterface stops the transport from using an interface, given by name
// or address. "0.0.0.0" and "::" skip the wildcard socket of that family. It
// fails once the transport is running.
func (m *Mdns) ExcludeInterface(nameOrAddr string) error {
	return m.transport.Exclude(nameOrAddr)
}

// CreateBrowser returns a browser for serviceType. An empty serviceType browses
// every type.
func (m *Mdns) CreateBrowser(serviceType string, opts ...browser.Option) (*browser.Browser, error) {
	st := servicetype.Wildcard
	if serviceType != "" {
		var err error
		if st, err = servicetype.Parse(serviceType); err != nil {
			return nil, err
		}
	}
	return m.NewBrowser(st, opts...), nil
}

// NewBrowser returns a browser for an already parsed service type.
func (m *Mdns) NewBrowser(st servicetype.ServiceType, opts ...browser.Option) *browser.Browser {
	opts = append([]browser.Option{browser.WithClock(m.clock), browser.WithLogger(m.Log)}, opts...)
	return browser.New(m.transport, st, opts...)
}

// CreateAdvertisement returns an idle advertisement of serviceType on port.
func (m *Mdns) CreateAdvertisement(serviceType string, port int, options advertiser.Options, opts ...advertiser.Option) (*advertiser.Advertisement, error) {
	st, err := servicetype.Parse(serviceType)
	if err != nil {
		return nil, err
	}
	opts = append([]advertiser.Option{advertiser.WithClock(m.clock), advertiser.WithLogger(m.Log)}, opts...)
	return advertiser.New(m.registry, st, port, options, opts...)
}
