package transport

import (
	"net/netip"

	"github.com/nbeirne/coredns-mdnssd/logger"
	"github.com/nbeirne/coredns-mdnssd/netutil"
)

type config struct {
	family    Family
	include   []string
	exclude   []string
	subnet    netip.Prefix
	noAny     bool
	sendOnAny bool
	source    netutil.Source
	binder    Binder
	log       logger.Logger
}

func defaultConfig() config {
	return config{
		family: IPv4,
		source: netutil.SystemSource{},
		binder: Bind,
		log:    logger.NoLogger{},
	}
}

// Option configures a Transport.
type Option func(*config)

// WithFamily selects the address families. The default is IPv4.
func WithFamily(f Family) Option {
	return func(c *config) { c.family = f }
}

// WithInterfaces limits per-interface sockets to the named interfaces.
func WithInterfaces(names ...string) Option {
	return func(c *config) { c.include = append(c.include, names...) }
}

// WithExclude skips interfaces by name or address. "0.0.0.0" and "::" skip the
// wildcard sockets of that family.
func WithExclude(namesOrAddrs ...string) Option {
	return func(c *config) { c.exclude = append(c.exclude, namesOrAddrs...) }
}

// WithSubnet limits per-interface sockets to interfaces with an address in subnet.
func WithSubnet(subnet netip.Prefix) Option {
	return func(c *config) { c.subnet = subnet }
}

// WithoutAny disables the wildcard sockets.
func WithoutAny() Option {
	return func(c *config) { c.noAny = true }
}

// WithSendOnAny also sends through the wildcard sockets.
func WithSendOnAny() Option {
	return func(c *config) { c.sendOnAny = true }
}

// WithInterfaceSource replaces the interface enumeration.
func WithInterfaceSource(src netutil.Source) Option {
	return func(c *config) { c.source = src }
}

// WithBinder replaces the function that opens sockets.
func WithBinder(b Binder) Option {
	return func(c *config) { c.binder = b }
}

func WithLogger(l logger.Logger) Option {
	return func(c *config) { c.log = logger.OrNop(l) }
}
