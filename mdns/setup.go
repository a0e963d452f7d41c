package mdns

import (
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coredns/caddy"
	"github.com/coredns/coredns/core/dnsserver"
	"github.com/coredns/coredns/plugin"
	clog "github.com/coredns/coredns/plugin/pkg/log"
	"github.com/miekg/dns"

	"github.com/nbeirne/coredns-mdnssd/browser"
	"github.com/nbeirne/coredns-mdnssd/netutil"
	"github.com/nbeirne/coredns-mdnssd/servicetype"
	"github.com/nbeirne/coredns-mdnssd/transport"
)

var log = clog.NewWithPlugin(GatewayPluginName)

// init registers the plugins.
func init() {
	plugin.Register(GatewayPluginName, setupGateway)
	plugin.Register(AdvertisePluginName, setupAdvertise)
	plugin.Register(ForwardPluginName, setupForward)
}

func setupGateway(c *caddy.Controller) error {
	opts, err := parseGatewayOptions(c, netutil.SystemSource{})
	if err != nil {
		return err
	}

	m := sharedMdns(opts.sockets)
	b := m.NewBrowser(opts.serviceType, browser.WithDomain(opts.gateway.Zone))
	g := opts.gateway
	g.browser = newRefreshingBrowser(b, opts.refresh)

	dnsserver.GetConfig(c).AddPlugin(func(next plugin.Handler) plugin.Handler {
		g.Next = next
		return g
	})

	c.OnStartup(g.Start)
	c.OnShutdown(g.Stop)
	return nil
}

func setupForward(c *caddy.Controller) error {
	opts, err := parseForwardOptions(c, netutil.SystemSource{})
	if err != nil {
		return err
	}

	m := sharedMdns(opts.sockets)
	f := opts.forward
	f.browser = newRefreshingBrowser(m.NewBrowser(opts.serviceType), opts.refresh)

	dnsserver.GetConfig(c).AddPlugin(func(next plugin.Handler) plugin.Handler {
		f.Next = next
		return f
	})

	c.OnStartup(f.Start)
	c.OnShutdown(f.Stop)
	return nil
}

func setupAdvertise(c *caddy.Controller) error {
	opts, err := parseAdvertiseOptions(c, netutil.SystemSource{})
	if err != nil {
		return err
	}

	a := NewMdnsAdvertise(sharedMdns(opts.sockets), opts.instanceName, opts.hostName, opts.serviceType, opts.port, opts.ttl)
	for _, txt := range opts.txt {
		a.AddTxt(txt)
	}

	c.OnStartup(a.StartAdvertise)
	// the new instance probes while the old one would still answer for the name
	c.OnRestart(a.StopAdvertise)
	c.OnShutdown(a.StopAdvertise)
	return nil
}

type gatewayOptions struct {
	gateway     *Gateway
	serviceType servicetype.ServiceType
	sockets     socketConfig
	refresh     time.Duration
}

func parseGatewayOptions(c *caddy.Controller, src netutil.Source) (*gatewayOptions, error) {
	opts := &gatewayOptions{
		gateway: &Gateway{
			Zone:             DefaultZone,
			TTL:              DefaultTTL,
			DiscoverInterval: time.Second,
			clock:            clock.New(),
		},
		serviceType: servicetype.Wildcard,
		sockets:     defaultSocketConfig(),
		refresh:     DefaultRefreshInterval,
	}

	for c.Next() {
		args := c.RemainingArgs()
		if len(args) > 1 {
			return nil, plugin.Error(GatewayPluginName, c.ArgErr())
		}
		if len(args) == 1 {
			opts.gateway.Zone = dns.Fqdn(strings.ToLower(args[0]))
		}

		for c.NextBlock() {
			if ok, err := parseSocketOption(c, &opts.sockets, src); ok {
				if err != nil {
					return nil, plugin.Error(GatewayPluginName, err)
				}
				continue
			}

			switch c.Val() {
			case "type":
				st, err := parseServiceType(c)
				if err != nil {
					return nil, plugin.Error(GatewayPluginName, err)
				}
				opts.serviceType = st

			case "ttl":
				ttl, err := parseTTL(c)
				if err != nil {
					return nil, plugin.Error(GatewayPluginName, err)
				}
				opts.gateway.TTL = ttl

			case "refresh":
				d, err := parseDuration(c)
				if err != nil {
					return nil, plugin.Error(GatewayPluginName, err)
				}
				opts.refresh = d

			default:
				return nil, plugin.Error(GatewayPluginName, c.Errf("unknown option: %s", c.Val()))
			}
		}
	}
	return opts, nil
}

type forwardOptions struct {
	forward     *MdnsForwardPlugin
	serviceType servicetype.ServiceType
	sockets     socketConfig
	refresh     time.Duration
}

func parseForwardOptions(c *caddy.Controller, src netutil.Source) (*forwardOptions, error) {
	m := &MdnsForwardPlugin{
		Timeout:      DefaultTimeout,
		RetryTimeout: DefaultRetryTimeout,
		addrsPerHost: DefaultAddrsPerHost,
		addrMode:     DefaultAddrMode,
		interfaces:   src,
	}
	opts := &forwardOptions{
		forward:     m,
		serviceType: servicetype.MustParse(DefaultServiceType),
		sockets:     defaultSocketConfig(),
		refresh:     DefaultRefreshInterval,
	}

	for c.Next() {
		args := c.RemainingArgs()
		if len(args) < 1 {
			return nil, plugin.Error(ForwardPluginName, c.Errf("a zone must be specified"))
		}
		m.Zone = args[0]

		for c.NextBlock() {
			if ok, err := parseSocketOption(c, &opts.sockets, src); ok {
				if err != nil {
					return nil, plugin.Error(ForwardPluginName, err)
				}
				continue
			}

			switch c.Val() {
			case "type":
				st, err := parseServiceType(c)
				if err != nil {
					return nil, plugin.Error(ForwardPluginName, err)
				}
				opts.serviceType = st

			case "ignore_self":
				val, err := parseSingleArg(c)
				if err != nil {
					return nil, plugin.Error(ForwardPluginName, err)
				}
				ignoreSelf, err := strconv.ParseBool(val)
				if err != nil {
					return nil, plugin.Error(ForwardPluginName, c.Errf("failed to parse boolean for 'ignore_self': %s", val))
				}
				m.ignoreSelf = ignoreSelf

			case "filter":
				val, err := parseSingleArg(c)
				if err != nil {
					return nil, plugin.Error(ForwardPluginName, err)
				}
				filter, err := regexp.Compile(val)
				if err != nil {
					return nil, plugin.Error(ForwardPluginName, c.Errf("failed to compile regex for 'filter': %s", val))
				}
				m.filter = filter

			case "address_mode":
				val, err := parseSingleArg(c)
				if err != nil {
					return nil, plugin.Error(ForwardPluginName, err)
				}
				switch val {
				case "prefer_ipv6":
					m.addrMode = PreferIPv6
				case "prefer_ipv4":
					m.addrMode = PreferIPv4
				case "only_ipv6":
					m.addrMode = IPv6Only
				case "only_ipv4":
					m.addrMode = IPv4Only
				default:
					return nil, plugin.Error(ForwardPluginName, c.Errf("unknown address_mode: %s", val))
				}

			case "addresses_per_host":
				n, err := parseInt(c)
				if err != nil {
					return nil, plugin.Error(ForwardPluginName, err)
				}
				m.addrsPerHost = n

			case "timeout":
				d, err := parseDuration(c)
				if err != nil {
					return nil, plugin.Error(ForwardPluginName, err)
				}
				m.Timeout = d

			case "retry_timeout":
				d, err := parseDuration(c)
				if err != nil {
					return nil, plugin.Error(ForwardPluginName, err)
				}
				m.RetryTimeout = d

			case "refresh":
				d, err := parseDuration(c)
				if err != nil {
					return nil, plugin.Error(ForwardPluginName, err)
				}
				opts.refresh = d

			case "zone":
				val, err := parseSingleArg(c)
				if err != nil {
					return nil, plugin.Error(ForwardPluginName, err)
				}
				m.Zone = val

			case "attempts":
				n, err := parseInt(c)
				if err != nil {
					return nil, plugin.Error(ForwardPluginName, err)
				}
				m.Attempts = n

			case "worker_count":
				n, err := parseInt(c)
				if err != nil {
					return nil, plugin.Error(ForwardPluginName, err)
				}
				m.WorkerCount = n

			default:
				return nil, plugin.Error(ForwardPluginName, c.Errf("unknown option: %s", c.Val()))
			}
		}
	}
	return opts, nil
}

type advertiseOptions struct {
	instanceName string
	hostName     string
	serviceType  string
	port         int
	ttl          uint32
	txt          []string
	sockets      socketConfig
}

func parseAdvertiseOptions(c *caddy.Controller, src netutil.Source) (*advertiseOptions, error) {
	shortHostname, err := getShortHostname()
	if err != nil {
		return nil, err
	}

	opts := &advertiseOptions{
		instanceName: AdvertisingPrefix + shortHostname,
		hostName:     shortHostname,
		serviceType:  DefaultServiceType,
		port:         getServerPort(c),
		ttl:          DefaultTTL,
		sockets:      defaultSocketConfig(),
	}

	c.Next()
	if args := c.RemainingArgs(); len(args) > 0 {
		return nil, plugin.Error(AdvertisePluginName, c.ArgErr())
	}
	for c.NextBlock() {
		if ok, err := parseSocketOption(c, &opts.sockets, src); ok {
			if err != nil {
				return nil, plugin.Error(AdvertisePluginName, err)
			}
			continue
		}

		switch c.Val() {
		case "instance_name":
			val, err := parseSingleArg(c)
			if err != nil {
				return nil, plugin.Error(AdvertisePluginName, err)
			}
			opts.instanceName = val

		case "host_name":
			val, err := parseSingleArg(c)
			if err != nil {
				return nil, plugin.Error(AdvertisePluginName, err)
			}
			opts.hostName = val

		case "type":
			st, err := parseServiceType(c)
			if err != nil {
				return nil, plugin.Error(AdvertisePluginName, err)
			}
			if st.IsWildcard() {
				return nil, plugin.Error(AdvertisePluginName, c.Errf("cannot advertise %s", st))
			}
			opts.serviceType = st.String()

		case "port":
			val, err := parseSingleArg(c)
			if err != nil {
				return nil, plugin.Error(AdvertisePluginName, err)
			}
			port, err := strconv.Atoi(val)
			if err != nil || port < 1 || port > 65535 {
				return nil, plugin.Error(AdvertisePluginName, c.Errf("port provided is invalid: %s", val))
			}
			opts.port = port

		case "ttl":
			ttl, err := parseTTL(c)
			if err != nil {
				return nil, plugin.Error(AdvertisePluginName, err)
			}
			opts.ttl = ttl

		case "txt":
			args := c.RemainingArgs()
			if len(args) == 0 {
				return nil, plugin.Error(AdvertisePluginName, c.Errf("option 'txt' expects at least one key=value"))
			}
			opts.txt = append(opts.txt, args...)

		default:
			return nil, plugin.Error(AdvertisePluginName, c.Errf("unknown option: %s", c.Val()))
		}
	}
	return opts, nil
}

// parseSocketOption handles the options every plugin accepts for its sockets.
func parseSocketOption(c *caddy.Controller, cfg *socketConfig, src netutil.Source) (bool, error) {
	switch c.Val() {
	case "iface_bind_subnet":
		val, err := parseSingleArg(c)
		if err != nil {
			return true, err
		}
		_, ipNet, err := net.ParseCIDR(val)
		if err != nil {
			return true, c.Errf("failed to parse subnet: %s", val)
		}
		subnet, ok := netutil.PrefixFromIPNet(ipNet)
		if !ok {
			return true, c.Errf("failed to parse subnet: %s", val)
		}
		if ifaces, err := netutil.FindInterfacesForSubnet(src, subnet); err != nil || len(ifaces) == 0 {
			log.Errorf("Failed to find interface for '%s'", subnet)
		}
		cfg.subnet = subnet
		return true, nil

	case "family":
		val, err := parseSingleArg(c)
		if err != nil {
			return true, err
		}
		f, err := transport.ParseFamily(val)
		if err != nil {
			return true, c.Errf("%v", err)
		}
		cfg.family = f
		return true, nil
	}
	return false, nil
}

func getShortHostname() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", err
	}

	shortName := strings.Split(hostname, ".")[0]
	return shortName, nil
}

// getServerPort returns the port of the server block, 53 when it has none.
func getServerPort(c *caddy.Controller) int {
	for _, key := range c.ServerBlockKeys {
		if i := strings.Index(key, "://"); i >= 0 {
			key = key[i+3:]
		}
		_, portStr, err := net.SplitHostPort(key)
		if err != nil {
			continue
		}
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			return port
		}
		log.Debugf("Could not parse a port from %s", key)
	}
	return 53
}

func parseSingleArg(c *caddy.Controller) (string, error) {
	optionName := c.Val()

	if !c.NextArg() {
		return "", c.Errf("option '%s' expects an argument, but got none was provided", optionName)
	}

	val := c.Val()
	if val == "{" || val == "}" {
		return "", c.Errf("option '%s' expects an argument, but got '%v'", optionName, val)
	}
	if c.NextArg() {
		return "", c.Errf("option '%s' expects only one argument, but found more: '%s'", optionName, c.Val())
	}
	return val, nil
}

func parseServiceType(c *caddy.Controller) (servicetype.ServiceType, error) {
	val, err := parseSingleArg(c)
	if err != nil {
		return servicetype.ServiceType{}, err
	}
	st, err := servicetype.Parse(val)
	if err != nil {
		return servicetype.ServiceType{}, c.Errf("invalid service type %s: %v", val, err)
	}
	return st, nil
}

func parseInt(c *caddy.Controller) (int, error) {
	name := c.Val()
	val, err := parseSingleArg(c)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, c.Errf("%s is not an integer: %s", name, val)
	}
	return n, nil
}

func parseDuration(c *caddy.Controller) (time.Duration, error) {
	name := c.Val()
	val, err := parseSingleArg(c)
	if err != nil {
		return 0, err
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, c.Errf("invalid duration for %s: %s", name, val)
	}
	return d, nil
}

func parseTTL(c *caddy.Controller) (uint32, error) {
	val, err := parseSingleArg(c)
	if err != nil {
		return 0, err
	}
	ttl, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, c.Errf("ttl provided is invalid: %s", val)
	}
	return uint32(ttl), nil
}
