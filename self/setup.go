package self

import (
	"strconv"

	"github.com/coredns/caddy"
	"github.com/coredns/coredns/core/dnsserver"
	"github.com/coredns/coredns/plugin"
)

func init() {
	plugin.Register(PluginName, setup)
}

func setup(c *caddy.Controller) error {
	s, err := parse(c)
	if err != nil {
		return err
	}

	dnsserver.GetConfig(c).AddPlugin(func(next plugin.Handler) plugin.Handler {
		s.Next = next
		return s
	})
	return nil
}

func parse(c *caddy.Controller) (Self, error) {
	c.Next()
	s := NewSelf(nil, plugin.OriginsFromArgsOrServerBlock(c.RemainingArgs(), c.ServerBlockKeys))

	for c.NextBlock() {
		switch c.Val() {
		case "ttl":
			args := c.RemainingArgs()
			if len(args) != 1 {
				return s, plugin.Error(PluginName, c.ArgErr())
			}
			ttl, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return s, plugin.Error(PluginName, c.Errf("ttl provided is invalid: %s", args[0]))
			}
			s.TTL = uint32(ttl)
		default:
			return s, plugin.Error(PluginName, c.Errf("unknown option: %s", c.Val()))
		}
	}
	return s, nil
}
