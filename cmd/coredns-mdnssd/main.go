// Command coredns-mdnssd is CoreDNS with the mDNS plugins compiled in.
package main

import (
	_ "github.com/coredns/coredns/plugin/cache"
	_ "github.com/coredns/coredns/plugin/debug"
	_ "github.com/coredns/coredns/plugin/errors"
	_ "github.com/coredns/coredns/plugin/forward"
	_ "github.com/coredns/coredns/plugin/health"
	_ "github.com/coredns/coredns/plugin/hosts"
	_ "github.com/coredns/coredns/plugin/log"
	_ "github.com/coredns/coredns/plugin/ready"
	_ "github.com/coredns/coredns/plugin/reload"
	_ "github.com/coredns/coredns/plugin/rewrite"
	_ "github.com/coredns/coredns/plugin/whoami"

	"github.com/coredns/coredns/core/dnsserver"
	"github.com/coredns/coredns/coremain"

	_ "github.com/nbeirne/coredns-mdnssd/mdns"
	_ "github.com/nbeirne/coredns-mdnssd/self"
)

var directives = []string{
	"reload",
	"debug",
	"ready",
	"health",
	"errors",
	"log",
	"cache",
	"rewrite",
	"hosts",
	"mdnssd_self",
	"mdnssd",
	"mdnssd_advertise",
	"mdnssd_forward",
	"forward",
	"whoami",
}

func init() {
	dnsserver.Directives = directives
}

func main() {
	coremain.Run()
}
