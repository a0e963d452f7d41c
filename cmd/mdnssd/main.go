// Command mdnssd browses for and advertises DNS-SD services over multicast DNS.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	clog "github.com/coredns/coredns/plugin/pkg/log"

	"github.com/nbeirne/coredns-mdnssd"
	"github.com/nbeirne/coredns-mdnssd/advertiser"
	"github.com/nbeirne/coredns-mdnssd/browser"
	"github.com/nbeirne/coredns-mdnssd/transport"
	"github.com/nbeirne/coredns-mdnssd/wire"
)

type arrayFlags []string

// String is an implementation of the flag.Value interface
func (i *arrayFlags) String() string {
	return fmt.Sprintf("%v", *i)
}

// Set is an implementation of the flag.Value interface
func (i *arrayFlags) Set(value string) error {
	*i = append(*i, value)
	return nil
}

func main() {
	ifaceStrs := arrayFlags{}
	excludeStrs := arrayFlags{}
	txtStrs := arrayFlags{}

	service := flag.String("service", "", "The mDNS service type, every type when empty")
	name := flag.String("advertise", "", "Advertise an instance with this name instead of browsing")
	port := flag.Int("port", 0, "The port of the advertised instance")
	family := flag.String("family", "ipv4", "Address families: ipv4, ipv6, both or any")
	refresh := flag.Duration("refresh", time.Minute, "How often to query again while browsing")
	debug := flag.Bool("debug", false, "Log debug output")
	flag.Var(&ifaceStrs, "iface", "An interface to use, may be repeated")
	flag.Var(&excludeStrs, "exclude", "An interface or address to skip, may be repeated")
	flag.Var(&txtStrs, "txt", "A key=value TXT entry of the advertised instance, may be repeated")

	flag.Parse()

	if *debug {
		clog.D.Set()
	}
	log := clog.NewWithPlugin("mdnssd")

	f, err := transport.ParseFamily(*family)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	m := mdnssd.New(
		mdnssd.WithTransportOptions(
			transport.WithFamily(f),
			transport.WithInterfaces(ifaceStrs...),
			transport.WithLogger(log),
		),
		mdnssd.WithLogger(log),
	)
	for _, e := range excludeStrs {
		if err := m.ExcludeInterface(e); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	var stop func() error
	if *name != "" {
		stop, err = advertise(m, *service, *name, *port, txtStrs)
	} else {
		stop, err = browse(m, *service, *refresh)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Wait for a SIGINT (Ctrl-C)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig

	fmt.Println("\nShutting down...")
	if err := stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func browse(m *mdnssd.Mdns, service string, refresh time.Duration) (func() error, error) {
	b, err := m.CreateBrowser(service)
	if err != nil {
		return nil, err
	}
	b.OnUpdate(func(u browser.Update) {
		var types []string
		for _, st := range u.Types {
			types = append(types, st.String())
		}
		fmt.Printf("%s [%s] %s host=%s port=%d addrs=%v txt=%v\n",
			u.Remote.Addr(), strings.Join(types, " "), u.FullName, u.Host, u.Port, u.Addresses, u.Txt.Strings())
	})
	b.OnError(func(err error) { fmt.Fprintf(os.Stderr, "browse error: %v\n", err) })
	b.OnReady(func(n int) { fmt.Printf("Listening on %d sockets\n", n) })

	if err := b.Start(); err != nil {
		return nil, err
	}
	r := browser.NewRefresher(b, refresh)
	r.Start()
	return func() error {
		r.Stop()
		return b.Stop()
	}, nil
}

func advertise(m *mdnssd.Mdns, service, name string, port int, txtStrs []string) (func() error, error) {
	if service == "" {
		return nil, fmt.Errorf("advertising needs a -service")
	}
	var txt wire.TXT
	for _, t := range txtStrs {
		if txt == nil {
			txt = wire.TXT{}
		}
		k, v, _ := strings.Cut(t, "=")
		txt[k] = v
	}

	ad, err := m.CreateAdvertisement(service, port, advertiser.Options{Name: name, Txt: txt})
	if err != nil {
		return nil, err
	}
	ad.OnStatus(func(s advertiser.Status) { fmt.Printf("%s: %s\n", ad.Alias(), s) })
	ad.OnError(func(err error) { fmt.Fprintf(os.Stderr, "advertise error: %v\n", err) })
	if err := ad.Start(); err != nil {
		return nil, err
	}
	return ad.Stop, nil
}
