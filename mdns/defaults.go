package mdns

import (
	"time"
)

const (
	GatewayPluginName   = "mdnssd"
	AdvertisePluginName = "mdnssd_advertise"
	ForwardPluginName   = "mdnssd_forward"

	DefaultServiceType = "_dns._udp"
	DefaultZone        = "local."

	AdvertisingPrefix        = "mdnssd "
	DefaultTTL        uint32 = 120

	DefaultTimeout         time.Duration = time.Second * 30
	DefaultRefreshInterval time.Duration = time.Minute
	DefaultRetryTimeout    time.Duration = time.Second
	DefaultAddrsPerHost                  = 1
	DefaultAddrMode                      = IPv4Only
)
