package mdns

import (
	"strings"

	"github.com/nbeirne/coredns-mdnssd"
	"github.com/nbeirne/coredns-mdnssd/advertiser"
	"github.com/nbeirne/coredns-mdnssd/wire"
)

// MdnsAdvertise publishes the DNS server itself as a service instance.
type MdnsAdvertise struct {
	instanceName string
	hostName     string
	service      string
	port         int
	ttl          uint32
	txt          wire.TXT

	mdns *mdnssd.Mdns
	ad   *advertiser.Advertisement
}

func NewMdnsAdvertise(m *mdnssd.Mdns, instanceName, hostName, service string, port int, ttl uint32) *MdnsAdvertise {
	return &MdnsAdvertise{
		instanceName: instanceName,
		hostName:     hostName,
		service:      service,
		port:         port,
		ttl:          ttl,
		mdns:         m,
	}
}

// AddTxt adds a "key=value" entry. A bare key gets an empty value.
func (m *MdnsAdvertise) AddTxt(txtEntry string) {
	if m.txt == nil {
		m.txt = wire.TXT{}
	}
	key, value, _ := strings.Cut(txtEntry, "=")
	m.txt[key] = value
}

func (m *MdnsAdvertise) StartAdvertise() error {
	if m.ad == nil {
		ad, err := m.mdns.CreateAdvertisement(m.service, m.port, advertiser.Options{
			Name: m.instanceName,
			Host: m.hostName,
			Txt:  m.txt,
			TTL:  m.ttl,
		})
		if err != nil {
			log.Errorf("Error creating advertisement: %s", err)
			return err
		}
		ad.OnError(func(err error) { log.Warningf("Advertising %s: %v", ad.Alias(), err) })
		ad.OnStatus(func(s advertiser.Status) {
			switch s {
			case advertiser.Announced:
				log.Infof("Advertising %s on port %d", ad.Alias(), m.port)
			case advertiser.Conflict:
				log.Warningf("Name conflict for %s, renaming", ad.Alias())
			}
		})
		m.ad = ad
	}

	log.Infof("Start advertising... Instance: %s, Service: %s, Port: %d", m.instanceName, m.service, m.port)
	return m.ad.Start()
}

func (m *MdnsAdvertise) StopAdvertise() error {
	if m.ad == nil {
		return nil
	}
	log.Infof("Stop advertising...")
	return m.ad.Stop()
}

// Status is the state of the advertisement, Idle before the first start.
func (m *MdnsAdvertise) Status() advertiser.Status {
	if m.ad == nil {
		return advertiser.Idle
	}
	return m.ad.Status()
}
