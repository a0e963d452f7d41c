package mdns

import (
	"context"
	"time"

	"github.com/nbeirne/coredns-mdnssd/browser"
)

// serviceBrowser is the part of a browser the plugins need. Tests replace it.
type serviceBrowser interface {
	Start() error
	Stop() error
	Services() []browser.Service
	Discover()
	ForceRefresh(ctx context.Context) error
}

// refreshingBrowser is a browser that queries again every interval.
type refreshingBrowser struct {
	browser   *browser.Browser
	refresher *browser.Refresher
}

func newRefreshingBrowser(b *browser.Browser, interval time.Duration) *refreshingBrowser {
	return &refreshingBrowser{browser: b, refresher: browser.NewRefresher(b, interval)}
}

func (b *refreshingBrowser) Start() error {
	if err := b.browser.Start(); err != nil {
		return err
	}
	b.refresher.Start()
	return nil
}

func (b *refreshingBrowser) Stop() error {
	b.refresher.Stop()
	return b.browser.Stop()
}

func (b *refreshingBrowser) Services() []browser.Service { return b.browser.Services() }

func (b *refreshingBrowser) Discover() { b.browser.Discover() }

func (b *refreshingBrowser) ForceRefresh(ctx context.Context) error {
	return b.refresher.ForceRefresh(ctx)
}
