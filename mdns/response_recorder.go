package mdns

import (
	"github.com/miekg/dns"
)

// responseRecorder is a dns.ResponseWriter that records the status code of the response.
type responseRecorder struct {
	dns.ResponseWriter
	Rcode int
	Msg   *dns.Msg
}

// NewResponseRecorder returns a new responseRecorder.
func NewResponseRecorder(w dns.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, Rcode: -1}
}

// WriteMsg records the status code. The message is only passed on when it is
// final, so a failed attempt can be retried on the same writer.
func (r *responseRecorder) WriteMsg(res *dns.Msg) error {
	r.Rcode = res.Rcode
	r.Msg = res
	if !r.final() {
		return nil
	}
	return r.ResponseWriter.WriteMsg(res)
}

// final reports whether the recorded response should reach the client as is.
func (r *responseRecorder) final() bool {
	return r.Rcode == dns.RcodeSuccess || r.Rcode == dns.RcodeNameError
}

// Flush writes a held back response.
func (r *responseRecorder) Flush() error {
	if r.Msg == nil || r.final() {
		return nil
	}
	return r.ResponseWriter.WriteMsg(r.Msg)
}

// Hijack implements dns.ResponseWriter.
func (r *responseRecorder) Hijack() {
	r.ResponseWriter.Hijack()
}

// Close implements dns.ResponseWriter.
func (r *responseRecorder) Close() error {
	return r.ResponseWriter.Close()
}
