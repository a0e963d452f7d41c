package wire

import (
	"fmt"
	"strings"
)

// Record is a question or a resource record.
//
// Questions carry only Name, Type and Class.
type Record struct {
	Name  string
	Type  Type
	Class Class
	TTL   uint32
	Data  []byte

	question bool
}

// NewQuestion returns a question record.
func NewQuestion(name string, t Type, class Class) *Record {
	return &Record{Name: name, Type: t, Class: class, question: true}
}

// NewRecord returns a resource record.
func NewRecord(name string, t Type, class Class, ttl uint32, data []byte) *Record {
	return &Record{Name: name, Type: t, Class: class, TTL: ttl, Data: data}
}

// IsQuestion reports whether r belongs in the question section.
func (r *Record) IsQuestion() bool { return r.question }

// WithTTL returns a copy of r with the given ttl.
func (r *Record) WithTTL(ttl uint32) *Record {
	c := *r
	c.TTL = ttl
	return &c
}

func (r *Record) String() string {
	if r.question {
		return fmt.Sprintf("%s %s %s", r.Name, r.Class, r.Type)
	}
	var data string
	switch r.Type {
	case TypeA, TypeAAAA:
		if a, err := r.addr(); err == nil {
			data = a.String()
		}
	case TypePTR:
		data, _ = r.AsPTRName()
	case TypeSRV:
		if srv, err := r.AsSRV(); err == nil {
			data = srv.String()
		}
	case TypeTXT:
		if txt, err := r.AsTXT(); err == nil {
			data = strings.Join(txt.Strings(), " ")
		}
	}
	if data == "" {
		data = fmt.Sprintf("\\# %d", len(r.Data))
	}
	return fmt.Sprintf("%s %d %s %s %s", r.Name, r.TTL, r.Class, r.Type, data)
}
