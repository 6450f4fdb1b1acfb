package cluster

import (
	"fmt"
	"maps"
	"net/url"
	"strings"
)

const (
	HeaderRequestID = "x-request-id"

	// headers with this prefix are set by transports only
	reservedHeaderPrefix = "x-shardroute-"
)

type EnvelopeOption func(*Envelope)

func WithHeader(key, value string) EnvelopeOption {
	return func(e *Envelope) {
		if e.Headers == nil {
			e.Headers = make(map[string]string)
		}
		e.Headers[key] = value
	}
}

func WithParam(key, value string) EnvelopeOption {
	return func(e *Envelope) {
		if e.Params == nil {
			e.Params = url.Values{}
		}
		e.Params.Set(key, value)
	}
}

// Envelope is one request addressed to a handler path on a core or node.
type Envelope struct {
	ID          string            `json:"id,omitempty"`
	Method      string            `json:"method,omitempty"`
	Path        string            `json:"path"`
	Params      url.Values        `json:"params,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Data        []byte            `json:"data,omitempty"`
}

func NewEnvelope(path string, data []byte, opts ...EnvelopeOption) Envelope {
	e := Envelope{Path: path, Data: data}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

func (e Envelope) GetHeader(key string) (string, bool) {
	if e.Headers == nil {
		return "", false
	}
	v, ok := e.Headers[key]
	return v, ok
}

// Clone copies params and headers so the result can be modified freely.
func (e Envelope) Clone() Envelope {
	out := e
	if e.Params != nil {
		out.Params = make(url.Values, len(e.Params))
		for k, v := range e.Params {
			out.Params[k] = append([]string(nil), v...)
		}
	}
	if e.Headers != nil {
		out.Headers = maps.Clone(e.Headers)
	}
	return out
}

func (e Envelope) Validate() error {
	if e.Path == "" {
		return fmt.Errorf("envelope: path is required")
	}
	for k := range e.Headers {
		if strings.HasPrefix(strings.ToLower(k), reservedHeaderPrefix) {
			return fmt.Errorf("%w: %s", ErrReservedHeader, k)
		}
	}
	return nil
}
