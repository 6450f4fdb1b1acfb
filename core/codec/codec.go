// Package codec encodes request payloads and decodes responses exchanged with
// index nodes.
package codec

import "encoding/json"

type Codec interface {
	// ContentType is sent along with encoded payloads.
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type JSONCodec struct {
	// Indent pretty-prints encoded payloads.
	Indent bool
}

var _ Codec = JSONCodec{}

func (JSONCodec) ContentType() string { return "application/json" }

func (c JSONCodec) Marshal(v any) ([]byte, error) {
	if c.Indent {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

// Default is the codec used when none is configured.
var Default Codec = JSONCodec{}
