// Package handler defines the contract shared by all conversion backends.
package handler

import (
	"context"
	"encoding/json"
	"sort"
)

// DataKey is the metadata key under which GetMetadata embeds the document
// content when the base document is requested.
const DataKey = "Data"

// Metadata is a document metadata mapping.
type Metadata map[string]any

// Clone returns a shallow copy.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Without returns a copy with the given keys removed.
func (m Metadata) Without(keys ...string) Metadata {
	out := m.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// String returns the value under key when it is a string.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Keys returns the keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DecodeMetadata parses a JSON object.
func DecodeMetadata(data []byte) (Metadata, error) {
	md := Metadata{}
	if len(data) == 0 {
		return md, nil
	}
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, err
	}
	return md, nil
}

// Handler is one request's view of a backend. Each method consumes the
// handler's working document; a handler is used for a single operation.
type Handler interface {
	Convert(ctx context.Context, destination string, params map[string]string) ([]byte, error)
	GetMetadata(ctx context.Context, baseDocument bool) (Metadata, error)
	SetMetadata(ctx context.Context, metadata Metadata) ([]byte, error)
}

// Format is one entry of an allowed-conversion list.
type Format struct {
	MimeType string `json:"mimetype"`
	Title    string `json:"title"`
}
