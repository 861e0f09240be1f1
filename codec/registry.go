// Package codec holds the registry of user-supplied encoders for
// message bodies that aren't one of the bus's built-in primitive
// types (string, []byte, bool, the fixed-width numeric kinds,
// structured JSON): a name-keyed sync.Map, nothing more.
package codec

import (
	"fmt"
	"sync"
)

// Codec encodes and decodes a single user type to and from bytes
// carried as a BodyTypeObject message body.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte) (interface{}, error)
}

// Registry is a concurrency-safe map of type name to Codec.
type Registry struct {
	codecs sync.Map // map[string]Codec
}

// NewRegistry creates an empty codec registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register installs codec under typeName, replacing any previous
// registration for that name.
func (r *Registry) Register(typeName string, c Codec) {
	r.codecs.Store(typeName, c)
}

// Unregister removes the codec registered under typeName, if any.
func (r *Registry) Unregister(typeName string) {
	r.codecs.Delete(typeName)
}

// Lookup returns the codec registered under typeName.
func (r *Registry) Lookup(typeName string) (Codec, bool) {
	v, ok := r.codecs.Load(typeName)
	if !ok {
		return nil, false
	}
	return v.(Codec), true
}

// ErrNoCodec is returned when decoding a received BodyTypeObject body
// whose type name has no registered codec.
type ErrNoCodec struct {
	TypeName string
}

func (e *ErrNoCodec) Error() string {
	return fmt.Sprintf("codec: no codec registered for type %q", e.TypeName)
}
