package codec

import (
	"encoding/json"
	"testing"
)

type widget struct {
	Name string `json:"name"`
}

type widgetCodec struct{}

func (widgetCodec) Encode(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (widgetCodec) Decode(data []byte) (interface{}, error) {
	var w widget
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return w, nil
}

func TestRegisterLookupUnregister(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Lookup("widget"); ok {
		t.Fatal("expected no codec before registration")
	}

	r.Register("widget", widgetCodec{})

	c, ok := r.Lookup("widget")
	if !ok {
		t.Fatal("expected codec after registration")
	}

	encoded, err := c.Encode(widget{Name: "gizmo"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := c.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.(widget).Name != "gizmo" {
		t.Errorf("round trip mismatch: got %+v", decoded)
	}

	r.Unregister("widget")
	if _, ok := r.Lookup("widget"); ok {
		t.Fatal("expected no codec after unregistration")
	}
}

func TestErrNoCodecMessage(t *testing.T) {
	err := &ErrNoCodec{TypeName: "widget.Order"}
	if err.Error() == "" {
		t.Fatal("expected non-empty error message")
	}
}
