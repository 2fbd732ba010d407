package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeClientMessageEvent(t *testing.T) {
	raw := []byte(`{"type":"event","component_id":"hx-1","handler":"inc","params":{"amount":2},"fingerprint":"abc"}`)
	msg, err := DecodeClientMessage(raw, DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != TypeEvent || msg.ComponentID != "hx-1" || msg.Handler != "inc" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Params["amount"] != float64(2) {
		t.Errorf("params = %v", msg.Params)
	}
	if msg.Fingerprint != "abc" {
		t.Errorf("fingerprint = %q", msg.Fingerprint)
	}
}

func TestDecodeClientMessageAdded(t *testing.T) {
	raw := []byte(`{"type":"added","states":["blob1","blob2"],"subscriptions":{"hx-1":"a.b,c.d"}}`)
	msg, err := DecodeClientMessage(raw, DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msg.States) != 2 || msg.Subscriptions["hx-1"] != "a.b,c.d" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestDecodeClientMessageRemoved(t *testing.T) {
	raw := []byte(`{"type":"removed","component_ids":["hx-1","hx-2"]}`)
	msg, err := DecodeClientMessage(raw, DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msg.ComponentIDs) != 2 {
		t.Errorf("msg = %+v", msg)
	}
}

func TestDecodeClientMessageMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{broken`},
		{"unknown type", `{"type":"teleport"}`},
		{"event without id", `{"type":"event","handler":"inc"}`},
		{"event without handler", `{"type":"event","component_id":"hx-1"}`},
		{"added without states", `{"type":"added"}`},
		{"removed without ids", `{"type":"removed"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeClientMessage([]byte(tc.raw), DefaultLimits())
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestDecodeClientMessageTooLarge(t *testing.T) {
	limits := Limits{MaxMessageBytes: 16}
	_, err := DecodeClientMessage([]byte(`{"type":"event","component_id":"hx-1","handler":"inc"}`), limits)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}
}

func TestDecodeClientMessageTooManyStates(t *testing.T) {
	limits := Limits{MaxComponents: 1}
	_, err := DecodeClientMessage([]byte(`{"type":"added","states":["a","b"]}`), limits)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}
}

func TestDecodeClientMessageZeroLimits(t *testing.T) {
	// Zero values disable the size checks.
	raw := []byte(`{"type":"removed","component_ids":["hx-1"]}`)
	if _, err := DecodeClientMessage(raw, Limits{}); err != nil {
		t.Errorf("decode with zero limits: %v", err)
	}
}

func TestClientMessageRoundTrip(t *testing.T) {
	msg := NewEvent("hx-1", "inc", map[string]any{"amount": "2"}, "fp")
	raw, err := msg.Encode()
	if err != nil {
		t.Fatal(err)
	}
	back, err := DecodeClientMessage(raw, DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	if back.ComponentID != "hx-1" || back.Handler != "inc" || back.Fingerprint != "fp" {
		t.Errorf("round trip = %+v", back)
	}
}

func TestSignerRoundTrip(t *testing.T) {
	s := NewSigner([]byte("key"))
	blob, err := s.Sign([]byte(`{"n":1}`))
	if err != nil {
		t.Fatal(err)
	}
	data, err := s.Unsign(blob)
	if err != nil {
		t.Fatalf("unsign: %v", err)
	}
	if string(data) != `{"n":1}` {
		t.Errorf("data = %s", data)
	}
}

func TestSignerRejectsTampering(t *testing.T) {
	s := NewSigner([]byte("key"))
	blob, err := s.Sign([]byte(`{"n":1}`))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Unsign(blob + "x"); !errors.Is(err, ErrBadSignature) {
		t.Errorf("tampered blob: err = %v, want ErrBadSignature", err)
	}
	if _, err := s.Unsign("!!!not base64!!!"); !errors.Is(err, ErrBadSignature) {
		t.Errorf("garbage blob: err = %v, want ErrBadSignature", err)
	}
}

func TestSignerRejectsForeignKey(t *testing.T) {
	blob, err := NewSigner([]byte("key-a")).Sign([]byte("data"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewSigner([]byte("key-b")).Unsign(blob); !errors.Is(err, ErrBadSignature) {
		t.Errorf("foreign key: err = %v, want ErrBadSignature", err)
	}
}

func TestSignStateRoundTrip(t *testing.T) {
	s := NewSigner([]byte("key"))
	blob, err := s.SignState("hx-1", "Counter", json.RawMessage(`{"count":3}`))
	if err != nil {
		t.Fatal(err)
	}

	id, typeName, state, err := s.UnsignState(blob)
	if err != nil {
		t.Fatalf("unsign state: %v", err)
	}
	if id != "hx-1" || typeName != "Counter" || string(state) != `{"count":3}` {
		t.Errorf("got %q %q %s", id, typeName, state)
	}
}

func TestUnsignStateRequiresIDAndType(t *testing.T) {
	s := NewSigner([]byte("key"))

	// Correctly signed, but the payload is not a state envelope.
	blob, err := s.Sign([]byte(`{"other":"shape"}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := s.UnsignState(blob); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestCommandEncodeOmitsUnusedFields(t *testing.T) {
	cmd := Command{Command: CmdDestroy, ComponentID: "hx-1"}
	raw, err := cmd.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"command":"destroy","component_id":"hx-1"}` {
		t.Errorf("encoded = %s", raw)
	}
	if strings.Contains(string(raw), "html") {
		t.Error("unused field leaked onto the wire")
	}

	back, err := DecodeCommand(raw)
	if err != nil {
		t.Fatal(err)
	}
	if back.Command != CmdDestroy || back.ComponentID != "hx-1" {
		t.Errorf("decoded = %+v", back)
	}
}
