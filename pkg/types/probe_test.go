package types_test

import (
	"errors"
	"testing"

	"github.com/natssync/mstress/pkg/types"
)

func TestEchoPayloadRoundTrip(t *testing.T) {
	in := types.NewEchoPayload(42, "alice")
	data, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	out, err := types.DecodeEchoPayload(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID != in.ID || out.Client != in.Client {
		t.Fatalf("decoded {%d %q}, want {%d %q}", out.ID, out.Client, in.ID, in.Client)
	}
	if !out.Time.Equal(in.Time) {
		t.Fatalf("time = %v, want %v", out.Time, in.Time)
	}
}

func TestDecodeEchoPayloadRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "invalid utf8", data: []byte{0xff, 0xfe, 0xfd}},
		{name: "not json", data: []byte("hello")},
		{name: "wrong shape", data: []byte(`{"id":"one"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := types.DecodeEchoPayload(tt.data); err == nil {
				t.Fatalf("expected decode error for %q", tt.data)
			}
		})
	}
}

func TestDecodeEchoPayloadInvalidUTF8Sentinel(t *testing.T) {
	_, err := types.DecodeEchoPayload([]byte{0xc3, 0x28})
	if !errors.Is(err, types.ErrInvalidUTF8) {
		t.Fatalf("err = %v, want ErrInvalidUTF8", err)
	}
}

func TestNewStressTestMintsUniqueIDs(t *testing.T) {
	a := types.NewStressTest([]string{"a"}, 1)
	b := types.NewStressTest([]string{"a"}, 1)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids %q and %q must be non-empty and distinct", a.ID, b.ID)
	}
}
