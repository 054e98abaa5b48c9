package echolet

import (
	"io"
	"testing"
)

func TestParseOptions(t *testing.T) {
	t.Setenv("ECHOLET_CLIENTS", "alice, bob")
	t.Setenv("NATS_URL", "nats://env:4222")

	opts, code, err := parseOptions([]string{"--drop", "bob"}, io.Discard)
	if err != nil || code != 0 {
		t.Fatalf("parse: code=%d err=%v", code, err)
	}
	if opts.natsURL != "nats://env:4222" {
		t.Fatalf("nats url = %q", opts.natsURL)
	}
	if len(opts.clients) != 2 || opts.clients[1] != "bob" {
		t.Fatalf("clients = %v", opts.clients)
	}
	if len(opts.drop) != 1 || opts.drop[0] != "bob" {
		t.Fatalf("drop = %v", opts.drop)
	}

	opts, code, err = parseOptions([]string{"--clients", "", "--nats-url", "nats://flag:4222"}, io.Discard)
	if err != nil || code != 0 || len(opts.clients) != 0 || opts.natsURL != "nats://flag:4222" {
		t.Fatalf("overrides: opts=%+v code=%d err=%v", opts, code, err)
	}

	if _, code, err := parseOptions([]string{"stray"}, io.Discard); err == nil || code != 2 {
		t.Fatalf("stray arg: code=%d err=%v", code, err)
	}
}
