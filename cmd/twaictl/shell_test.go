package main

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/notnil/twai"
)

func TestParseFrame(t *testing.T) {
	cases := []struct {
		in   string
		want twai.Frame
	}{
		{"123#DEADBEEF", twai.Frame{ID: 0x123, Len: 4, Data: [8]byte{0xDE, 0xAD, 0xBE, 0xEF}}},
		{"7FF#", twai.Frame{ID: 0x7FF}},
		{"1FFFFFFF#01.02", twai.Frame{ID: 0x1FFFFFFF, Extended: true, Len: 2, Data: [8]byte{1, 2}}},
		{"7DF#R", twai.Frame{ID: 0x7DF, RTR: true}},
		{"00000010#r", twai.Frame{ID: 0x10, Extended: true, RTR: true}},
	}
	for _, tc := range cases {
		got, err := parseFrame(tc.in)
		if err != nil {
			t.Fatalf("parseFrame(%q): %v", tc.in, err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("parseFrame(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestParseFrameErrors(t *testing.T) {
	for _, in := range []string{
		"123",
		"12#00",
		"800#00",
		"123#0",
		"123#zz",
		"123#000102030405060708",
		"GGG#00",
	} {
		if _, err := parseFrame(in); err == nil {
			t.Fatalf("parseFrame(%q) succeeded, want error", in)
		}
	}
}

func TestShellAgainstSim(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	drv, closeDrv, err := openSim(logger)
	if err != nil {
		t.Fatal(err)
	}
	defer closeDrv()
	c := twai.New(drv)
	defer c.Stop()

	var out bytes.Buffer
	sh := &shell{c: c, out: &out}
	for _, line := range []string{
		"start",
		"send 123#0102",
		"read 1000",
		"status",
	} {
		out.Reset()
		if sh.exec(line) {
			t.Fatalf("%q ended the shell", line)
		}
		if strings.HasPrefix(out.String(), "error:") {
			t.Fatalf("%q: %s", line, out.String())
		}
		switch line {
		case "read 1000":
			if got := strings.TrimSpace(out.String()); got != "124 [2] 01 02" {
				t.Fatalf("read = %q, want echoed frame", got)
			}
		case "status":
			if !strings.HasPrefix(out.String(), "state=running speed=500kbps") {
				t.Fatalf("status = %q", out.String())
			}
		}
	}
	if !sh.exec(`quit`) {
		t.Fatal("quit did not end the shell")
	}
}

func TestShellErrors(t *testing.T) {
	c := twai.New(twai.NewSimBus().Open())
	var out bytes.Buffer
	sh := &shell{c: c, out: &out}
	for _, line := range []string{
		"bogus",
		"send",
		"send 123#00",
		"pins 1",
		"queues x 1",
		`send "unterminated`,
		"read 0",
	} {
		out.Reset()
		sh.exec(line)
		if !strings.HasPrefix(out.String(), "error:") {
			t.Fatalf("%q: output %q, want error", line, out.String())
		}
	}
}

func TestShellSpeed(t *testing.T) {
	c := twai.New(twai.NewSimBus().Open(), twai.WithChip(twai.ChipESP32))
	var out bytes.Buffer
	sh := &shell{c: c, out: &out}
	sh.exec("speed 250")
	if got := strings.TrimSpace(out.String()); got != "250kbps" {
		t.Fatalf("speed 250 printed %q", got)
	}
	out.Reset()
	// 1 kbit/s needs a wider prescaler than the first ESP32 revision has.
	sh.exec("speed 1")
	if got := strings.TrimSpace(out.String()); got != "250kbps" {
		t.Fatalf("speed 1 printed %q, want unchanged", got)
	}
}
