package hostfunc

import (
	"bytes"
	"testing"
)

func TestStreamsRouting(t *testing.T) {
	var out, errOut bytes.Buffer
	s := NewStreams(&out, &errOut)

	if err := s.Write(Stdout, "hello\n"); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(Stderr, "oops\n"); err != nil {
		t.Fatal(err)
	}
	if out.String() != "hello\n" || errOut.String() != "oops\n" {
		t.Errorf("stdout=%q stderr=%q", out.String(), errOut.String())
	}
}

func TestStreamsDiscardAndUnknown(t *testing.T) {
	s := NewStreams(nil, nil)
	if err := s.Write(Stdout, "dropped"); err != nil {
		t.Errorf("nil writer should discard: %v", err)
	}
	if err := s.Write("stdin", "x"); err == nil {
		t.Error("expected error for unknown stream")
	}
}
