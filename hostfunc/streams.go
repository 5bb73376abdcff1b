package hostfunc

import (
	"fmt"
	"io"
	"sync"
)

// Stream names used by the guest's redirected sys.stdout and sys.stderr.
const (
	Stdout = "stdout"
	Stderr = "stderr"
)

// Streams receives text written to the guest's standard streams. A nil
// writer discards its stream.
type Streams struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

func NewStreams(stdout, stderr io.Writer) *Streams {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &Streams{stdout: stdout, stderr: stderr}
}

// Write forwards text to the named stream. Writes from different guests
// are serialized so that lines do not interleave mid-write.
func (s *Streams) Write(stream, text string) error {
	var w io.Writer
	switch stream {
	case Stdout:
		w = s.stdout
	case Stderr:
		w = s.stderr
	default:
		return fmt.Errorf("unknown stream: %q", stream)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(w, text)
	return err
}
