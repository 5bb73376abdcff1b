package wire

import (
	"bytes"

	json "github.com/goccy/go-json"
)

// Frame markers. Guest frames are written to the guest's stderr as
// \x00PYHOST:{json}\x00 so that they can be separated from ordinary
// diagnostic output. Host commands are written to the guest's stdin as one
// JSON document per line.
const (
	FramePrefix = "\x00PYHOST:"
	FrameSuffix = "\x00"
)

// Frame kinds sent by the guest.
const (
	FrameReady  = "ready"
	FrameReturn = "ret"
	FrameError  = "err"
	FrameCall   = "cb"
	FrameNote   = "note"
)

// Command kinds sent by the host.
const (
	KindCommand = "cmd"
	KindReply   = "reply"
)

// Guest operations (host to guest).
const (
	OpNamespaceNew  = "ns_new"
	OpNamespaceMain = "ns_main"
	OpNamespaceDrop = "ns_drop"
	OpExec          = "exec"
	OpGet           = "get"
	OpSet           = "set"
	OpResolve       = "resolve"
	OpResolveMethod = "resolve_method"
	OpCall          = "call"
	OpGetAttr       = "getattr"
	OpSetAttr       = "setattr"
	OpInvoke        = "invoke"
	OpNext          = "next"
	OpStr           = "str"
	OpRelease       = "release"
	OpAddPath       = "add_path"
	OpImport        = "import"
	OpShutdown      = "shutdown"
)

// Host operations (guest to host callbacks).
const (
	CallGetAttr   = "getattr"
	CallSetAttr   = "setattr"
	CallStr       = "str"
	CallEq        = "eq"
	CallHash      = "hash"
	CallConstruct = "construct"
	CallCall      = "call"
	CallInvoke    = "invoke"
	CallLen       = "len"
	CallContains  = "contains"
	CallGetItem   = "getitem"
	CallSetItem   = "setitem"
	CallDelItem   = "delitem"
	CallIter      = "iter"
	CallNext      = "next"
	CallKeys      = "keys"
	CallValues    = "values"
	CallFindClass = "find_class"
	CallHostFunc  = "host"
)

// Notes (guest to host, no reply).
const (
	NoteWrite = "write"
	NoteLog   = "log"
)

// Command is a host to guest message: either a command for the guest to
// execute or the reply to a guest callback.
type Command struct {
	Kind    string           `json:"k"`
	ID      uint64           `json:"id,omitempty"`
	Op      string           `json:"op,omitempty"`
	Ctx     string           `json:"ctx,omitempty"`
	Name    string           `json:"name,omitempty"`
	Attr    string           `json:"attr,omitempty"`
	Code    string           `json:"code,omitempty"`
	Ref     int64            `json:"ref,omitempty"`
	Args    []Value          `json:"args,omitempty"`
	Kwargs  map[string]Value `json:"kw,omitempty"`
	Value   *Value           `json:"v,omitempty"`
	Release []int64          `json:"rel,omitempty"`

	CB  uint64     `json:"cb,omitempty"`
	Err *ErrorInfo `json:"e,omitempty"`
}

// Frame is a guest to host message.
type Frame struct {
	Kind    string           `json:"k"`
	ID      uint64           `json:"id,omitempty"`
	CB      uint64           `json:"cb,omitempty"`
	Op      string           `json:"op,omitempty"`
	Handle  int64            `json:"h,omitempty"`
	Name    string           `json:"name,omitempty"`
	Args    []Value          `json:"args,omitempty"`
	Kwargs  map[string]Value `json:"kw,omitempty"`
	Value   *Value           `json:"v,omitempty"`
	Err     *ErrorInfo       `json:"e,omitempty"`
	Release []int64          `json:"rel,omitempty"`

	Stream string `json:"stream,omitempty"`
	Text   string `json:"text,omitempty"`
	Level  string `json:"level,omitempty"`
	Logger string `json:"logger,omitempty"`
}

// ErrorInfo describes an exception in either direction.
//
// From the guest: Type is the exception class name, Message the first
// positional argument (or str(exc)), Frames the traceback oldest first,
// Kind set for bridge lookup failures, Handle set when the exception wraps
// a host error.
//
// From the host: Type is the Go error type, Kind the bridge error kind (empty
// for application errors), Value the proxied error object.
type ErrorInfo struct {
	Type    string      `json:"type"`
	Message string      `json:"msg"`
	Kind    string      `json:"kind,omitempty"`
	Frames  []FrameInfo `json:"frames,omitempty"`
	Handle  int64       `json:"h,omitempty"`
	Value   *Value      `json:"v,omitempty"`
	Stack   []string    `json:"stack,omitempty"`
}

// FrameInfo is one traceback entry.
type FrameInfo struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Func string `json:"func"`
}

// EncodeCommand renders a command as one newline-terminated line.
func EncodeCommand(cmd *Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeFrame parses a frame payload (without markers).
func DecodeFrame(payload []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// EncodeFrame renders a frame with its markers. Used by test guests.
func EncodeFrame(f *Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(FramePrefix)+len(data)+len(FrameSuffix))
	out = append(out, FramePrefix...)
	out = append(out, data...)
	out = append(out, FrameSuffix...)
	return out, nil
}

// DecodeCommand parses one command line.
func DecodeCommand(line []byte) (*Command, error) {
	var c Command
	if err := json.Unmarshal(bytes.TrimSpace(line), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Splitter separates frames from ordinary output in a byte stream that may
// arrive in arbitrary chunks.
type Splitter struct {
	buf bytes.Buffer
}

// Feed appends data and returns the complete frame payloads found so far
// along with any plain output that precedes or lies between them. Partial
// frames are retained for the next call.
func (s *Splitter) Feed(data []byte) (frames [][]byte, plain []byte) {
	s.buf.Write(data)

	for {
		content := s.buf.Bytes()
		start := bytes.Index(content, []byte(FramePrefix))
		if start == -1 {
			// Hold back a tail that may be the start of the next prefix.
			keep := partialPrefix(content)
			plain = append(plain, content[:len(content)-keep]...)
			rest := append([]byte(nil), content[len(content)-keep:]...)
			s.buf.Reset()
			s.buf.Write(rest)
			return frames, plain
		}

		plain = append(plain, content[:start]...)

		body := content[start+len(FramePrefix):]
		end := bytes.Index(body, []byte(FrameSuffix))
		if end == -1 {
			rest := append([]byte(nil), content[start:]...)
			s.buf.Reset()
			s.buf.Write(rest)
			return frames, plain
		}

		frames = append(frames, append([]byte(nil), body[:end]...))
		rest := append([]byte(nil), body[end+len(FrameSuffix):]...)
		s.buf.Reset()
		s.buf.Write(rest)
	}
}

// partialPrefix returns how many trailing bytes of b could be the start of
// FramePrefix.
func partialPrefix(b []byte) int {
	n := len(FramePrefix) - 1
	if n > len(b) {
		n = len(b)
	}
	for ; n > 0; n-- {
		if bytes.HasPrefix([]byte(FramePrefix), b[len(b)-n:]) {
			return n
		}
	}
	return 0
}
