// Package rpc carries the dumper's host link: a line-oriented
// command/argument protocol spoken over a serial port at 115200 8-N-1 (or
// any io.ReadWriter). One request per line, one "ok ..." or "err ..."
// response per request; lines starting with '#' are chatter the client
// skips, which is where the engine's operator prompts go.
package rpc

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sinolink/sinodump/pkg/sino"
)

// MaxReadLen bounds a single read request, matching the reference
// programmer's transfer buffer.
const MaxReadLen = 256

// Engine is the slice of the debug engine the dispatcher drives.
type Engine interface {
	Connect() bool
	Disconnect()
	CheckICP() bool
	CheckJTAG() bool
	GetID() uint16
	PingICP()
	ReadFlashICP(buf []byte, address uint32, customBlock bool) bool
	ReadFlashJTAG(buf []byte, address uint32, customBlock bool) bool
	DetectReadMethod() sino.ReadMethod
	Profile() sino.ChipProfile
}

// Server dispatches protocol lines onto an engine. It holds no state of its
// own beyond the stream; all sequencing lives in the engine.
type Server struct {
	engine Engine
	rw     io.ReadWriter
}

// NewServer wraps an engine and a request/response stream.
func NewServer(engine Engine, rw io.ReadWriter) *Server {
	return &Server{engine: engine, rw: rw}
}

// Serve reads requests until the stream ends. The error is nil on EOF.
func (s *Server) Serve() error {
	fmt.Fprintf(s.rw, "# SinoWealth 8051-based MCU flash dumper\r\n")
	fmt.Fprintf(s.rw, "# ready for commands\r\n")

	sc := bufio.NewScanner(s.rw)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s.dispatch(strings.Fields(line))
	}
	return sc.Err()
}

func (s *Server) ok(args ...string) {
	if len(args) == 0 {
		fmt.Fprintf(s.rw, "ok\r\n")
		return
	}
	fmt.Fprintf(s.rw, "ok %s\r\n", strings.Join(args, " "))
}

func (s *Server) fail(format string, a ...any) {
	fmt.Fprintf(s.rw, "err "+format+"\r\n", a...)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (s *Server) dispatch(fields []string) {
	cmd, args := fields[0], fields[1:]

	switch strings.ToLower(cmd) {
	case "connect":
		s.engine.Connect()
		s.ok()
	case "disconnect":
		s.engine.Disconnect()
		s.ok()
	case "checkicp":
		s.ok(flag(s.engine.CheckICP()))
	case "checkjtag":
		s.ok(flag(s.engine.CheckJTAG()))
	case "getid":
		s.ok(fmt.Sprintf("0x%04X", s.engine.GetID()))
	case "pingicp":
		s.engine.PingICP()
		s.ok()
	case "detect":
		s.ok(s.engine.DetectReadMethod().String())
	case "chipinfo":
		p := s.engine.Profile()
		s.ok(
			fmt.Sprintf("type=%d", p.Type),
			fmt.Sprintf("flash=%d", p.FlashSize),
			fmt.Sprintf("product=%d", p.ProductBlock),
			fmt.Sprintf("custom=%d", p.CustomBlock),
			fmt.Sprintf("product_addr=0x%04X", p.ProductBlockAddress()),
			fmt.Sprintf("options_addr=0x%04X", p.CodeOptionsAddress()),
			fmt.Sprintf("options_size=%d", p.CodeOptionsSize()),
			fmt.Sprintf("options_in_flash=%s", flag(p.CodeOptionsInFlash())),
		)
	case "readicp":
		s.read(args, s.engine.ReadFlashICP)
	case "readjtag":
		s.read(args, s.engine.ReadFlashJTAG)
	default:
		s.fail("unknown command %q", cmd)
	}
}

func (s *Server) read(args []string, readFn func([]byte, uint32, bool) bool) {
	if len(args) < 2 || len(args) > 3 {
		s.fail("usage: read(icp|jtag) <addr> <n> [custom]")
		return
	}
	addr, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		s.fail("bad address %q", args[0])
		return
	}
	n, err := strconv.ParseUint(args[1], 0, 16)
	if err != nil || n == 0 || n > MaxReadLen {
		s.fail("bad length %q (1..%d)", args[1], MaxReadLen)
		return
	}
	custom := false
	if len(args) == 3 {
		if args[2] != "custom" {
			s.fail("bad argument %q", args[2])
			return
		}
		custom = true
	}

	buf := make([]byte, n)
	if !readFn(buf, uint32(addr), custom) {
		s.fail("read failed")
		return
	}
	s.ok(hex.EncodeToString(buf))
}

// ErrClosed is returned by CommentWriter after its stream fails once.
var ErrClosed = errors.New("rpc: stream closed")

// CommentWriter adapts a stream so every written line arrives prefixed with
// "# ", keeping engine console output out of the response channel.
func CommentWriter(w io.Writer) io.Writer {
	return &commentWriter{w: w}
}

type commentWriter struct {
	w      io.Writer
	failed bool
}

func (c *commentWriter) Write(p []byte) (int, error) {
	if c.failed {
		return 0, ErrClosed
	}
	for _, line := range strings.Split(strings.TrimRight(string(p), "\r\n"), "\n") {
		if _, err := fmt.Fprintf(c.w, "# %s\r\n", strings.TrimRight(line, "\r")); err != nil {
			c.failed = true
			return 0, err
		}
	}
	return len(p), nil
}
