package rpc

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jacobsa/go-serial/serial"
	"github.com/sinolink/sinodump/pkg/sino"
)

// ChipInfo is the probe-side chip configuration as reported by "chipinfo".
type ChipInfo struct {
	Type             uint8
	FlashSize        uint32
	ProductBlock     uint8
	CustomBlock      uint8
	ProductBlockAddr uint32
	OptionsAddr      uint32
	OptionsSize      uint32
	OptionsInFlash   bool
}

// Client speaks the probe protocol from the host side.
type Client struct {
	rw io.ReadWriter
	br *bufio.Reader
}

// NewClient wraps an already-open stream.
func NewClient(rw io.ReadWriter) *Client {
	return &Client{rw: rw, br: bufio.NewReader(rw)}
}

// Dial opens the named serial port at the protocol's fixed 115200 8-N-1.
// The returned closer shuts the port.
func Dial(port string) (*Client, io.Closer, error) {
	p, err := serial.Open(serial.OpenOptions{
		PortName:        port,
		BaudRate:        115200,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("rpc: open %s: %w", port, err)
	}
	return NewClient(p), p, nil
}

// call sends one request line and returns the fields of the matching "ok"
// response, skipping '#' chatter. An "err" response comes back as an error.
func (c *Client) call(format string, a ...any) ([]string, error) {
	if _, err := fmt.Fprintf(c.rw, format+"\r\n", a...); err != nil {
		return nil, fmt.Errorf("rpc: write: %w", err)
	}
	for {
		line, err := c.br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("rpc: read: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "ok":
			return fields[1:], nil
		case "err":
			return nil, fmt.Errorf("rpc: probe: %s", strings.Join(fields[1:], " "))
		default:
			return nil, fmt.Errorf("rpc: malformed response %q", line)
		}
	}
}

// Connect runs the probe's power-up handshake. This blocks until the target
// is powered; the probe's prompts stream back as '#' lines meanwhile.
func (c *Client) Connect() error {
	_, err := c.call("connect")
	return err
}

// Disconnect parks the probe's attach.
func (c *Client) Disconnect() error {
	_, err := c.call("disconnect")
	return err
}

func (c *Client) callFlag(cmd string) (bool, error) {
	fields, err := c.call(cmd)
	if err != nil {
		return false, err
	}
	if len(fields) != 1 {
		return false, fmt.Errorf("rpc: malformed %s response", cmd)
	}
	return fields[0] == "1", nil
}

// CheckICP reports ICP-channel liveness.
func (c *Client) CheckICP() (bool, error) { return c.callFlag("checkicp") }

// CheckJTAG reports scan-chain liveness.
func (c *Client) CheckJTAG() (bool, error) { return c.callFlag("checkjtag") }

// GetID reads the target's identification register.
func (c *Client) GetID() (uint16, error) {
	fields, err := c.call("getid")
	if err != nil {
		return 0, err
	}
	if len(fields) != 1 {
		return 0, fmt.Errorf("rpc: malformed getid response")
	}
	id, err := strconv.ParseUint(fields[0], 0, 16)
	if err != nil {
		return 0, fmt.Errorf("rpc: bad id %q: %w", fields[0], err)
	}
	return uint16(id), nil
}

// PingICP nudges the target's ICP block.
func (c *Client) PingICP() error {
	_, err := c.call("pingicp")
	return err
}

// Detect asks the probe which read method answers.
func (c *Client) Detect() (sino.ReadMethod, error) {
	fields, err := c.call("detect")
	if err != nil {
		return sino.MethodNone, err
	}
	if len(fields) != 1 {
		return sino.MethodNone, fmt.Errorf("rpc: malformed detect response")
	}
	switch fields[0] {
	case "icp":
		return sino.MethodICP, nil
	case "jtag":
		return sino.MethodJTAG, nil
	}
	return sino.MethodNone, nil
}

// ChipInfo fetches the probe's configured chip profile and the derived
// code-option layout.
func (c *Client) ChipInfo() (ChipInfo, error) {
	fields, err := c.call("chipinfo")
	if err != nil {
		return ChipInfo{}, err
	}
	var info ChipInfo
	for _, f := range fields {
		key, value, found := strings.Cut(f, "=")
		if !found {
			return ChipInfo{}, fmt.Errorf("rpc: malformed chipinfo field %q", f)
		}
		v, err := strconv.ParseUint(value, 0, 32)
		if err != nil {
			return ChipInfo{}, fmt.Errorf("rpc: bad chipinfo value %q: %w", f, err)
		}
		switch key {
		case "type":
			info.Type = uint8(v)
		case "flash":
			info.FlashSize = uint32(v)
		case "product":
			info.ProductBlock = uint8(v)
		case "custom":
			info.CustomBlock = uint8(v)
		case "product_addr":
			info.ProductBlockAddr = uint32(v)
		case "options_addr":
			info.OptionsAddr = uint32(v)
		case "options_size":
			info.OptionsSize = uint32(v)
		case "options_in_flash":
			info.OptionsInFlash = v == 1
		}
	}
	return info, nil
}

// ReadFlash pulls n bytes (1..MaxReadLen) from address using the given
// method, from the custom block when customBlock is set.
func (c *Client) ReadFlash(method sino.ReadMethod, address uint32, n int, customBlock bool) ([]byte, error) {
	if n < 1 || n > MaxReadLen {
		return nil, fmt.Errorf("rpc: length %d out of range 1..%d", n, MaxReadLen)
	}
	cmd := "readicp"
	if method == sino.MethodJTAG {
		cmd = "readjtag"
	}
	req := fmt.Sprintf("%s 0x%06X %d", cmd, address, n)
	if customBlock {
		req += " custom"
	}
	fields, err := c.call("%s", req)
	if err != nil {
		return nil, err
	}
	if len(fields) != 1 {
		return nil, fmt.Errorf("rpc: malformed read response")
	}
	data, err := hex.DecodeString(fields[0])
	if err != nil {
		return nil, fmt.Errorf("rpc: bad read payload: %w", err)
	}
	if len(data) != n {
		return nil, fmt.Errorf("rpc: short read: got %d of %d bytes", len(data), n)
	}
	return data, nil
}
