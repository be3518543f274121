package scanner

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// instreamChunk is the chunk size used for the clamd INSTREAM protocol.
const instreamChunk = 2048

// ClamAVEngine talks to a clamd daemon over TCP using the INSTREAM command,
// so the file never has to be visible on the daemon's filesystem.
type ClamAVEngine struct {
	addr    string
	timeout time.Duration
}

// NewClamAVEngine constructs an engine for the daemon at addr
// (host:port, conventionally port 3310).
func NewClamAVEngine(addr string, timeout time.Duration) *ClamAVEngine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ClamAVEngine{addr: addr, timeout: timeout}
}

// ScanBytes streams r to clamd and parses the verdict. Every failure mode
// (dial, write, malformed reply) folds into EngineUnavailable; only an
// explicit FOUND reply produces EngineInfected.
func (e *ClamAVEngine) ScanBytes(ctx context.Context, r io.Reader) EngineResult {
	deadline := time.Now().Add(e.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", e.addr)
	if err != nil {
		return unavailable(fmt.Sprintf("dial clamd: %v", err))
	}
	defer conn.Close()
	if err := conn.SetDeadline(deadline); err != nil {
		return unavailable(fmt.Sprintf("set deadline: %v", err))
	}

	if _, err := conn.Write([]byte("zINSTREAM\x00")); err != nil {
		return unavailable(fmt.Sprintf("write command: %v", err))
	}
	buf := make([]byte, instreamChunk)
	sizePrefix := make([]byte, 4)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			binary.BigEndian.PutUint32(sizePrefix, uint32(n))
			if _, err := conn.Write(sizePrefix); err != nil {
				return unavailable(fmt.Sprintf("write chunk size: %v", err))
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return unavailable(fmt.Sprintf("write chunk: %v", err))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return unavailable(fmt.Sprintf("read upload: %v", readErr))
		}
	}
	// Zero-length chunk terminates the stream.
	binary.BigEndian.PutUint32(sizePrefix, 0)
	if _, err := conn.Write(sizePrefix); err != nil {
		return unavailable(fmt.Sprintf("terminate stream: %v", err))
	}

	reply, err := io.ReadAll(io.LimitReader(conn, 1024))
	if err != nil {
		return unavailable(fmt.Sprintf("read reply: %v", err))
	}
	return parseClamReply(string(reply))
}

func parseClamReply(reply string) EngineResult {
	reply = strings.TrimRight(reply, "\x00\n ")
	switch {
	case strings.HasSuffix(reply, "OK"):
		return EngineResult{Status: EngineClean}
	case strings.Contains(reply, "FOUND"):
		// Reply shape: "stream: Eicar-Test-Signature FOUND".
		name := strings.TrimSuffix(reply, " FOUND")
		if idx := strings.Index(name, ":"); idx >= 0 {
			name = strings.TrimSpace(name[idx+1:])
		}
		return EngineResult{Status: EngineInfected, Details: name}
	default:
		return unavailable(fmt.Sprintf("unexpected clamd reply: %q", reply))
	}
}

func unavailable(details string) EngineResult {
	return EngineResult{Status: EngineUnavailable, Details: details}
}
