package local

import (
	"encoding/base64"
	"strings"
)

func base64Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// cappedBuffer accumulates writes up to a byte limit, silently discarding
// the remainder. This is the Go-side half of §4.C.2's 50 MiB stdout
// capture limit (the other half is the child process itself exiting once
// it has produced its structured record).
type cappedBuffer struct {
	limit int64
	buf   []byte
}

func newCappedBuffer(limit int64) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	remaining := c.limit - int64(len(c.buf))
	if remaining <= 0 {
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		c.buf = append(c.buf, p[:remaining]...)
		return len(p), nil
	}
	c.buf = append(c.buf, p...)
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	return string(c.buf)
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}
