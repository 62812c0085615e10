package stompspec

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// STOMP frame commands used by this client
const (
	CommandConnect     = "CONNECT"
	CommandConnected   = "CONNECTED"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandSend        = "SEND"
	CommandMessage     = "MESSAGE"
	CommandError       = "ERROR"
	CommandDisconnect  = "DISCONNECT"
)

// Well-known STOMP header names
const (
	HeaderAcceptVersion = "accept-version"
	HeaderHost          = "host"
	HeaderAuthorization = "Authorization"
	HeaderHeartBeat     = "heart-beat"
	HeaderDestination   = "destination"
	HeaderID            = "id"
	HeaderSubscription  = "subscription"
	HeaderContentType   = "content-type"
	HeaderContentLength = "content-length"
	HeaderMessage       = "message"
)

// Frame represents a single STOMP frame. One frame is carried per
// WebSocket message.
type Frame struct {
	// Command is the frame command (CONNECT, MESSAGE, ...)
	Command string

	// Headers holds the frame headers. Per STOMP semantics the first
	// occurrence of a repeated header wins, so a map is sufficient.
	Headers map[string]string

	// Body is the frame body (empty for most client frames)
	Body []byte
}

// NewFrame creates a frame with an initialized header map
func NewFrame(command string) *Frame {
	return &Frame{
		Command: command,
		Headers: make(map[string]string),
	}
}

// Header returns the value of a header, or "" if absent
func (f *Frame) Header(name string) string {
	return f.Headers[name]
}

// Marshal serializes the frame to its wire representation:
// command line, header lines, blank line, body, NUL terminator.
func (f *Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	escape := f.Command != CommandConnect && f.Command != CommandConnected
	for name, value := range f.Headers {
		if escape {
			name = escapeHeader(name)
			value = escapeHeader(value)
		}
		buf.WriteString(name)
		buf.WriteByte(':')
		buf.WriteString(value)
		buf.WriteByte('\n')
	}
	if len(f.Body) > 0 {
		if _, ok := f.Headers[HeaderContentLength]; !ok {
			buf.WriteString(HeaderContentLength)
			buf.WriteByte(':')
			buf.WriteString(strconv.Itoa(len(f.Body)))
			buf.WriteByte('\n')
		}
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// ParseFrame parses a single frame from its wire representation.
// A heartbeat (bare EOL) yields (nil, nil).
func ParseFrame(data []byte) (*Frame, error) {
	// Server heartbeats arrive as a lone EOL
	if len(bytes.TrimLeft(data, "\r\n")) == 0 {
		return nil, nil
	}

	// Trim the NUL terminator and anything after it
	if idx := bytes.IndexByte(data, 0); idx >= 0 {
		data = data[:idx]
	}

	headerEnd := bytes.Index(data, []byte("\n\n"))
	sepLen := 2
	if crlf := bytes.Index(data, []byte("\r\n\r\n")); crlf >= 0 && (headerEnd < 0 || crlf < headerEnd) {
		headerEnd = crlf
		sepLen = 4
	}
	if headerEnd < 0 {
		return nil, fmt.Errorf("malformed frame: missing header terminator")
	}

	head := data[:headerEnd]
	body := data[headerEnd+sepLen:]

	lines := strings.Split(string(head), "\n")
	command := strings.TrimRight(lines[0], "\r")
	if command == "" {
		return nil, fmt.Errorf("malformed frame: empty command")
	}

	frame := NewFrame(command)
	unescape := command != CommandConnect && command != CommandConnected
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, fmt.Errorf("malformed frame: header without separator: %q", line)
		}
		name := line[:idx]
		value := line[idx+1:]
		if unescape {
			var err error
			if name, err = unescapeHeader(name); err != nil {
				return nil, err
			}
			if value, err = unescapeHeader(value); err != nil {
				return nil, err
			}
		}
		// First occurrence wins
		if _, exists := frame.Headers[name]; !exists {
			frame.Headers[name] = value
		}
	}

	// content-length, when present, bounds the body exactly
	if cl := frame.Headers[HeaderContentLength]; cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 || n > len(body) {
			return nil, fmt.Errorf("malformed frame: bad content-length %q", cl)
		}
		body = body[:n]
	}
	if len(body) > 0 {
		frame.Body = append([]byte(nil), body...)
	}
	return frame, nil
}

// escapeHeader applies STOMP 1.2 header value escaping
func escapeHeader(s string) string {
	if !strings.ContainsAny(s, "\\\r\n:") {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		case ':':
			b.WriteString(`\c`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// unescapeHeader reverses STOMP 1.2 header value escaping
func unescapeHeader(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("malformed frame: dangling escape in %q", s)
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		default:
			return "", fmt.Errorf("malformed frame: unknown escape \\%c", s[i])
		}
	}
	return b.String(), nil
}
