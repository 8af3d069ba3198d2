// Package rtsp implements a minimal RTSP OPTIONS/DESCRIBE prober used to
// validate a source URI and sniff its media codecs before handing the URI
// to gocv's own RTSP/FFmpeg-backed decoder (see pkg/source). This is a
// trimmed descendant of a fuller RTSP client that also performed
// SETUP/PLAY and interleaved RTP reads; once frame decode moved to
// gocv.VideoCaptureFile that playback path had no remaining caller; the
// handshake plumbing (dial, OPTIONS, DESCRIBE, SDP parsing) survives here.
package rtsp

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// MediaTrack describes one media section found in the DESCRIBE SDP.
type MediaTrack struct {
	Type        string // "video" or "audio"
	PayloadType uint8
	Control     string
}

// Prober performs a lightweight RTSP handshake (OPTIONS + DESCRIBE) against
// a URI without ever issuing SETUP/PLAY, to fail fast on unreachable or
// unauthenticated sources and to report which codecs the source offers.
type Prober struct {
	logger *slog.Logger
}

// NewProber returns a Prober that logs through logger.
func NewProber(logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{logger: logger}
}

// Probe connects to rtspURL, performs OPTIONS then DESCRIBE, and returns
// the media tracks advertised in the SDP answer. It never sets up a
// session or streams packets.
func (p *Prober) Probe(ctx context.Context, rtspURL string) ([]MediaTrack, error) {
	u, err := url.Parse(rtspURL)
	if err != nil {
		return nil, fmt.Errorf("rtsp: parse URL: %w", err)
	}

	var username, password string
	if u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}

	port := u.Port()
	if port == "" {
		if u.Scheme == "rtsps" {
			port = "443"
		} else {
			port = "554"
		}
	}
	addr := net.JoinHostPort(u.Hostname(), port)

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	var conn net.Conn
	if u.Scheme == "rtsps" {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: u.Hostname()})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("rtsp: dial %s: %w", addr, err)
	}
	defer conn.Close()

	sess := &session{conn: conn, reader: bufio.NewReaderSize(conn, 65536), logger: p.logger}

	if err := sess.request("OPTIONS", rtspURL, nil); err != nil {
		return nil, fmt.Errorf("rtsp: OPTIONS: %w", err)
	}

	headers := map[string]string{"Accept": "application/sdp"}
	if username != "" {
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
	}
	resp, err := sess.do("DESCRIBE", rtspURL, headers)
	if err != nil {
		return nil, fmt.Errorf("rtsp: DESCRIBE: %w", err)
	}

	tracks := parseSDP(string(resp.Body))
	p.logger.Debug("rtsp probe complete", "url", rtspURL, "tracks", len(tracks))
	return tracks, nil
}

func parseSDP(sdp string) []MediaTrack {
	var tracks []MediaTrack
	var current *MediaTrack
	for _, line := range strings.Split(sdp, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "m="):
			parts := strings.Fields(line)
			if len(parts) < 4 {
				continue
			}
			var pt uint8
			if v, err := strconv.Atoi(parts[3]); err == nil {
				pt = uint8(v)
			}
			tracks = append(tracks, MediaTrack{Type: parts[0][2:], PayloadType: pt})
			current = &tracks[len(tracks)-1]
		case strings.HasPrefix(line, "a=control:") && current != nil:
			current.Control = strings.TrimPrefix(line, "a=control:")
		}
	}
	return tracks
}

// session is the bare request/response plumbing a Prober needs; no
// session id, no keepalive, no interleaved channel bookkeeping.
type session struct {
	conn   net.Conn
	reader *bufio.Reader
	logger *slog.Logger
	cseq   int
}

type response struct {
	StatusCode int
	Header     map[string]string
	Body       []byte
}

func (s *session) request(method, url string, headers map[string]string) error {
	_, err := s.do(method, url, headers)
	return err
}

func (s *session) do(method, url string, headers map[string]string) (*response, error) {
	s.cseq++
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s %s RTSP/1.0\r\n", method, url)
	fmt.Fprintf(&buf, "CSeq: %d\r\n", s.cseq)
	buf.WriteString("User-Agent: visionrelay/1.0\r\n")
	for k, v := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	buf.WriteString("\r\n")

	if err := s.conn.SetDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return nil, err
	}
	if _, err := s.conn.Write([]byte(buf.String())); err != nil {
		return nil, err
	}

	statusLine, err := s.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(strings.TrimSpace(statusLine), " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid status line: %q", statusLine)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid status code: %q", parts[1])
	}

	resp := &response{StatusCode: code, Header: make(map[string]string)}
	var contentLength int
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if idx := strings.IndexByte(line, ':'); idx > 0 {
			k, v := strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:])
			resp.Header[k] = v
			if k == "Content-Length" {
				contentLength, _ = strconv.Atoi(v)
			}
		}
	}
	if contentLength > 0 {
		body := make([]byte, contentLength)
		if _, err := io.ReadFull(s.reader, body); err != nil {
			return nil, err
		}
		resp.Body = body
	}
	if code != 200 {
		return nil, fmt.Errorf("rtsp: status %d", code)
	}
	return resp, nil
}
