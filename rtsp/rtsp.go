// Package rtsp drives the RTSP handshake GameStream/Sunshine hosts expect
// before streaming: OPTIONS, ANNOUNCE (with the SDP offer), DESCRIBE,
// SETUP per stream, then PLAY. limelight/client.go connects and then runs
// ANNOUNCE, DESCRIBE, SETUP and PLAY in that order (it sends no OPTIONS
// request) and feeds DoSetup's negotiated ports into the
// audio/video/control transports.
package rtsp

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPort is the RTSP port GameStream/Sunshine hosts listen on.
	DefaultPort = 48010
	// requestTimeout bounds each individual RTSP round trip.
	requestTimeout = 10 * time.Second
)

// Client drives one RTSP handshake. The host closes the TCP connection
// after every response, so Client reconnects for each request rather than
// holding one socket open across the handshake.
type Client struct {
	conn      net.Conn
	reader    *bufio.Reader
	cseq      int
	sessionID string

	host string
	port int
}

// Response is a parsed RTSP status line, headers and body.
type Response struct {
	StatusCode int
	StatusText string
	Headers    map[string]string
	Body       string
}

// StreamPorts carries the server's negotiated per-stream UDP ports, plus
// Sunshine's ping payload (absent on stock GameStream hosts).
type StreamPorts struct {
	VideoPort   int
	AudioPort   int
	ControlPort int
	PingPayload string
}

// NewClient builds a Client targeting host:port. A zero port falls back to
// DefaultPort.
func NewClient(host string, port int) *Client {
	if port == 0 {
		port = DefaultPort
	}
	return &Client{host: host, port: port}
}

// Connect dials the RTSP host. Called internally before every request;
// exported so callers can fail fast before starting the handshake.
func (c *Client) Connect() error {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", c.host, c.port), requestTimeout)
	if err != nil {
		return fmt.Errorf("rtsp: connect: %w", err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// Close releases the current connection, if any.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// DoOptions sends OPTIONS, the handshake's opening capability probe.
func (c *Client) DoOptions() (*Response, error) {
	return c.do("OPTIONS", "", nil, "")
}

// DoAnnounce sends ANNOUNCE carrying the SDP offer built by BuildSDP.
func (c *Client) DoAnnounce(sdp string) (*Response, error) {
	return c.do("ANNOUNCE", "", map[string]string{
		// Sunshine's header matcher is case-sensitive on this one.
		"Content-type": "application/sdp",
	}, sdp)
}

// DoDescribe sends DESCRIBE, requesting the server's SDP answer.
func (c *Client) DoDescribe() (*Response, error) {
	return c.do("DESCRIBE", "", map[string]string{"Accept": "application/sdp"}, "")
}

// DoSetup runs SETUP for the audio, video and control streams in that
// order and returns the ports the server assigned each one.
func (c *Client) DoSetup() (*StreamPorts, error) {
	ports := &StreamPorts{}

	audio, err := c.setupStream("audio/0/0", "unicast;client_port=48000")
	if err != nil {
		return nil, fmt.Errorf("rtsp: setup audio: %w", err)
	}
	ports.AudioPort = parseTransportPort(audio.Headers["Transport"])
	if session := audio.Headers["Session"]; session != "" && c.sessionID == "" {
		c.sessionID = strings.TrimSpace(strings.SplitN(session, ";", 2)[0])
	}
	ports.PingPayload = audio.Headers["X-SS-Ping-Payload"]

	video, err := c.setupStream("video/0/0", "unicast;client_port=47998")
	if err != nil {
		return nil, fmt.Errorf("rtsp: setup video: %w", err)
	}
	ports.VideoPort = parseTransportPort(video.Headers["Transport"])
	if ports.PingPayload == "" {
		ports.PingPayload = video.Headers["X-SS-Ping-Payload"]
	}

	control, err := c.setupStream("control/13/0", "unicast;client_port=47999")
	if err != nil {
		return nil, fmt.Errorf("rtsp: setup control: %w", err)
	}
	ports.ControlPort = parseTransportPort(control.Headers["Transport"])

	log.Printf("rtsp: setup complete video=%d audio=%d control=%d ping=%q",
		ports.VideoPort, ports.AudioPort, ports.ControlPort, ports.PingPayload)
	return ports, nil
}

func (c *Client) setupStream(streamID, transport string) (*Response, error) {
	resp, err := c.do("SETUP", "streamid="+streamID, map[string]string{"Transport": transport}, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("%d %s", resp.StatusCode, resp.StatusText)
	}
	return resp, nil
}

// DoPlay sends PLAY, starting the media streams negotiated by DoSetup.
func (c *Client) DoPlay() (*Response, error) {
	return c.do("PLAY", "", nil, "")
}

// DoTeardown sends TEARDOWN to end the session cleanly.
func (c *Client) DoTeardown() (*Response, error) {
	return c.do("TEARDOWN", "", nil, "")
}

// do issues one RTSP request and returns its parsed response. uri carries
// a SETUP stream path (e.g. "streamid=video/0/0"); every other method
// targets the bare host.
func (c *Client) do(method, uri string, headers map[string]string, body string) (*Response, error) {
	c.Close()
	if err := c.Connect(); err != nil {
		return nil, err
	}
	c.cseq++

	target := fmt.Sprintf("rtsp://%s:%d", c.host, c.port)
	if uri != "" && method == "SETUP" {
		target += "/" + uri
	}

	var req strings.Builder
	fmt.Fprintf(&req, "%s %s RTSP/1.0\r\n", method, target)
	fmt.Fprintf(&req, "CSeq: %d\r\n", c.cseq)
	req.WriteString("X-GS-ClientVersion: 14\r\n")
	fmt.Fprintf(&req, "Host: %s\r\n", c.host)
	if c.sessionID != "" {
		fmt.Fprintf(&req, "Session: %s\r\n", c.sessionID)
	}
	for k, v := range headers {
		fmt.Fprintf(&req, "%s: %s\r\n", k, v)
	}
	if body != "" {
		// Sunshine expects this header lowercased, unlike RFC 2326.
		fmt.Fprintf(&req, "Content-length: %d\r\n", len(body))
	}
	req.WriteString("\r\n")
	req.WriteString(body)

	c.conn.SetDeadline(time.Now().Add(requestTimeout))
	if _, err := c.conn.Write([]byte(req.String())); err != nil {
		return nil, fmt.Errorf("rtsp: send %s: %w", method, err)
	}
	return c.readResponse()
}

func (c *Client) readResponse() (*Response, error) {
	resp := &Response{Headers: make(map[string]string)}

	statusLine, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("rtsp: read status line: %w", err)
	}
	parts := strings.SplitN(strings.TrimSpace(statusLine), " ", 3)
	if len(parts) < 3 || !strings.HasPrefix(parts[0], "RTSP/") {
		return nil, fmt.Errorf("rtsp: malformed status line %q", statusLine)
	}
	resp.StatusCode, _ = strconv.Atoi(parts[1])
	resp.StatusText = parts[2]

	var contentLength int
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("rtsp: read header: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		resp.Headers[key] = value
		if strings.EqualFold(key, "Content-Length") {
			contentLength, _ = strconv.Atoi(value)
		}
	}

	if contentLength > 0 {
		body := make([]byte, contentLength)
		if _, err := io.ReadFull(c.reader, body); err != nil {
			return nil, fmt.Errorf("rtsp: read body: %w", err)
		}
		resp.Body = string(body)
	}
	return resp, nil
}

// parseTransportPort pulls server_port out of a Transport header, e.g.
// "RTP/AVP/UDP;unicast;server_port=48000-48001" (a range is resolved to
// its first port).
func parseTransportPort(transport string) int {
	for _, part := range strings.Split(transport, ";") {
		part = strings.TrimSpace(part)
		portStr, ok := strings.CutPrefix(part, "server_port=")
		if !ok {
			continue
		}
		if idx := strings.Index(portStr, "-"); idx > 0 {
			portStr = portStr[:idx]
		}
		port, _ := strconv.Atoi(portStr)
		return port
	}
	return 0
}

// BuildSDP builds the SDP offer sent in DoAnnounce, describing the
// client's desired video geometry, bitrate, and FEC/session feature
// flags. clientVersion, videoFormats, audioConfig, gcmSupported, riKeyID
// and riKey are accepted for parity with the reference SDP builder's
// signature; GameStream/Sunshine negotiate GCM and the RI key over the
// control channel handshake rather than in the SDP body itself.
func BuildSDP(clientVersion, clientWidth, clientHeight, fps, packetSize int,
	videoFormats, audioConfig uint32, gcmSupported bool, riKeyID uint32, riKey []byte) string {

	var sdp strings.Builder

	sdp.WriteString("v=0\r\n")
	sdp.WriteString("o=- 0 0 IN IP4 0.0.0.0\r\n")
	sdp.WriteString("s=NVIDIA Streaming Client\r\n")

	fmt.Fprintf(&sdp, "a=x-nv-video[0].clientViewportWd:%d\r\n", clientWidth)
	fmt.Fprintf(&sdp, "a=x-nv-video[0].clientViewportHt:%d\r\n", clientHeight)
	fmt.Fprintf(&sdp, "a=x-nv-video[0].maxFPS:%d\r\n", fps)
	sdp.WriteString("a=x-nv-vqos[0].bw.maximumBitrateKbps:20000\r\n")
	fmt.Fprintf(&sdp, "a=x-nv-video[0].packetSize:%d\r\n", packetSize)
	sdp.WriteString("a=x-nv-video[0].rateControlMode:4\r\n")
	sdp.WriteString("a=x-nv-video[0].timeoutLengthMs:7000\r\n")
	sdp.WriteString("a=x-nv-video[0].framesWithInvalidRefThreshold:0\r\n")
	sdp.WriteString("a=x-nv-vqos[0].bitStreamFormat:0\r\n") // 0=H264, 1=HEVC
	sdp.WriteString("a=x-nv-video[0].encoderCscMode:0\r\n")
	sdp.WriteString("a=x-nv-video[0].maxNumReferenceFrames:1\r\n")
	sdp.WriteString("a=x-nv-video[0].videoEncoderSlicesPerFrame:1\r\n")

	sdp.WriteString("a=x-nv-audio.surround.numChannels:2\r\n")
	sdp.WriteString("a=x-nv-audio.surround.channelMask:3\r\n")
	sdp.WriteString("a=x-nv-audio.surround.enable:0\r\n")
	sdp.WriteString("a=x-nv-audio.surround.AudioQuality:0\r\n")
	sdp.WriteString("a=x-nv-aqos.packetDuration:5\r\n")

	sdp.WriteString("a=x-nv-general.useReliableUdp:1\r\n")
	sdp.WriteString("a=x-nv-vqos[0].fec.minRequiredFecPackets:0\r\n")
	sdp.WriteString("a=x-nv-general.featureFlags:135\r\n")
	sdp.WriteString("a=x-ml-general.featureFlags:3\r\n") // FEC_STATUS | SESSION_ID_V1
	sdp.WriteString("a=x-nv-vqos[0].qosTrafficType:5\r\n")
	sdp.WriteString("a=x-nv-aqos.qosTrafficType:4\r\n")
	sdp.WriteString("a=x-ml-video.configuredBitrateKbps:0\r\n")

	_, _, _ = videoFormats, audioConfig, gcmSupported
	_, _ = riKeyID, riKey

	return sdp.String()
}

// ParseSDP extracts the "a=key:value" attribute lines from an SDP body
// into a flat map; GameStream/Sunshine SDP answers don't nest attributes.
func ParseSDP(sdp string) map[string]string {
	result := make(map[string]string)
	for _, line := range strings.Split(sdp, "\n") {
		line = strings.TrimSpace(line)
		attr, ok := strings.CutPrefix(line, "a=")
		if !ok {
			continue
		}
		if idx := strings.Index(attr, ":"); idx > 0 {
			result[attr[:idx]] = attr[idx+1:]
		}
	}
	return result
}
