// Package limelight provides the main client for the Moonlight streaming protocol.
package limelight

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/moonlight-stream/moonlight-common-go/audio"
	"github.com/moonlight-stream/moonlight-common-go/codec"
	"github.com/moonlight-stream/moonlight-common-go/control"
	"github.com/moonlight-stream/moonlight-common-go/fec"
	"github.com/moonlight-stream/moonlight-common-go/input"
	"github.com/moonlight-stream/moonlight-common-go/protocol"
	"github.com/moonlight-stream/moonlight-common-go/quality"
	"github.com/moonlight-stream/moonlight-common-go/rtsp"
	"github.com/moonlight-stream/moonlight-common-go/transport"
	"github.com/moonlight-stream/moonlight-common-go/types"
	"github.com/moonlight-stream/moonlight-common-go/video"
)

// Client represents a Moonlight streaming client
type Client struct {
	mu sync.Mutex

	// Configuration
	Config     StreamConfiguration
	ServerInfo ServerInformation

	// Callbacks
	Decoder   DecoderCallbacks
	Audio     AudioCallbacks
	Listener  ConnectionCallbacks

	// MetricsRegisterer, if non-nil, exposes the control session's
	// connection-quality counters as Prometheus metrics. Left nil, the
	// session runs with metrics fully disabled at zero cost.
	MetricsRegisterer prometheus.Registerer

	// Connection state
	ctx       context.Context
	cancel    context.CancelFunc
	stage     Stage
	connected bool

	// Server information
	appVersion protocol.VersionQuad
	remoteAddr *net.UDPAddr
	localAddr  *net.UDPAddr

	// Stream components
	rtspClient     *rtsp.Client
	controlSession *control.Session
	qualityMonitor *quality.Monitor
	videoStream    *video.Stream
	audioStream    *audio.Stream
	inputPipeline  *input.Pipeline

	// Negotiated settings
	videoFormat     VideoFormat
	opusConfig      *OpusConfig
	audioPacketDuration int

	// Ports
	videoPort   int
	audioPort   int
	controlPort int
}

// NewClient creates a new Moonlight client
func NewClient(config StreamConfiguration, serverInfo ServerInformation,
	decoder DecoderCallbacks, audioCallbacks AudioCallbacks, listener ConnectionCallbacks) *Client {

	// Initialize FEC
	fec.Init()

	return &Client{
		Config:     config,
		ServerInfo: serverInfo,
		Decoder:    decoder,
		Audio:      audioCallbacks,
		Listener:   listener,
	}
}

// Start initiates the streaming connection
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return fmt.Errorf("already connected")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	// Parse server address
	host, port, err := net.SplitHostPort(c.ServerInfo.Address)
	if err != nil {
		// Try as host only
		host = c.ServerInfo.Address
		port = "47989" // Default HTTPS port
	}

	portNum, _ := strconv.Atoi(port)
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return fmt.Errorf("failed to resolve host: %s", host)
	}

	c.remoteAddr = &net.UDPAddr{IP: ips[0], Port: portNum}

	// Parse app version
	c.parseAppVersion()

	// Stage: Platform Init
	c.notifyStageStarting(StagePlatformInit)
	// Platform init would go here (usually no-op in Go)
	c.notifyStageComplete(StagePlatformInit)

	// Stage: RTSP Handshake
	c.notifyStageStarting(StageRTSPHandshake)
	if err := c.doRTSPHandshake(); err != nil {
		c.notifyStageFailed(StageRTSPHandshake, err)
		return err
	}
	c.notifyStageComplete(StageRTSPHandshake)

	// Stage: Control Stream Init
	c.notifyStageStarting(StageControlStreamInit)
	if err := c.initControlStream(); err != nil {
		c.notifyStageFailed(StageControlStreamInit, err)
		c.cleanup()
		return err
	}
	c.notifyStageComplete(StageControlStreamInit)

	// Stage: Video Stream Init
	c.notifyStageStarting(StageVideoStreamInit)
	if err := c.initVideoStream(); err != nil {
		c.notifyStageFailed(StageVideoStreamInit, err)
		c.cleanup()
		return err
	}
	c.notifyStageComplete(StageVideoStreamInit)

	// Stage: Audio Stream Init
	c.notifyStageStarting(StageAudioStreamInit)
	if err := c.initAudioStream(); err != nil {
		c.notifyStageFailed(StageAudioStreamInit, err)
		c.cleanup()
		return err
	}
	c.notifyStageComplete(StageAudioStreamInit)

	// Stage: Input Stream Init
	c.notifyStageStarting(StageInputStreamInit)
	if err := c.initInputStream(); err != nil {
		c.notifyStageFailed(StageInputStreamInit, err)
		c.cleanup()
		return err
	}
	c.notifyStageComplete(StageInputStreamInit)

	// Start all streams
	c.notifyStageStarting(StageControlStreamStart)
	// Control stream already started during init
	c.notifyStageComplete(StageControlStreamStart)

	c.notifyStageStarting(StageVideoStreamStart)
	// Video stream already started during init
	c.notifyStageComplete(StageVideoStreamStart)

	c.notifyStageStarting(StageAudioStreamStart)
	// Audio stream already started during init
	c.notifyStageComplete(StageAudioStreamStart)

	c.notifyStageStarting(StageInputStreamStart)
	// Input stream already started during init
	c.notifyStageComplete(StageInputStreamStart)

	// Complete
	c.stage = StageComplete
	c.connected = true
	c.Listener.ConnectionStarted()

	return nil
}

// Stop terminates the streaming connection
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return
	}

	c.cleanup()
	c.connected = false
}

// cleanup shuts down all stream components
func (c *Client) cleanup() {
	if c.cancel != nil {
		c.cancel()
	}

	if c.inputPipeline != nil {
		c.inputPipeline.Close()
		c.inputPipeline = nil
	}

	if c.audioStream != nil {
		c.audioStream.Stop()
		c.audioStream = nil
	}

	if c.videoStream != nil {
		c.videoStream.Stop()
		c.videoStream = nil
	}

	if c.controlSession != nil {
		c.controlSession.Stop()
		c.controlSession = nil
	}

	if c.rtspClient != nil {
		c.rtspClient.DoTeardown()
		c.rtspClient.Close()
		c.rtspClient = nil
	}
}

// doRTSPHandshake performs the RTSP session setup
func (c *Client) doRTSPHandshake() error {
	c.rtspClient = rtsp.NewClient(c.remoteAddr.IP.String(), 48010)

	if err := c.rtspClient.Connect(); err != nil {
		return err
	}

	// Build and send SDP
	sdp := rtsp.BuildSDP(
		c.appVersion[0]*1000000+c.appVersion[1]*10000+c.appVersion[2]*100+c.appVersion[3],
		c.Config.Width,
		c.Config.Height,
		c.Config.FPS,
		c.Config.PacketSize,
		uint32(c.Config.SupportedVideoFormats),
		uint32(c.Config.AudioConfiguration),
		true, // GCM supported
		0,    // RI key ID
		c.Config.RemoteInputAesKey,
	)

	resp, err := c.rtspClient.DoAnnounce(sdp)
	if err != nil {
		return fmt.Errorf("ANNOUNCE failed: %w", err)
	}
	if resp.StatusCode != 200 {
		return fmt.Errorf("ANNOUNCE failed: %d %s", resp.StatusCode, resp.StatusText)
	}

	// DESCRIBE to get server capabilities
	resp, err = c.rtspClient.DoDescribe()
	if err != nil {
		return fmt.Errorf("DESCRIBE failed: %w", err)
	}
	if resp.StatusCode != 200 {
		return fmt.Errorf("DESCRIBE failed: %d %s", resp.StatusCode, resp.StatusText)
	}

	// Parse server SDP
	serverSDP := rtsp.ParseSDP(resp.Body)
	c.parseServerSDP(serverSDP)

	// SETUP streams
	ports, err := c.rtspClient.DoSetup()
	if err != nil {
		return err
	}

	c.videoPort = ports.VideoPort
	c.audioPort = ports.AudioPort
	c.controlPort = ports.ControlPort

	// Fallback ports
	if c.videoPort == 0 {
		c.videoPort = 47998
	}
	if c.audioPort == 0 {
		c.audioPort = 48000
	}
	if c.controlPort == 0 {
		c.controlPort = 47999
	}

	// PLAY
	resp, err = c.rtspClient.DoPlay()
	if err != nil {
		return fmt.Errorf("PLAY failed: %w", err)
	}
	if resp.StatusCode != 200 {
		return fmt.Errorf("PLAY failed: %d %s", resp.StatusCode, resp.StatusText)
	}

	return nil
}

// parseServerSDP extracts settings from the server's SDP response
func (c *Client) parseServerSDP(sdp map[string]string) {
	// Default video format
	c.videoFormat = VideoFormatH264

	// Check for HEVC support
	if val, ok := sdp["x-nv-video[0].hevcSupport"]; ok && val == "1" {
		if c.Config.SupportedVideoFormats&VideoFormatH265 != 0 {
			c.videoFormat = VideoFormatH265
		}
	}

	// Check for AV1 support
	if val, ok := sdp["x-nv-video[0].av1Support"]; ok && val == "1" {
		if c.Config.SupportedVideoFormats&VideoFormatAV1 != 0 {
			c.videoFormat = VideoFormatAV1
		}
	}

	// Default Opus config
	c.opusConfig = &OpusConfig{
		SampleRate:      48000,
		ChannelCount:    2,
		Streams:         1,
		CoupledStreams:  1,
		ChannelMapping:  []uint8{0, 1},
	}

	// Audio packet duration (default 5ms)
	c.audioPacketDuration = 5
	if val, ok := sdp["x-nv-audio.packetDuration"]; ok {
		if dur, err := strconv.Atoi(val); err == nil {
			c.audioPacketDuration = dur
		}
	}

	c.opusConfig.SamplesPerFrame = 48 * c.audioPacketDuration
}

// initControlStream dials the control channel (ENet for Gen5+, plain TCP
// for older servers) and starts the Session's handshake and workers.
func (c *Client) initControlStream() error {
	var adapter transport.Adapter
	var err error
	if protocol.UsesENet(c.appVersion) {
		adapter, err = transport.DialPeer(c.remoteAddr.IP, c.controlPort, protocol.ControlChannelCount)
	} else {
		adapter, err = transport.DialTCP(c.remoteAddr.IP, c.controlPort)
	}
	if err != nil {
		return fmt.Errorf("control channel dial failed: %w", err)
	}

	var ctrlCodec *codec.ControlCodec
	if protocol.EncryptedControlStream(c.appVersion) {
		ctrlCodec, err = codec.NewControlCodec(c.Config.RemoteInputAesKey)
		if err != nil {
			return fmt.Errorf("control codec init failed: %w", err)
		}
	}

	metrics := quality.NewMetrics(c.MetricsRegisterer, c.remoteAddr.String())

	c.qualityMonitor = quality.NewMonitor(func(status types.ConnectionStatus) {
		metrics.SetPoor(status == types.ConnStatusPoor)
		if c.Listener != nil {
			c.Listener.ConnectionStatusUpdate(status)
		}
	})
	c.controlSession = control.NewSession(c.appVersion, adapter, ctrlCodec, c.qualityMonitor, metrics, c.Listener)
	return c.controlSession.Start(c.ctx)
}

// initVideoStream initializes the video stream
func (c *Client) initVideoStream() error {
	c.videoStream = video.NewStream(c.Config, c.Decoder)
	return c.videoStream.Start(c.ctx, c.remoteAddr, c.localAddr, c.videoPort)
}

// initAudioStream initializes the audio stream
func (c *Client) initAudioStream() error {
	c.audioStream = audio.NewStream(c.Config, c.Audio)
	return c.audioStream.Start(c.ctx, c.remoteAddr, c.localAddr, c.audioPort, c.opusConfig, c.audioPacketDuration)
}

// initInputStream builds the input pipeline. Servers negotiating the
// unified encrypted control stream need no separate input encryption
// (the Control Session handles it); everyone else gets a legacy input
// codec, plus a dedicated TCP input socket for pre-Gen5 servers.
func (c *Client) initInputStream() error {
	var legacyCodec *codec.LegacyInputCodec
	var legacyConn net.Conn

	if !protocol.EncryptedControlStream(c.appVersion) {
		gcmMode := c.appVersion.AtLeast(7, 0, 0)
		legacyCodec = codec.NewLegacyInputCodec(c.Config.RemoteInputAesKey, c.Config.RemoteInputAesIV, gcmMode)

		if !protocol.UsesENet(c.appVersion) {
			conn, err := net.DialTimeout("tcp", net.JoinHostPort(c.remoteAddr.IP.String(), "35043"), 10*time.Second)
			if err != nil {
				return fmt.Errorf("legacy input socket dial failed: %w", err)
			}
			legacyConn = conn
		}
	}

	c.inputPipeline = input.NewPipeline(c.appVersion, c.controlSession, legacyCodec, legacyConn)
	return c.inputPipeline.Start(c.ctx)
}

// parseAppVersion parses the server version string
func (c *Client) parseAppVersion() {
	parts := strings.Split(c.ServerInfo.ServerInfoAppVersion, ".")
	for i := 0; i < 4 && i < len(parts); i++ {
		// Strip non-numeric suffixes
		numStr := parts[i]
		for j, ch := range numStr {
			if ch < '0' || ch > '9' {
				numStr = numStr[:j]
				break
			}
		}
		c.appVersion[i], _ = strconv.Atoi(numStr)
	}
}

// Stage notification helpers

func (c *Client) notifyStageStarting(stage Stage) {
	c.stage = stage
	c.Listener.StageStarting(stage)
}

func (c *Client) notifyStageComplete(stage Stage) {
	c.Listener.StageComplete(stage)
}

func (c *Client) notifyStageFailed(stage Stage, err error) {
	c.Listener.StageFailed(stage, err)
}

// Input API

// SendMouseMove sends a relative mouse movement event
func (c *Client) SendMouseMove(deltaX, deltaY int16) error {
	if c.inputPipeline == nil {
		return fmt.Errorf("not connected")
	}
	return c.inputPipeline.SendMouseMove(deltaX, deltaY)
}

// SendMousePosition sends an absolute mouse position event
func (c *Client) SendMousePosition(x, y, refWidth, refHeight int16) error {
	if c.inputPipeline == nil {
		return fmt.Errorf("not connected")
	}
	return c.inputPipeline.SendMousePosition(x, y, refWidth, refHeight)
}

// SendMouseButton sends a mouse button press (down=true) or release event
func (c *Client) SendMouseButton(down bool, button uint8) error {
	if c.inputPipeline == nil {
		return fmt.Errorf("not connected")
	}
	return c.inputPipeline.SendMouseButton(down, button)
}

// SendKeyboard sends a keyboard event
func (c *Client) SendKeyboard(keyCode int16, down bool, modifiers uint8) error {
	if c.inputPipeline == nil {
		return fmt.Errorf("not connected")
	}
	return c.inputPipeline.SendKeyboard(keyCode, down, modifiers)
}

// SendScroll sends a scroll wheel event
func (c *Client) SendScroll(amount int16) error {
	if c.inputPipeline == nil {
		return fmt.Errorf("not connected")
	}
	return c.inputPipeline.SendScroll(amount)
}

// SendController sends a single-gamepad state event, for servers that
// predate multi-controller support
func (c *Client) SendController(buttonFlags uint32, leftTrigger, rightTrigger uint8,
	leftStickX, leftStickY, rightStickX, rightStickY int16) error {
	if c.inputPipeline == nil {
		return fmt.Errorf("not connected")
	}
	return c.inputPipeline.SendController(buttonFlags, leftTrigger, rightTrigger,
		leftStickX, leftStickY, rightStickX, rightStickY)
}

// SendMultiController sends a multi-controller state event
func (c *Client) SendMultiController(controllerNumber, activeGamepadMask uint16, buttonFlags uint32,
	leftTrigger, rightTrigger uint8, leftStickX, leftStickY, rightStickX, rightStickY int16) error {
	if c.inputPipeline == nil {
		return fmt.Errorf("not connected")
	}
	return c.inputPipeline.SendMultiController(controllerNumber, activeGamepadMask, buttonFlags,
		leftTrigger, rightTrigger, leftStickX, leftStickY, rightStickX, rightStickY)
}

// SendUTF8Text sends UTF-8 text input
func (c *Client) SendUTF8Text(text string) error {
	if c.inputPipeline == nil {
		return fmt.Errorf("not connected")
	}
	return c.inputPipeline.SendUTF8Text(text)
}

// Video API

// RequestIDRFrame requests a keyframe from the server
func (c *Client) RequestIDRFrame() {
	if c.videoStream != nil {
		c.videoStream.RequestIDRFrame()
	}
	if c.controlSession != nil {
		c.controlSession.RequestIDRFrame()
	}
}

// WaitForNextVideoFrame waits for and returns the next video frame
func (c *Client) WaitForNextVideoFrame() (*DecodeUnit, bool) {
	if c.videoStream == nil {
		return nil, false
	}
	return c.videoStream.WaitForNextFrame()
}

// GetVideoStats returns current video statistics
func (c *Client) GetVideoStats() RTPVideoStats {
	if c.videoStream == nil {
		return RTPVideoStats{}
	}
	return c.videoStream.GetStats()
}

// Audio API

// GetPendingAudioFrames returns the number of pending audio frames
func (c *Client) GetPendingAudioFrames() int {
	if c.audioStream == nil {
		return 0
	}
	return c.audioStream.GetPendingFrames()
}

// GetPendingAudioDuration returns the pending audio duration in milliseconds
func (c *Client) GetPendingAudioDuration() int {
	if c.audioStream == nil {
		return 0
	}
	return c.audioStream.GetPendingDuration()
}

// GetAudioStats returns current audio statistics
func (c *Client) GetAudioStats() RTPAudioStats {
	if c.audioStream == nil {
		return RTPAudioStats{}
	}
	return c.audioStream.GetStats()
}

// Control API

// GetRTTInfo returns estimated round-trip time information
func (c *Client) GetRTTInfo() (RTTInfo, bool) {
	if c.controlSession == nil {
		return RTTInfo{}, false
	}
	return c.controlSession.GetRTTInfo()
}

// IsHDREnabled returns whether HDR is currently enabled
func (c *Client) IsHDREnabled() bool {
	if c.controlSession == nil {
		return false
	}
	return c.controlSession.IsHDREnabled()
}

// GetHDRMetadata returns the current HDR metadata
func (c *Client) GetHDRMetadata() (HDRMetadata, bool) {
	if c.controlSession == nil {
		return HDRMetadata{}, false
	}
	return c.controlSession.GetHDRMetadata()
}

// GetNegotiatedVideoFormat returns the negotiated video format
func (c *Client) GetNegotiatedVideoFormat() VideoFormat {
	return c.videoFormat
}

// IsConnected returns whether the client is currently connected
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// GetCurrentStage returns the current connection stage
func (c *Client) GetCurrentStage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}
