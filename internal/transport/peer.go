package transport

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/mirror/internal/util"
)

// DefaultSTUNServers are used when no ICE servers are configured. No TURN:
// media only flows when a direct path exists.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config controls how the PeerConnection is built.
type Config struct {
	ICEServers []webrtc.ICEServer

	// HostOnly gathers host candidates only (no STUN), for same-network
	// use and tests.
	HostOnly bool
}

func (c Config) iceServers() []webrtc.ICEServer {
	if c.HostOnly {
		return nil
	}
	if len(c.ICEServers) > 0 {
		return c.ICEServers
	}
	return []webrtc.ICEServer{{URLs: DefaultSTUNServers}}
}

// newAPI builds a pion API with the default codecs and interceptors, whose
// logs go through the shared pterm logger.
func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{LoggerFactory: util.PionLoggerFactory{}}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

// newPeerConnection creates a PeerConnection configured with cfg's ICE servers.
func newPeerConnection(cfg Config) (*webrtc.PeerConnection, error) {
	api, err := newAPI()
	if err != nil {
		return nil, err
	}
	return api.NewPeerConnection(webrtc.Configuration{
		ICEServers: cfg.iceServers(),
	})
}
