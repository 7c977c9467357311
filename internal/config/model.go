package config

import "github.com/pion/webrtc/v4"

type AppConfig struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Media    MediaConfig    `json:"media" yaml:"media"`
	Security SecurityConfig `json:"security" yaml:"security"`
}

type ServerConfig struct {
	Port int `json:"port" yaml:"port"`
	// PingInterval is the keepalive ping period in seconds for signaling
	// connections.
	PingInterval      int `json:"pingInterval" yaml:"pingInterval"`
	StatusLogInterval int `json:"statusLogInterval" yaml:"statusLogInterval"`
}

type MediaConfig struct {
	// AnnouncedIP is the address advertised in transport ICE candidates.
	AnnouncedIP string  `json:"announcedIp" yaml:"announcedIp"`
	PortMin     uint16  `json:"portMin" yaml:"portMin"`
	PortMax     uint16  `json:"portMax" yaml:"portMax"`
	Codecs      []Codec `json:"codecs" yaml:"codecs"`
}

type SecurityConfig struct {
	TLSCrtFile *string `json:"tlsCrtFile" yaml:"tlsCrtFile"`
	TLSKeyFile *string `json:"tlsKeyFile" yaml:"tlsKeyFile"`
}

type Codec struct {
	Params webrtc.RTPCodecParameters `json:"params" yaml:"params"`
	Type   webrtc.RTPCodecType       `json:"type" yaml:"type"`
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Port:              4443,
			PingInterval:      30,
			StatusLogInterval: 60,
		},
		Media: MediaConfig{
			AnnouncedIP: "",
			PortMin:     10000,
			PortMax:     20000,
			Codecs:      DefaultCodecs(),
		},
		Security: SecurityConfig{
			TLSCrtFile: nil,
			TLSKeyFile: nil,
		},
	}
}

func DefaultCodecs() []Codec {
	return []Codec{
		{
			Params: webrtc.RTPCodecParameters{
				RTPCodecCapability: webrtc.RTPCodecCapability{
					MimeType:  "video/VP8",
					ClockRate: 90000,
					Channels:  0,
					RTCPFeedback: []webrtc.RTCPFeedback{
						{Type: "nack"},
						{Type: "nack", Parameter: "pli"},
						{Type: "ccm", Parameter: "fir"},
						{Type: "goog-remb"},
					},
				},
				PayloadType: 96,
			},
			Type: webrtc.RTPCodecTypeVideo,
		},
		{
			Params: webrtc.RTPCodecParameters{
				RTPCodecCapability: webrtc.RTPCodecCapability{
					MimeType:  "audio/opus",
					ClockRate: 48000,
					Channels:  2,
				},
				PayloadType: 111,
			},
			Type: webrtc.RTPCodecTypeAudio,
		},
	}
}
