package models

// TransportKind is the signaling transport used toward the provider
type TransportKind string

const (
	TransportUDP TransportKind = "udp"
	TransportTLS TransportKind = "tls"
	TransportWSS TransportKind = "wss"
)

// Feature flags advertised by a provider preset
type Feature string

const (
	FeatureCalls           Feature = "calls"
	FeatureSMS             Feature = "sms"
	FeaturePresence        Feature = "presence"
	FeatureConference      Feature = "conference"
	FeatureVideo           Feature = "video"
	FeatureConcurrentCalls Feature = "concurrent-calls"
)

// FeatureSet is the set of features a provider supports
type FeatureSet []Feature

func (fs FeatureSet) Has(f Feature) bool {
	for _, v := range fs {
		if v == f {
			return true
		}
	}
	return false
}

func (fs FeatureSet) Strings() []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = string(f)
	}
	return out
}

// ProviderProfile is the effective provider configuration after merging
// user overrides over the preset defaults. Immutable once resolved.
type ProviderProfile struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Server    string        `json:"server"`
	Port      int           `json:"port"`
	Transport TransportKind `json:"transport"`
	Features  FeatureSet    `json:"features"`
}

// ConnectConfig is the configuration surface of a connect request
type ConnectConfig struct {
	Provider    string `json:"provider"`
	Server      string `json:"server,omitempty"`
	Port        int    `json:"port,omitempty"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
	Transport   string `json:"transport,omitempty"`
}
