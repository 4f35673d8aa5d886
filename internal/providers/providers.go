package providers

import (
	"fmt"
	"sort"
	"strings"

	"flexphone/internal/models"
)

// Registry of known SIP provider presets. Resolution is a pure merge of
// user overrides over a preset; no state is kept anywhere.

const CustomProviderID = "custom"

var presets = map[string]models.ProviderProfile{
	"flexpbx": {
		ID:        "flexpbx",
		Name:      "FlexPBX",
		Server:    "sip.flexpbx.net",
		Port:      5060,
		Transport: models.TransportUDP,
		Features: models.FeatureSet{
			models.FeatureCalls, models.FeatureSMS, models.FeaturePresence,
			models.FeatureConference, models.FeatureConcurrentCalls,
		},
	},
	"telnyx": {
		ID:        "telnyx",
		Name:      "Telnyx",
		Server:    "sip.telnyx.com",
		Port:      5061,
		Transport: models.TransportTLS,
		Features: models.FeatureSet{
			models.FeatureCalls, models.FeatureSMS, models.FeatureVideo,
			models.FeatureConcurrentCalls,
		},
	},
	"callcentric": {
		ID:        "callcentric",
		Name:      "Callcentric",
		Server:    "callcentric.com",
		Port:      5060,
		Transport: models.TransportUDP,
		Features:  models.FeatureSet{models.FeatureCalls, models.FeatureSMS},
	},
	"sipgate": {
		ID:        "sipgate",
		Name:      "Sipgate",
		Server:    "sipgate.de",
		Port:      5060,
		Transport: models.TransportUDP,
		Features:  models.FeatureSet{models.FeatureCalls, models.FeatureSMS},
	},
	CustomProviderID: {
		ID:        CustomProviderID,
		Name:      "Custom SIP Server",
		Transport: models.TransportUDP,
		Port:      5060,
		Features: models.FeatureSet{
			models.FeatureCalls, models.FeatureConcurrentCalls,
		},
	},
}

// List returns all known presets sorted by id, for UI pickers.
func List() []models.ProviderProfile {
	out := make([]models.ProviderProfile, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve validates cfg against the chosen preset and merges user
// overrides (server, port, transport) over the preset defaults. A user
// value wins when present and non-empty.
func Resolve(cfg models.ConnectConfig) (models.ProviderProfile, error) {
	id := strings.ToLower(strings.TrimSpace(cfg.Provider))
	preset, ok := presets[id]
	if !ok {
		return models.ProviderProfile{}, &models.ConfigError{
			Code:   models.ConfigUnknownProvider,
			Reason: fmt.Sprintf("unknown provider %q", cfg.Provider),
		}
	}

	if strings.TrimSpace(cfg.Username) == "" || cfg.Password == "" {
		return models.ProviderProfile{}, &models.ConfigError{
			Code:   models.ConfigMissingCredentials,
			Reason: "username and password are required",
		}
	}

	profile := preset
	profile.Features = append(models.FeatureSet(nil), preset.Features...)

	if s := strings.TrimSpace(cfg.Server); s != "" {
		profile.Server = s
	}
	if profile.Server == "" {
		return models.ProviderProfile{}, &models.ConfigError{
			Code:   models.ConfigMissingServer,
			Reason: fmt.Sprintf("provider %q requires an explicit server", id),
		}
	}

	if cfg.Port != 0 {
		if cfg.Port < 1 || cfg.Port > 65535 {
			return models.ProviderProfile{}, &models.ConfigError{
				Code:   models.ConfigInvalidPort,
				Reason: fmt.Sprintf("invalid port %d", cfg.Port),
			}
		}
		profile.Port = cfg.Port
	}

	if t := strings.ToLower(strings.TrimSpace(cfg.Transport)); t != "" {
		switch models.TransportKind(t) {
		case models.TransportUDP, models.TransportTLS, models.TransportWSS:
			profile.Transport = models.TransportKind(t)
		default:
			return models.ProviderProfile{}, &models.ConfigError{
				Code:   models.ConfigInvalidTransport,
				Reason: fmt.Sprintf("unsupported transport %q", cfg.Transport),
			}
		}
	}

	return profile, nil
}
