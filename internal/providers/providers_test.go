package providers

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"flexphone/internal/models"
)

func TestResolveMergesOverrides(t *testing.T) {
	tests := []struct {
		name string
		cfg  models.ConnectConfig
		want models.ProviderProfile
	}{
		{
			name: "preset defaults",
			cfg:  models.ConnectConfig{Provider: "flexpbx", Username: "alice", Password: "secret"},
			want: models.ProviderProfile{
				ID: "flexpbx", Name: "FlexPBX", Server: "sip.flexpbx.net", Port: 5060,
				Transport: models.TransportUDP,
				Features: models.FeatureSet{
					models.FeatureCalls, models.FeatureSMS, models.FeaturePresence,
					models.FeatureConference, models.FeatureConcurrentCalls,
				},
			},
		},
		{
			name: "user server and port win",
			cfg: models.ConnectConfig{
				Provider: "flexpbx", Username: "alice", Password: "secret",
				Server: "pbx.example.com", Port: 5080, Transport: "tls",
			},
			want: models.ProviderProfile{
				ID: "flexpbx", Name: "FlexPBX", Server: "pbx.example.com", Port: 5080,
				Transport: models.TransportTLS,
				Features: models.FeatureSet{
					models.FeatureCalls, models.FeatureSMS, models.FeaturePresence,
					models.FeatureConference, models.FeatureConcurrentCalls,
				},
			},
		},
		{
			name: "custom with server",
			cfg: models.ConnectConfig{
				Provider: "custom", Username: "bob", Password: "pw", Server: "10.0.0.1",
			},
			want: models.ProviderProfile{
				ID: "custom", Name: "Custom SIP Server", Server: "10.0.0.1", Port: 5060,
				Transport: models.TransportUDP,
				Features:  models.FeatureSet{models.FeatureCalls, models.FeatureConcurrentCalls},
			},
		},
		{
			name: "provider id is case insensitive",
			cfg:  models.ConnectConfig{Provider: "FLEXPBX", Username: "alice", Password: "secret"},
			want: models.ProviderProfile{
				ID: "flexpbx", Name: "FlexPBX", Server: "sip.flexpbx.net", Port: 5060,
				Transport: models.TransportUDP,
				Features: models.FeatureSet{
					models.FeatureCalls, models.FeatureSMS, models.FeaturePresence,
					models.FeatureConference, models.FeatureConcurrentCalls,
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.cfg)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveRejections(t *testing.T) {
	tests := []struct {
		name     string
		cfg      models.ConnectConfig
		wantCode models.ConfigErrorCode
	}{
		{
			name:     "unknown provider",
			cfg:      models.ConnectConfig{Provider: "nope", Username: "a", Password: "b"},
			wantCode: models.ConfigUnknownProvider,
		},
		{
			name:     "missing username",
			cfg:      models.ConnectConfig{Provider: "flexpbx", Password: "b"},
			wantCode: models.ConfigMissingCredentials,
		},
		{
			name:     "missing password",
			cfg:      models.ConnectConfig{Provider: "flexpbx", Username: "a"},
			wantCode: models.ConfigMissingCredentials,
		},
		{
			name:     "custom without server",
			cfg:      models.ConnectConfig{Provider: "custom", Username: "a", Password: "b"},
			wantCode: models.ConfigMissingServer,
		},
		{
			name: "bad transport",
			cfg: models.ConnectConfig{
				Provider: "flexpbx", Username: "a", Password: "b", Transport: "tcp6",
			},
			wantCode: models.ConfigInvalidTransport,
		},
		{
			name: "bad port",
			cfg: models.ConnectConfig{
				Provider: "flexpbx", Username: "a", Password: "b", Port: 70000,
			},
			wantCode: models.ConfigInvalidPort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.cfg)
			var cfgErr *models.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Resolve() error = %v, want ConfigError", err)
			}
			if cfgErr.Code != tt.wantCode {
				t.Errorf("Resolve() code = %s, want %s", cfgErr.Code, tt.wantCode)
			}
		})
	}
}

func TestListIsSorted(t *testing.T) {
	list := List()
	if len(list) < 3 {
		t.Fatalf("List() returned %d presets", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].ID >= list[i].ID {
			t.Errorf("List() not sorted at %d: %s >= %s", i, list[i-1].ID, list[i].ID)
		}
	}
}
