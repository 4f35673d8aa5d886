package registrar

import (
	"context"
	"sync"
	"time"

	"github.com/qmuntal/stateless"
	"github.com/rs/zerolog"

	"flexphone/internal/engine"
	"flexphone/internal/models"
	"flexphone/internal/providers"
	"flexphone/internal/transport"
	"flexphone/pkg/utils"
)

// CallTerminator is what the registrar needs from call control when
// tearing a session down.
type CallTerminator interface {
	ActiveCount() int
	TerminateAll(ctx context.Context)
}

// HistoryCounter feeds the total-call figure in status snapshots.
type HistoryCounter interface {
	Count() int
}

const (
	trigConnect    = "connect"
	trigRegistered = "registered"
	trigFail       = "fail"
	trigUnregister = "unregister"
	trigDone       = "done"
	trigReset      = "reset"
)

const registerTimeout = 30 * time.Second

// Registrar owns the single registration session. At most one exists at
// a time; a new Connect supersedes or tears down whatever came before.
type Registrar struct {
	mu  sync.Mutex
	fsm *stateless.StateMachine
	// gen guards in-flight registrations: a completion whose generation
	// is stale has been superseded and its result is discarded.
	gen uint64

	tp      transport.SipTransport
	bridge  *engine.Bridge
	calls   CallTerminator
	history HistoryCounter
	log     zerolog.Logger

	profile      models.ProviderProfile
	creds        transport.Credentials
	registeredAt time.Time
}

func New(tp transport.SipTransport, bridge *engine.Bridge, calls CallTerminator, history HistoryCounter, log zerolog.Logger) *Registrar {
	r := &Registrar{
		tp:      tp,
		bridge:  bridge,
		calls:   calls,
		history: history,
		log:     log.With().Str("component", "registrar").Logger(),
	}
	r.fsm = newSessionFSM()
	return r
}

func newSessionFSM() *stateless.StateMachine {
	sm := stateless.NewStateMachine(models.RegStateUnregistered)
	sm.Configure(models.RegStateUnregistered).
		Permit(trigConnect, models.RegStateConnecting)
	sm.Configure(models.RegStateConnecting).
		PermitReentry(trigConnect). // a second connect supersedes the first
		Permit(trigRegistered, models.RegStateRegistered).
		Permit(trigFail, models.RegStateError).
		Permit(trigUnregister, models.RegStateUnregistering)
	sm.Configure(models.RegStateRegistered).
		Permit(trigFail, models.RegStateError).
		Permit(trigUnregister, models.RegStateUnregistering)
	sm.Configure(models.RegStateUnregistering).
		Permit(trigDone, models.RegStateUnregistered)
	sm.Configure(models.RegStateError).
		Permit(trigReset, models.RegStateUnregistered)
	return sm
}

func (r *Registrar) stateLocked() models.RegistrationState {
	return r.fsm.MustState().(models.RegistrationState)
}

// State returns the current registration state.
func (r *Registrar) State() models.RegistrationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

// Connect resolves the provider profile and starts registration.
// Validation failures are returned immediately without any state
// change. The registration itself is asynchronous; the outcome arrives
// as a "registered" or "registration-failed" event.
func (r *Registrar) Connect(ctx context.Context, cfg models.ConnectConfig) error {
	profile, err := providers.Resolve(cfg)
	if err != nil {
		return err
	}

	// a prior established session is torn down first
	if r.State() == models.RegStateRegistered {
		if err := r.Disconnect(ctx); err != nil {
			r.log.Warn().Err(err).Msg("implicit disconnect failed")
		}
	}

	r.mu.Lock()
	if err := r.fsm.Fire(trigConnect); err != nil {
		state := r.stateLocked()
		r.mu.Unlock()
		return &models.TransportError{
			Op:     "connect",
			Reason: "connect not possible in state " + string(state),
		}
	}
	r.gen++
	gen := r.gen
	r.profile = profile
	r.creds = transport.Credentials{
		Username:    cfg.Username,
		Password:    cfg.Password,
		DisplayName: cfg.DisplayName,
	}
	creds := r.creds
	r.mu.Unlock()

	r.log.Info().Str("provider", profile.ID).Str("server", profile.Server).Msg("connecting")
	go r.register(gen, profile, creds)
	return nil
}

func (r *Registrar) register(gen uint64, profile models.ProviderProfile, creds transport.Credentials) {
	ctx, cancel := context.WithTimeout(context.Background(), registerTimeout)
	defer cancel()

	err := r.tp.Connect(ctx, profile)
	if err == nil {
		err = r.tp.Register(ctx, creds)
	}

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		r.log.Debug().Uint64("gen", gen).Msg("registration superseded, discarding result")
		return
	}

	if err != nil {
		// Error is absorbing only on paper: cleanup runs and the
		// session returns to Unregistered right away.
		r.fsm.Fire(trigFail)
		r.fsm.Fire(trigReset)
		r.mu.Unlock()

		if closeErr := r.tp.Close(); closeErr != nil {
			r.log.Warn().Err(closeErr).Msg("transport close failed")
		}
		utils.RegistrationFailures.Inc()
		r.log.Error().Err(err).Str("provider", profile.ID).Msg("registration failed")
		r.bridge.Publish(models.Event{
			Type:   models.EventRegistrationFailed,
			Reason: err.Error(),
		})
		return
	}

	r.fsm.Fire(trigRegistered)
	r.registeredAt = time.Now()
	profileCopy := profile
	r.mu.Unlock()

	utils.RegistrationState.Set(1)
	r.log.Info().Str("provider", profile.ID).Str("username", creds.Username).Msg("registered")
	r.bridge.Publish(models.Event{
		Type:    models.EventRegistered,
		Profile: &profileCopy,
	})
}

// Disconnect tears the session down: active calls are hung up first,
// each best-effort, then the registration is withdrawn and the
// transport closed. A no-op when already unregistered.
func (r *Registrar) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	state := r.stateLocked()
	if state == models.RegStateUnregistered {
		r.mu.Unlock()
		return nil
	}
	r.gen++ // discard any in-flight registration
	wasRegistered := state == models.RegStateRegistered
	if err := r.fsm.Fire(trigUnregister); err != nil {
		// Unregistering or Error mid-cleanup; let that run to its end
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	r.calls.TerminateAll(ctx)

	if wasRegistered {
		if err := r.tp.Unregister(ctx); err != nil {
			r.log.Warn().Err(err).Msg("unregister failed")
		}
	}
	if err := r.tp.Close(); err != nil {
		r.log.Warn().Err(err).Msg("transport close failed")
	}

	r.mu.Lock()
	r.fsm.Fire(trigDone)
	r.registeredAt = time.Time{}
	r.mu.Unlock()

	utils.RegistrationState.Set(0)
	r.log.Info().Msg("disconnected")
	r.bridge.Publish(models.Event{Type: models.EventDisconnected})
	return nil
}

// OnTransportDown is invoked by the bridge when the signaling transport
// fails underneath an active session.
func (r *Registrar) OnTransportDown(reason string) {
	r.mu.Lock()
	state := r.stateLocked()
	if state == models.RegStateUnregistered {
		r.mu.Unlock()
		return
	}
	r.gen++
	r.fsm.Fire(trigFail)
	r.fsm.Fire(trigReset)
	r.registeredAt = time.Time{}
	r.mu.Unlock()

	r.calls.TerminateAll(context.Background())
	if err := r.tp.Close(); err != nil {
		r.log.Warn().Err(err).Msg("transport close failed")
	}

	utils.RegistrationState.Set(0)
	r.log.Error().Str("reason", reason).Msg("transport lost, session dropped")
	r.bridge.Publish(models.Event{Type: models.EventDisconnected, Reason: reason})
}

// Status returns a read-only snapshot. Never blocks on the network,
// never mutates.
func (r *Registrar) Status() models.RegistrationStatus {
	r.mu.Lock()
	state := r.stateLocked()
	profile := r.profile
	username := r.creds.Username
	registeredAt := r.registeredAt
	r.mu.Unlock()

	status := models.RegistrationStatus{
		State:           state,
		ActiveCallCount: r.calls.ActiveCount(),
		TotalCallCount:  r.history.Count(),
		RegisteredAt:    registeredAt,
	}
	if state != models.RegStateUnregistered {
		status.Provider = profile.ID
		status.Server = profile.Server
		status.Username = username
		status.Features = profile.Features.Strings()
	}
	return status
}

// IsRegistered implements engine.RegistrationView.
func (r *Registrar) IsRegistered() bool {
	return r.State() == models.RegStateRegistered
}

// ActiveProfile implements engine.RegistrationView.
func (r *Registrar) ActiveProfile() (models.ProviderProfile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stateLocked() != models.RegStateRegistered {
		return models.ProviderProfile{}, false
	}
	return r.profile, true
}

// LocalNumber implements engine.RegistrationView.
func (r *Registrar) LocalNumber() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creds.Username
}
