package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/rs/zerolog"

	"flexphone/internal/dialplan"
	"flexphone/internal/models"
)

const userAgentName = "Flexphone/1.0"

// SipgoTransport is the production SipTransport on top of sipgo. It
// keeps one dialog entry per call id so in-dialog requests (BYE, INFO)
// and answers can find their way back to the right transaction.
type SipgoTransport struct {
	log        zerolog.Logger
	listenAddr string

	mu        sync.Mutex
	ua        *sipgo.UserAgent
	server    *sipgo.Server
	client    *sipgo.Client
	profile   models.ProviderProfile
	creds     Credentials
	dialogs   map[string]*dialog
	events    chan Event
	srvCancel context.CancelFunc
	connected bool
	cseq      uint32
}

type dialog struct {
	inbound  bool
	answered bool
	invite   *sip.Request
	inviteTx sip.ServerTransaction // inbound only
	remote   sip.Uri
}

func NewSipgoTransport(listenAddr string, log zerolog.Logger) *SipgoTransport {
	return &SipgoTransport{
		log:        log.With().Str("component", "transport").Logger(),
		listenAddr: listenAddr,
		dialogs:    make(map[string]*dialog),
		events:     make(chan Event, 32),
	}
}

func (t *SipgoTransport) Events() <-chan Event { return t.events }

func (t *SipgoTransport) Connect(ctx context.Context, profile models.ProviderProfile) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		t.closeLocked()
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent(userAgentName))
	if err != nil {
		return &models.TransportError{Op: "connect", Err: err}
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return &models.TransportError{Op: "connect", Err: err}
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return &models.TransportError{Op: "connect", Err: err}
	}

	server.OnInvite(t.onInvite)
	server.OnBye(t.onBye)
	server.OnCancel(t.onCancel)
	server.OnAck(t.onAck)
	server.OnOptions(t.onOptions)

	srvCtx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := server.ListenAndServe(srvCtx, t.network(profile), t.listenAddr); err != nil && srvCtx.Err() == nil {
			t.log.Error().Err(err).Msg("signaling listener failed")
			t.emit(Event{Kind: EventTransportDown, Reason: err.Error()})
		}
	}()

	t.ua, t.server, t.client = ua, server, client
	t.profile = profile
	t.srvCancel = cancel
	t.connected = true
	t.log.Info().Str("server", profile.Server).Int("port", profile.Port).
		Str("transport", string(profile.Transport)).Msg("transport connected")
	return nil
}

func (t *SipgoTransport) network(profile models.ProviderProfile) string {
	switch profile.Transport {
	case models.TransportTLS:
		return "tls"
	case models.TransportWSS:
		return "ws"
	default:
		return "udp"
	}
}

// Register sends REGISTER and answers one digest challenge if the
// server issues a 401/407.
func (t *SipgoTransport) Register(ctx context.Context, creds Credentials) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return &models.TransportError{Op: "register", Reason: "transport not connected"}
	}
	client := t.client
	profile := t.profile
	t.creds = creds
	t.mu.Unlock()

	req := t.newRequest(sip.REGISTER, profile.Server, creds)
	req.AppendHeader(sip.NewHeader("Expires", "3600"))

	res, err := t.roundTrip(ctx, client, req)
	if err != nil {
		return err
	}

	if res.StatusCode == 401 || res.StatusCode == 407 {
		challengeHeader := "WWW-Authenticate"
		authHeader := "Authorization"
		if res.StatusCode == 407 {
			challengeHeader = "Proxy-Authenticate"
			authHeader = "Proxy-Authorization"
		}
		h := res.GetHeader(challengeHeader)
		if h == nil {
			return &models.TransportError{Op: "register", Reason: fmt.Sprintf("%d without challenge", res.StatusCode)}
		}
		ch, err := parseDigestChallenge(h.Value())
		if err != nil {
			return &models.TransportError{Op: "register", Reason: err.Error(), Err: err}
		}
		uri := fmt.Sprintf("sip:%s", profile.Server)
		authValue, err := buildAuthorization(creds.Username, creds.Password, "REGISTER", uri, ch)
		if err != nil {
			return &models.TransportError{Op: "register", Err: err}
		}

		retry := t.newRequest(sip.REGISTER, profile.Server, creds)
		retry.AppendHeader(sip.NewHeader("Expires", "3600"))
		retry.AppendHeader(sip.NewHeader(authHeader, authValue))
		res, err = t.roundTrip(ctx, client, retry)
		if err != nil {
			return err
		}
	}

	if res.StatusCode != 200 {
		return &models.TransportError{
			Op:     "register",
			Reason: fmt.Sprintf("%d %s", res.StatusCode, res.Reason),
		}
	}
	t.log.Info().Str("username", creds.Username).Str("server", profile.Server).Msg("registered")
	return nil
}

func (t *SipgoTransport) Unregister(ctx context.Context) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil
	}
	client := t.client
	profile := t.profile
	creds := t.creds
	t.mu.Unlock()

	// Expires: 0 withdraws the binding
	req := t.newRequest(sip.REGISTER, profile.Server, creds)
	req.AppendHeader(sip.NewHeader("Expires", "0"))
	if _, err := t.roundTrip(ctx, client, req); err != nil {
		return err
	}
	return nil
}

func (t *SipgoTransport) Invite(ctx context.Context, callID, toNumber string) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return &models.TransportError{Op: "invite", Reason: "transport not connected"}
	}
	client := t.client
	profile := t.profile
	creds := t.creds
	t.mu.Unlock()

	remote := t.remoteURI(toNumber, profile)
	req := sip.NewRequest(sip.INVITE, remote)
	t.fillDialogHeaders(req, callID, sip.INVITE, creds, profile)

	clTx, err := client.TransactionRequest(ctx, req)
	if err != nil {
		return &models.TransportError{Op: "invite", Err: err}
	}

	t.mu.Lock()
	t.dialogs[callID] = &dialog{invite: req, remote: remote}
	t.mu.Unlock()

	go t.watchInvite(callID, req, clTx)
	return nil
}

// watchInvite relays call progress from the client transaction onto the
// event stream, the same blocking loop the proxy side of sipgo uses.
func (t *SipgoTransport) watchInvite(callID string, invite *sip.Request, clTx sip.ClientTransaction) {
	defer clTx.Terminate()
	for {
		select {
		case res, ok := <-clTx.Responses():
			if !ok || res == nil {
				t.emit(Event{Kind: EventCallProgress, CallID: callID, Progress: ProgressTerminated, Reason: "transaction closed"})
				return
			}
			switch {
			case res.StatusCode < 200:
				if res.StatusCode == 180 || res.StatusCode == 183 {
					t.emit(Event{Kind: EventCallProgress, CallID: callID, Progress: ProgressEstablishing})
				}
			case res.StatusCode < 300:
				t.ackInvite(invite, res)
				t.markAnswered(callID)
				t.emit(Event{Kind: EventCallProgress, CallID: callID, Progress: ProgressEstablished})
				return
			default:
				t.emit(Event{
					Kind: EventCallProgress, CallID: callID, Progress: ProgressTerminated,
					Reason: fmt.Sprintf("%d %s", res.StatusCode, res.Reason),
				})
				return
			}
		case <-clTx.Done():
			t.emit(Event{Kind: EventCallProgress, CallID: callID, Progress: ProgressTerminated, Reason: "transaction done"})
			return
		}
	}
}

func (t *SipgoTransport) ackInvite(invite *sip.Request, res *sip.Response) {
	ack := sip.NewRequest(sip.ACK, invite.Recipient)
	sip.CopyHeaders("From", invite, ack)
	sip.CopyHeaders("To", res, ack)
	sip.CopyHeaders("Call-ID", invite, ack)
	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.ACK})
	}
	ack.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	if err := t.client.WriteRequest(ack); err != nil {
		t.log.Warn().Err(err).Msg("failed to send ACK")
	}
}

func (t *SipgoTransport) markAnswered(callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d, ok := t.dialogs[callID]; ok {
		d.answered = true
	}
}

func (t *SipgoTransport) Answer(ctx context.Context, callID string) error {
	t.mu.Lock()
	d, ok := t.dialogs[callID]
	t.mu.Unlock()
	if !ok || !d.inbound || d.inviteTx == nil {
		return &models.TransportError{Op: "answer", Reason: fmt.Sprintf("no pending invite for call %s", callID)}
	}
	res := sip.NewResponseFromRequest(d.invite, 200, "OK", nil)
	if err := d.inviteTx.Respond(res); err != nil {
		return &models.TransportError{Op: "answer", Err: err}
	}
	t.markAnswered(callID)
	return nil
}

func (t *SipgoTransport) Terminate(ctx context.Context, callID string) error {
	t.mu.Lock()
	d, ok := t.dialogs[callID]
	if ok {
		delete(t.dialogs, callID)
	}
	client := t.client
	profile := t.profile
	creds := t.creds
	connected := t.connected
	t.mu.Unlock()

	if !ok {
		return nil
	}
	if !connected {
		return nil
	}

	switch {
	case d.inbound && !d.answered:
		// decline the pending invite
		if d.inviteTx != nil {
			res := sip.NewResponseFromRequest(d.invite, 486, "Busy Here", nil)
			if err := d.inviteTx.Respond(res); err != nil {
				return &models.TransportError{Op: "terminate", Err: err}
			}
		}
	case d.answered:
		bye := sip.NewRequest(sip.BYE, d.remote)
		t.fillDialogHeaders(bye, callID, sip.BYE, creds, profile)
		if _, err := t.roundTrip(ctx, client, bye); err != nil {
			return err
		}
	default:
		// outbound, not yet answered: cancel the pending invite
		cancel := sip.NewRequest(sip.CANCEL, d.remote)
		sip.CopyHeaders("Via", d.invite, cancel)
		sip.CopyHeaders("From", d.invite, cancel)
		sip.CopyHeaders("To", d.invite, cancel)
		sip.CopyHeaders("Call-ID", d.invite, cancel)
		if cseq := d.invite.CSeq(); cseq != nil {
			cancel.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.CANCEL})
		}
		if err := client.WriteRequest(cancel); err != nil {
			return &models.TransportError{Op: "terminate", Err: err}
		}
	}
	return nil
}

func (t *SipgoTransport) SendInfo(ctx context.Context, callID, digit string) error {
	t.mu.Lock()
	d, ok := t.dialogs[callID]
	client := t.client
	profile := t.profile
	creds := t.creds
	connected := t.connected
	t.mu.Unlock()
	if !ok || !connected {
		return &models.TransportError{Op: "send-info", Reason: fmt.Sprintf("no dialog for call %s", callID)}
	}

	req := sip.NewRequest(sip.INFO, d.remote)
	t.fillDialogHeaders(req, callID, sip.INFO, creds, profile)
	req.AppendHeader(sip.NewHeader("Content-Type", "application/dtmf-relay"))
	req.SetBody([]byte(fmt.Sprintf("Signal=%s\r\nDuration=160\r\n", digit)))

	res, err := t.roundTrip(ctx, client, req)
	if err != nil {
		return err
	}
	if res.StatusCode != 200 {
		return &models.TransportError{
			Op:     "send-info",
			Reason: fmt.Sprintf("%d %s", res.StatusCode, res.Reason),
		}
	}
	return nil
}

func (t *SipgoTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	return nil
}

func (t *SipgoTransport) closeLocked() {
	if !t.connected {
		return
	}
	if t.srvCancel != nil {
		t.srvCancel()
	}
	if t.ua != nil {
		t.ua.Close()
	}
	t.ua, t.server, t.client = nil, nil, nil
	t.dialogs = make(map[string]*dialog)
	t.connected = false
	t.log.Info().Msg("transport closed")
}

// ─── inbound handlers ────────────────────────────────────────────

func (t *SipgoTransport) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	from := dialplan.ExtractUser(req.From().Address.String())
	displayName := req.From().DisplayName

	t.mu.Lock()
	t.dialogs[callID] = &dialog{
		inbound:  true,
		invite:   req,
		inviteTx: tx,
		remote:   req.From().Address,
	}
	t.mu.Unlock()

	ringing := sip.NewResponseFromRequest(req, 180, "Ringing", nil)
	tx.Respond(ringing)

	t.log.Info().Str("call_id", callID).Str("from", from).Msg("incoming invite")
	t.emit(Event{Kind: EventIncomingInvite, CallID: callID, From: from, DisplayName: displayName})
}

func (t *SipgoTransport) onBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	t.mu.Lock()
	delete(t.dialogs, callID)
	t.mu.Unlock()

	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	tx.Respond(res)
	t.emit(Event{Kind: EventCallProgress, CallID: callID, Progress: ProgressTerminated, Reason: "remote hangup"})
}

func (t *SipgoTransport) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	t.mu.Lock()
	delete(t.dialogs, callID)
	t.mu.Unlock()

	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	tx.Respond(res)
	t.emit(Event{Kind: EventCallProgress, CallID: callID, Progress: ProgressTerminated, Reason: "caller canceled"})
}

func (t *SipgoTransport) onAck(req *sip.Request, tx sip.ServerTransaction) {
	// dialog confirmation, nothing to relay upward
}

func (t *SipgoTransport) onOptions(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	tx.Respond(res)
}

// ─── request plumbing ────────────────────────────────────────────

func (t *SipgoTransport) newRequest(method sip.RequestMethod, server string, creds Credentials) *sip.Request {
	recipient := sip.Uri{Scheme: "sip", Host: server}
	req := sip.NewRequest(method, recipient)
	t.fillDialogHeaders(req, "", method, creds, t.profile)
	return req
}

func (t *SipgoTransport) fillDialogHeaders(req *sip.Request, callID string, method sip.RequestMethod, creds Credentials, profile models.ProviderProfile) {
	local := sip.Uri{Scheme: "sip", User: creds.Username, Host: profile.Server}
	from := &sip.FromHeader{DisplayName: creds.DisplayName, Address: local, Params: sip.NewParams()}
	req.AppendHeader(from)

	to := &sip.ToHeader{Address: req.Recipient, Params: sip.NewParams()}
	if method == sip.REGISTER {
		to.Address = local
	}
	req.AppendHeader(to)

	if callID != "" {
		cid := sip.CallIDHeader(callID)
		req.AppendHeader(&cid)
	}

	t.mu.Lock()
	t.cseq++
	seq := t.cseq
	t.mu.Unlock()
	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: method})
	req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	req.AppendHeader(&sip.ContactHeader{Address: local, Params: sip.NewParams()})
}

func (t *SipgoTransport) remoteURI(toNumber string, profile models.ProviderProfile) sip.Uri {
	var uri sip.Uri
	uri.Scheme = "sip"
	uri.User = toNumber
	uri.Host = profile.Server
	if profile.Port != 0 {
		uri.Port = profile.Port
	}
	uri.UriParams = sip.NewParams()
	uri.UriParams.Add("transport", t.network(profile))
	return uri
}

// roundTrip sends one non-INVITE request and waits for its final
// response.
func (t *SipgoTransport) roundTrip(ctx context.Context, client *sipgo.Client, req *sip.Request) (*sip.Response, error) {
	op := string(req.Method)
	clTx, err := client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, &models.TransportError{Op: op, Err: err}
	}
	defer clTx.Terminate()

	for {
		select {
		case res, ok := <-clTx.Responses():
			if !ok || res == nil {
				return nil, &models.TransportError{Op: op, Reason: "response channel closed"}
			}
			if res.StatusCode >= 200 {
				return res, nil
			}
		case <-clTx.Done():
			return nil, &models.TransportError{Op: op, Reason: "transaction timed out"}
		case <-ctx.Done():
			return nil, &models.TransportError{Op: op, Err: ctx.Err()}
		}
	}
}

func (t *SipgoTransport) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.log.Warn().Str("kind", string(ev.Kind)).Msg("event buffer full, dropping")
	}
}
