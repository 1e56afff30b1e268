package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"whatsapp-automation/internal/events"
	apperrors "whatsapp-automation/pkg/errors"

	"go.uber.org/zap"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

type Status struct {
	State       State  `json:"state"`
	PhoneNumber string `json:"phone_number,omitempty"`
	EndpointID  string `json:"endpoint_id,omitempty"`
	IsConnected bool   `json:"is_connected"`
}

type Options struct {
	StabilizeDelay time.Duration
	PairAttempts   int
	PairBackoff    time.Duration
	ReconnectDelay time.Duration
	OpenTimeout    time.Duration
	InboundBuffer  int
}

func DefaultOptions() Options {
	return Options{
		StabilizeDelay: 3 * time.Second,
		PairAttempts:   3,
		PairBackoff:    2 * time.Second,
		ReconnectDelay: 5 * time.Second,
		OpenTimeout:    30 * time.Second,
		InboundBuffer:  256,
	}
}

// Manager owns the single session to the messaging network. It runs the
// connection state machine and exposes the send primitives.
type Manager struct {
	transport Transport
	media     MediaFetcher
	bus       *events.Bus
	opts      Options
	log       *zap.Logger

	mu         sync.Mutex
	state      State
	phone      string
	endpointID string
	loggingOut bool
	reconnect  *time.Timer

	inbound chan InboundMessage
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewManager(transport Transport, media MediaFetcher, bus *events.Bus, opts Options, log *zap.Logger) *Manager {
	if opts.PairAttempts < 1 {
		opts.PairAttempts = 1
	}
	if opts.InboundBuffer <= 0 {
		opts.InboundBuffer = 256
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		transport: transport,
		media:     media,
		bus:       bus,
		opts:      opts,
		log:       log.With(zap.String("component", "whatsapp")),
		state:     StateDisconnected,
		inbound:   make(chan InboundMessage, opts.InboundBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Inbound is the stream of received messages. It has a single consumer.
func (m *Manager) Inbound() <-chan InboundMessage {
	return m.inbound
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	return Status{
		State:       m.state,
		PhoneNumber: m.phone,
		EndpointID:  m.endpointID,
		IsConnected: m.state == StateConnected,
	}
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// Connect starts a session for phone. It returns a pairing code when the
// stored credentials are not yet paired, and an empty code on silent resume.
func (m *Manager) Connect(ctx context.Context, phone string) (string, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return "", apperrors.InvalidInput.Wrap(errors.New("phone number is required"))
	}

	m.mu.Lock()
	switch m.state {
	case StateConnecting:
		m.mu.Unlock()
		return "", apperrors.ConnectionInProgress
	case StateConnected:
		m.mu.Unlock()
		return "", apperrors.AlreadyConnected
	}
	m.stopReconnectLocked()
	m.state = StateConnecting
	m.phone = phone
	m.loggingOut = false
	m.mu.Unlock()
	m.publishState(ctx)

	registered, err := m.transport.Open(ctx, m.handleEvent)
	if err != nil {
		m.abort(ctx)
		return "", fmt.Errorf("open session: %w", err)
	}
	if registered {
		m.log.Info("Resuming saved session", zap.String("phone", phone))
		return "", nil
	}

	if err := sleepCtx(ctx, m.opts.StabilizeDelay); err != nil {
		m.abort(ctx)
		return "", err
	}

	var lastErr error
	for attempt := 1; attempt <= m.opts.PairAttempts; attempt++ {
		code, err := m.transport.PairPhone(ctx, phone)
		if err == nil {
			m.log.Info("Pairing code issued", zap.String("phone", phone), zap.Int("attempt", attempt))
			m.bus.Publish(ctx, events.TypePairingCode, map[string]string{"phone": phone, "code": code})
			return code, nil
		}
		lastErr = err
		m.log.Warn("Pairing code request failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.opts.PairAttempts),
			zap.Error(err),
		)
		if attempt < m.opts.PairAttempts {
			if err := sleepCtx(ctx, m.opts.PairBackoff); err != nil {
				m.abort(ctx)
				return "", err
			}
		}
	}

	m.abort(ctx)
	return "", apperrors.PairingFailed.Wrap(lastErr)
}

// Resume reopens a previously paired session at startup. Without paired
// credentials it leaves the manager disconnected.
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.mu.Unlock()
	m.publishState(ctx)

	registered, err := m.transport.Open(ctx, m.handleEvent)
	if err != nil {
		m.abort(ctx)
		return fmt.Errorf("resume session: %w", err)
	}
	if !registered {
		m.log.Info("No saved session, waiting for connect")
		m.abort(ctx)
	}
	return nil
}

// Disconnect logs out, purges credentials and disables reconnection.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateDisconnected && m.reconnect == nil {
		m.mu.Unlock()
		return apperrors.NotConnected
	}
	m.loggingOut = true
	m.stopReconnectLocked()
	wasConnected := m.state == StateConnected
	m.mu.Unlock()

	if wasConnected {
		if err := m.transport.Logout(ctx); err != nil {
			m.log.Warn("Logout failed, purging credentials anyway", zap.Error(err))
		}
	}
	m.transport.Close()
	if err := m.transport.PurgeCredentials(ctx); err != nil {
		m.log.Warn("Failed to purge credentials", zap.Error(err))
	}

	m.mu.Lock()
	m.state = StateDisconnected
	m.phone = ""
	m.endpointID = ""
	m.loggingOut = false
	m.mu.Unlock()

	m.log.Info("Disconnected")
	m.publishState(ctx)
	return nil
}

// Send delivers p to a user, group or the status broadcast.
func (m *Manager) Send(ctx context.Context, to string, p Payload) error {
	if !m.IsConnected() {
		return apperrors.NotConnected
	}
	jid, err := NormalizeJID(to)
	if err != nil {
		return apperrors.InvalidInput.Wrap(err)
	}

	if p.IsMedia() && len(p.Data) == 0 {
		if p.URL == "" {
			return apperrors.DeliveryFailed.Wrap(errors.New("media payload has neither data nor url"))
		}
		data, mimeType, err := m.media.Fetch(ctx, p.URL)
		if err != nil {
			return apperrors.DeliveryFailed.Wrap(fmt.Errorf("fetch %s: %w", p.URL, err))
		}
		p.Data = data
		if p.MimeType == "" {
			p.MimeType = mimeType
		}
	}

	if err := m.transport.Send(ctx, jid, p); err != nil {
		return apperrors.DeliveryFailed.Wrap(err)
	}

	m.bus.Publish(ctx, events.TypeMessageOutbound, map[string]string{
		"to":   jid,
		"kind": string(p.Kind),
	})
	return nil
}

// SendStatus publishes p to the status broadcast.
func (m *Manager) SendStatus(ctx context.Context, p Payload) error {
	return m.Send(ctx, StatusBroadcast, p)
}

func (m *Manager) Groups(ctx context.Context) ([]GroupInfo, error) {
	if !m.IsConnected() {
		return nil, apperrors.NotConnected
	}
	return m.transport.JoinedGroups(ctx)
}

// Close stops reconnection and releases the socket without logging out.
func (m *Manager) Close() {
	m.mu.Lock()
	m.stopReconnectLocked()
	m.state = StateDisconnected
	m.mu.Unlock()
	m.cancel()
	m.transport.Close()
}

func (m *Manager) handleEvent(ev Event) {
	switch ev.Kind {
	case EventConnected:
		m.onConnected(ev.EndpointID)
	case EventDisconnected:
		m.onDisconnected(ev.Cause)
	case EventMessage:
		select {
		case m.inbound <- ev.Message:
		case <-m.ctx.Done():
		}
	}
}

func (m *Manager) onConnected(endpointID string) {
	m.mu.Lock()
	if m.loggingOut {
		m.mu.Unlock()
		return
	}
	m.stopReconnectLocked()
	m.state = StateConnected
	m.endpointID = endpointID
	if m.phone == "" {
		m.phone = PhoneFromJID(endpointID)
	}
	m.mu.Unlock()

	m.log.Info("Connected", zap.String("endpoint", endpointID))
	m.publishState(m.ctx)
}

func (m *Manager) onDisconnected(cause DisconnectCause) {
	m.mu.Lock()
	if m.loggingOut {
		m.mu.Unlock()
		return
	}
	if cause != CauseLoggedOut && m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.endpointID = ""
	m.stopReconnectLocked()
	switch cause {
	case CauseLoggedOut, CausePairingExpired:
		m.phone = ""
	case CauseRestartRequired:
		m.scheduleReconnectLocked(0)
	default:
		m.scheduleReconnectLocked(m.opts.ReconnectDelay)
	}
	m.mu.Unlock()

	switch cause {
	case CauseLoggedOut:
		m.log.Error("Session credentials invalidated, pairing required", zap.Error(apperrors.CredentialsInvalid))
		go m.purge()
	case CausePairingExpired:
		m.log.Warn("Pairing code expired before use", zap.Error(apperrors.PairingFailed))
		m.transport.Close()
	default:
		m.log.Warn("Connection lost", zap.String("cause", cause.String()), zap.Error(apperrors.TransientDisconnect))
	}
	m.publishState(m.ctx)
}

func (m *Manager) purge() {
	m.transport.Close()
	if err := m.transport.PurgeCredentials(m.ctx); err != nil {
		m.log.Warn("Failed to purge credentials", zap.Error(err))
	}
}

func (m *Manager) scheduleReconnectLocked(delay time.Duration) {
	m.reconnect = time.AfterFunc(delay, m.reopen)
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Manager) reopen() {
	m.mu.Lock()
	if m.state != StateDisconnected || m.loggingOut || m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.reconnect = nil
	m.state = StateConnecting
	m.mu.Unlock()
	m.publishState(m.ctx)

	ctx, cancel := context.WithTimeout(m.ctx, m.opts.OpenTimeout)
	defer cancel()

	m.log.Info("Reconnecting")
	registered, err := m.transport.Open(ctx, m.handleEvent)
	switch {
	case err != nil:
		m.log.Warn("Reconnect failed", zap.Error(err), zap.Duration("retry_in", m.opts.ReconnectDelay))
		m.mu.Lock()
		if m.state == StateConnecting {
			m.state = StateDisconnected
			m.scheduleReconnectLocked(m.opts.ReconnectDelay)
		}
		m.mu.Unlock()
		m.publishState(m.ctx)
	case !registered:
		m.log.Warn("No paired credentials, reconnect abandoned")
		m.abort(m.ctx)
	}
}

// abort returns a connecting session to disconnected and closes the socket.
func (m *Manager) abort(ctx context.Context) {
	m.mu.Lock()
	m.state = StateDisconnected
	m.endpointID = ""
	m.mu.Unlock()
	m.transport.Close()
	m.publishState(ctx)
}

func (m *Manager) publishState(ctx context.Context) {
	m.bus.Publish(context.WithoutCancel(ctx), events.TypeSessionState, m.Status())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
