// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"net"
	"sync"
	"time"
)

// ConnectionState enumerates the lifecycle states of a ManagedClient.
type ConnectionState int

// Connection lifecycle states.
const (
	StateUninitialized ConnectionState = iota
	StateConnecting
	StateConnected
	StateInterrupted
	StateReconnecting
	StateReconnectFailed
	StateClosed
)

// String renders a ConnectionState for logging.
func (s ConnectionState) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateInterrupted:
		return "Interrupted"
	case StateReconnecting:
		return "Reconnecting"
	case StateReconnectFailed:
		return "ReconnectFailed"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// StateChangeObserver is notified whenever a ManagedClient transitions
// between lifecycle states.
type StateChangeObserver func(old, new ConnectionState)

// PropertyChangeObserver is notified when an observable connection property
// changes: "framebuffer_size", "desktop_name", or "pixel_format".
type PropertyChangeObserver func(property string, value interface{})

// ReconnectPolicy controls how a ManagedClient responds to an unexpected
// disconnection.
type ReconnectPolicy struct {
	// MaxAttempts bounds the number of reconnection attempts after an
	// interruption. Zero means unlimited attempts.
	MaxAttempts int

	// Delay is the wait between reconnection attempts.
	Delay time.Duration
}

// ManagedClient supervises a ClientConn's lifecycle across interruptions,
// dialing a fresh network connection and re-running the handshake according
// to a ReconnectPolicy. It implements the connection lifecycle engine:
// Uninitialized -> Connecting -> Connected -> (Interrupted -> Reconnecting ->
// (Connected | ReconnectFailed))* -> Closed.
type ManagedClient struct {
	mu      sync.RWMutex
	state   ConnectionState
	network string
	address string
	options []ClientOption
	policy  ReconnectPolicy

	conn *ClientConn

	stateObservers []StateChangeObserver
	propObservers  []PropertyChangeObserver

	closed bool
}

// NewManagedClient creates a ManagedClient that dials network/address and
// applies options on each (re)connection attempt.
func NewManagedClient(network, address string, policy ReconnectPolicy, options ...ClientOption) *ManagedClient {
	return &ManagedClient{
		state:   StateUninitialized,
		network: network,
		address: address,
		options: options,
		policy:  policy,
	}
}

// OnStateChange registers an observer for lifecycle state transitions.
func (m *ManagedClient) OnStateChange(fn StateChangeObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateObservers = append(m.stateObservers, fn)
}

// OnPropertyChange registers an observer for observable property changes.
func (m *ManagedClient) OnPropertyChange(fn PropertyChangeObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.propObservers = append(m.propObservers, fn)
}

// State returns the current lifecycle state.
func (m *ManagedClient) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Conn returns the currently active ClientConn, or nil if not connected.
func (m *ManagedClient) Conn() *ClientConn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

func (m *ManagedClient) setState(s ConnectionState) {
	m.mu.Lock()
	old := m.state
	m.state = s
	observers := append([]StateChangeObserver(nil), m.stateObservers...)
	m.mu.Unlock()

	if old == s {
		return
	}
	for _, obs := range observers {
		obs(old, s)
	}
}

func (m *ManagedClient) notifyProperty(property string, value interface{}) {
	m.mu.RLock()
	observers := append([]PropertyChangeObserver(nil), m.propObservers...)
	m.mu.RUnlock()
	for _, obs := range observers {
		obs(property, value)
	}
}

// Connect dials the server and runs the handshake, supervising the
// connection for the lifetime of ctx. It blocks until ctx is cancelled,
// Close is called, or reconnection is exhausted per the configured
// ReconnectPolicy, in which case it returns the terminal error.
func (m *ManagedClient) Connect(ctx context.Context) error {
	m.setState(StateConnecting)

	if err := m.dialAndHandshake(ctx); err != nil {
		m.setState(StateReconnectFailed)
		return err
	}
	m.setState(StateConnected)
	m.notifyProperty("framebuffer_size", [2]uint16{})

	attempts := 0
	for {
		conn := m.Conn()
		if conn == nil {
			return nil
		}

		<-conn.ctx.Done()

		m.mu.RLock()
		closed := m.closed
		m.mu.RUnlock()
		if closed {
			m.setState(StateClosed)
			return nil
		}

		select {
		case <-ctx.Done():
			m.setState(StateClosed)
			return ctx.Err()
		default:
		}

		m.setState(StateInterrupted)
		m.setState(StateReconnecting)

		for {
			attempts++
			if m.policy.MaxAttempts > 0 && attempts > m.policy.MaxAttempts {
				m.setState(StateReconnectFailed)
				return networkError("ManagedClient.Connect", "reconnection attempts exhausted", nil)
			}

			if m.policy.Delay > 0 {
				select {
				case <-ctx.Done():
					m.setState(StateClosed)
					return ctx.Err()
				case <-time.After(m.policy.Delay):
				}
			}

			if err := m.dialAndHandshake(ctx); err != nil {
				continue
			}
			break
		}

		m.setState(StateConnected)
		attempts = 0
	}
}

func (m *ManagedClient) dialAndHandshake(ctx context.Context) error {
	dialer := net.Dialer{}
	netConn, err := dialer.DialContext(ctx, m.network, m.address)
	if err != nil {
		return networkError("ManagedClient.dialAndHandshake", "failed to dial VNC server", err)
	}

	conn, err := ClientWithOptions(ctx, netConn, m.options...)
	if err != nil {
		netConn.Close()
		return err
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	return nil
}

// Close terminates the managed connection and prevents further reconnection.
func (m *ManagedClient) Close() error {
	m.mu.Lock()
	m.closed = true
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		m.setState(StateClosed)
		return nil
	}
	err := conn.Close()
	m.setState(StateClosed)
	return err
}
