// Package eventbus runs an embedded NATS server and publishes
// signal-added events so a listening UI or harness can react the moment
// a task gets a new signal, without polling the store (spec §4.2/§6).
// Adapted from the teacher's internal/nats client wrapper and its
// embedded-server bootstrap in cmd/cliairmonitor/main.go.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	nc "github.com/nats-io/nats.go"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// SignalAddedSubject is the subject every signal insert publishes to.
const SignalAddedSubject = "ralph.signal.added"

// SignalAdded is the event payload published after any signal insert.
type SignalAdded struct {
	TaskID int64  `json:"task_id"`
	Verb   string `json:"verb"`
}

// Server wraps an embedded NATS server and a client connection to it.
type Server struct {
	nats *natsserver.Server
	conn *nc.Conn
}

// Start launches an embedded NATS server on port and connects a client
// to it, mirroring the teacher's own embedded-server bootstrap.
func Start(port int) (*Server, error) {
	natsServer, err := natsserver.NewServer(&natsserver.Options{
		Port:     port,
		HTTPPort: -1,
		NoLog:    true,
		NoSigs:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go natsServer.Start()
	if !natsServer.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("NATS server failed to start in time")
	}

	conn, err := nc.Connect(fmt.Sprintf("nats://localhost:%d", port), nc.Name("ralphd-eventbus"))
	if err != nil {
		natsServer.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS server: %w", err)
	}

	return &Server{nats: natsServer, conn: conn}, nil
}

// Close disconnects the client and shuts the embedded server down.
func (s *Server) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.nats != nil {
		s.nats.Shutdown()
	}
}

// PublishSignalAdded announces that a signal was recorded on a task.
func (s *Server) PublishSignalAdded(taskID int64, verb string) error {
	data, err := json.Marshal(SignalAdded{TaskID: taskID, Verb: verb})
	if err != nil {
		return fmt.Errorf("failed to marshal signal-added event: %w", err)
	}
	if err := s.conn.Publish(SignalAddedSubject, data); err != nil {
		return fmt.Errorf("failed to publish signal-added event: %w", err)
	}
	return nil
}

// Subscribe registers a handler for signal-added events, for a UI or
// secondary harness process to react without polling the store.
func (s *Server) Subscribe(handler func(SignalAdded)) (*nc.Subscription, error) {
	sub, err := s.conn.Subscribe(SignalAddedSubject, func(msg *nc.Msg) {
		var event SignalAdded
		if json.Unmarshal(msg.Data, &event) == nil {
			handler(event)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", SignalAddedSubject, err)
	}
	return sub, nil
}

// Publish marshals payload as JSON and publishes it to subject, for
// components (like internal/harness) that define their own event
// subjects on top of the same embedded server.
func (s *Server) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", subject, err)
	}
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// SubscribeRaw registers a raw handler for a caller-defined subject,
// bypassing the SignalAdded envelope.
func (s *Server) SubscribeRaw(subject string, handler func(*nc.Msg)) (*nc.Subscription, error) {
	sub, err := s.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}
