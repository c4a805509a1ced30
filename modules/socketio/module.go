// Package socketio registers a monitor that forwards measure news, database
// changes and status updates to a socket.io server.
package socketio

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/vk/measgrid/internal/config"
	"github.com/vk/measgrid/internal/ctxlog"
	"github.com/vk/measgrid/internal/database"
	"github.com/vk/measgrid/internal/event"
	"github.com/vk/measgrid/internal/monitor"
	"github.com/vk/measgrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Kind is the monitor kind registered by this module.
const Kind = "socketio"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the attributes of a socketio monitor block.
type Input struct {
	URL                string `cty:"url"`
	Namespace          string `cty:"namespace"`
	Event              string `cty:"event"`
	StatusEvent        string `cty:"status_event"`
	Timeout            string `cty:"timeout"`
	InsecureSkipVerify bool   `cty:"insecure_skip_verify"`
}

func defaultInput() Input {
	return Input{Namespace: "/", Event: "news", StatusEvent: "status", Timeout: "10s"}
}

// emitter is the part of *socket.Socket used by the monitor.
type emitter interface {
	Emit(ev string, args ...any) error
}

// Monitor emits one event per update. The connection is opened by Start.
type Monitor struct {
	input   Input
	timeout time.Duration
	logger  *slog.Logger
	client  *socket.Socket
	out     emitter
}

var (
	_ monitor.Monitor        = (*Monitor)(nil)
	_ monitor.StatusObserver = (*Monitor)(nil)
)

// New is the monitor.Factory of the socketio monitor.
func New(ctx context.Context, attrs map[string]cty.Value) (monitor.Monitor, error) {
	in := defaultInput()
	if err := config.DecodeAttributes(attrs, &in); err != nil {
		return nil, fmt.Errorf("socketio monitor: %w", err)
	}
	if in.URL == "" {
		return nil, fmt.Errorf("socketio monitor: missing required attribute %q", "url")
	}
	timeout, err := time.ParseDuration(in.Timeout)
	if err != nil {
		return nil, fmt.Errorf("socketio monitor: invalid timeout %q: %w", in.Timeout, err)
	}
	return &Monitor{
		input:   in,
		timeout: timeout,
		logger:  ctxlog.FromContext(ctx).With("monitor", Kind, "url", in.URL),
	}, nil
}

// Start connects to the server and waits for the connection to be accepted.
func (m *Monitor) Start(ctx context.Context) error {
	parsedURL, err := url.Parse(m.input.URL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	opts.SetReconnection(false)
	opts.SetTimeout(m.timeout)
	if m.input.InsecureSkipVerify {
		m.logger.Warn("Skipping TLS certificate verification.")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(m.input.Namespace, opts)

	connected := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		connected <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connected <- err
	})

	m.logger.Debug("Connecting monitor.")
	io.Connect()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return fmt.Errorf("context cancelled while waiting for socket.io connection")
	case <-time.After(m.timeout):
		io.Disconnect()
		return fmt.Errorf("timed out after %s waiting for socket.io connection", m.timeout)
	}

	m.logger.Info("Monitor connected.", "sid", io.Id())
	m.client = io
	m.out = io
	return nil
}

func (m *Monitor) Stop() error {
	if m.client != nil {
		m.logger.Debug("Disconnecting monitor.")
		m.client.Disconnect()
		m.client = nil
	}
	m.out = nil
	return nil
}

func (m *Monitor) emit(ev string, payload map[string]any) {
	if m.out == nil {
		return
	}
	if err := m.out.Emit(ev, payload); err != nil {
		m.logger.Warn("Failed to emit event.", "event", ev, "error", err)
	}
}

func (m *Monitor) RefreshMonitoredEntries(entries map[string]any) {
	m.emit(m.input.Event, map[string]any{"kind": "refresh", "entries": entries})
}

func (m *Monitor) DatabaseModified(c database.Change) {
	m.emit(m.input.Event, map[string]any{"kind": c.Kind.String(), "path": c.Path, "value": c.Value})
}

func (m *Monitor) ProcessNews(n event.News) {
	m.emit(m.input.Event, map[string]any{"kind": "news", "path": n.Key, "value": n.Value})
}

func (m *Monitor) ProcessStatus(status event.Status, message string) {
	m.emit(m.input.StatusEvent, map[string]any{"status": status.String(), "message": message})
}

func (m *Monitor) ClearState() {
	m.emit(m.input.Event, map[string]any{"kind": "clear"})
}

// Register registers the monitor factory with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterMonitor(Kind, New)
}
