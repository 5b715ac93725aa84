// Package health publishes backend liveness through the standard gRPC health
// service (grpc.health.v1).
//
// A Monitor probes the active backend's ChainInfo on a fixed period. The
// chainbridge service turns NOT_SERVING after FailureThreshold consecutive
// failed probes and back to SERVING on the first success.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/fortiblox/chainbridge/pkg/backend"
)

// ServiceName is the health service name reported for the backend.
const ServiceName = "chainbridge"

// Default configuration values.
const (
	DefaultInterval     = 30 * time.Second
	DefaultProbeTimeout = 10 * time.Second
	FailureThreshold    = 3
)

// Source yields the active backend.
type Source interface {
	Active() (backend.Backend, error)
}

// Status is the outcome of the latest probe.
type Status struct {
	Healthy   bool
	Height    uint64
	IBD       bool
	LastCheck time.Time
	LastError error
}

// Monitor probes the backend and drives a grpc health.Server.
type Monitor struct {
	src          Source
	server       *health.Server
	interval     time.Duration
	probeTimeout time.Duration
	log          logrus.FieldLogger

	healthy   atomic.Bool
	failCount atomic.Int32

	mu     sync.RWMutex
	status Status

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool

	onHealthChange func(healthy bool, height uint64)
}

// NewMonitor returns a monitor that starts out NOT_SERVING.
func NewMonitor(src Source, interval time.Duration, log logrus.FieldLogger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := &Monitor{
		src:          src,
		server:       health.NewServer(),
		interval:     interval,
		probeTimeout: DefaultProbeTimeout,
		log:          log.WithField("component", "health"),
	}
	m.setServing(false)
	return m
}

// SetOnHealthChange sets a callback for health transitions.
// Must be called before Start().
func (m *Monitor) SetOnHealthChange(callback func(healthy bool, height uint64)) {
	m.onHealthChange = callback
}

// Server returns the grpc health server for registration.
func (m *Monitor) Server() *health.Server {
	return m.server
}

// Status returns the latest probe outcome.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Start runs an immediate probe, then probes every interval until Stop or
// ctx cancellation.
func (m *Monitor) Start(ctx context.Context) {
	if m.started.Swap(true) {
		return
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.loop()
}

// Stop stops probing and marks every service NOT_SERVING.
func (m *Monitor) Stop() {
	if m.closed.Swap(true) {
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.server.Shutdown()
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	m.Probe(m.ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Probe(m.ctx)
		}
	}
}

// Probe checks the backend once and updates the served status.
func (m *Monitor) Probe(ctx context.Context) {
	info, err := m.check(ctx)
	now := time.Now()

	m.mu.Lock()
	m.status.LastCheck = now
	m.status.LastError = err
	if err == nil {
		m.status.Height = info.BlockCount
		m.status.IBD = info.IBD
	}
	height := m.status.Height
	m.mu.Unlock()

	if err != nil {
		// The backend is not up yet; nothing to count.
		if errors.Is(err, backend.ErrNotInitialized) {
			m.transition(false, height)
			return
		}
		failCount := m.failCount.Add(1)
		m.log.WithError(err).WithField("failures", failCount).Debug("probe failed")
		if failCount >= FailureThreshold {
			m.transition(false, height)
		}
		return
	}

	m.failCount.Store(0)
	m.transition(true, height)
}

func (m *Monitor) check(ctx context.Context) (*backend.ChainInfo, error) {
	b, err := m.src.Active()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	return b.ChainInfo(ctx, nil)
}

func (m *Monitor) transition(healthy bool, height uint64) {
	m.mu.Lock()
	m.status.Healthy = healthy
	m.mu.Unlock()

	if m.healthy.Swap(healthy) == healthy {
		return
	}
	m.setServing(healthy)
	m.log.WithFields(logrus.Fields{"healthy": healthy, "height": height}).Debug("backend health changed")
	if m.onHealthChange != nil {
		m.onHealthChange(healthy, height)
	}
}

func (m *Monitor) setServing(healthy bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if healthy {
		status = healthpb.HealthCheckResponse_SERVING
	}
	m.server.SetServingStatus("", status)
	m.server.SetServingStatus(ServiceName, status)
}

// Serve exposes the health service on addr until ctx is cancelled.
func (m *Monitor) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return m.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (m *Monitor) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, m.server)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	m.log.WithField("addr", ln.Addr().String()).Info("health service listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
