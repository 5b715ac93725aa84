// Package node assembles a chainbridge process.
//
// The Node ties together:
//   - the viper settings and the logrus logger
//   - the registry holding the active backend
//   - the router serving lightningd's five methods
//   - a transport: the lightningd plugin protocol on stdio, or an HTTP
//     JSON-RPC server
//   - the gRPC health monitor
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/fortiblox/chainbridge/pkg/backend"
	"github.com/fortiblox/chainbridge/pkg/blockcache"
	"github.com/fortiblox/chainbridge/pkg/config"
	"github.com/fortiblox/chainbridge/pkg/dashboard"
	"github.com/fortiblox/chainbridge/pkg/esplora"
	"github.com/fortiblox/chainbridge/pkg/health"
	"github.com/fortiblox/chainbridge/pkg/logging"
	"github.com/fortiblox/chainbridge/pkg/registry"
	"github.com/fortiblox/chainbridge/pkg/router"
	"github.com/fortiblox/chainbridge/pkg/rpc"
)

// Node errors.
var (
	ErrAlreadyRunning = errors.New("node is already running")
)

// Node is a chainbridge process.
type Node struct {
	v   *viper.Viper
	log *logrus.Logger

	registry *registry.Registry
	router   *router.Router

	mu      sync.Mutex
	cfg     *config.Config
	monitor *health.Monitor
	cancel  context.CancelFunc

	started time.Time
	running atomic.Bool
	wg      sync.WaitGroup
}

var _ dashboard.NodeStats = (*Node)(nil)

// New creates a node reading settings from v. Nothing is started until
// RunPlugin or Serve.
func New(v *viper.Viper, log *logrus.Logger) *Node {
	reg := registry.New(log)
	for kind, f := range Factories() {
		reg.Register(kind, f)
	}
	return &Node{
		v:        v,
		log:      log,
		registry: reg,
		router:   router.New(reg, log),
		started:  time.Now(),
	}
}

// Registry returns the backend registry.
func (n *Node) Registry() *registry.Registry {
	return n.registry
}

// Init resolves the configuration, activates the configured backend and
// starts the health monitor.
func (n *Node) Init(ctx context.Context) error {
	cfg, err := config.Load(n.v)
	if err != nil {
		return err
	}
	if lvl, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		n.log.SetLevel(lvl)
	}
	n.log.WithFields(logrus.Fields{
		"backend": cfg.Backend,
		"network": cfg.Network,
		"cache":   cfg.Cache.Engine,
	}).Info("initializing")

	if err := n.registry.Init(ctx, cfg.Backend, cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	n.cfg = cfg
	n.monitor = health.NewMonitor(n.registry, cfg.Health.Interval, n.log)
	n.cancel = cancel
	monitor := n.monitor
	n.mu.Unlock()

	monitor.SetOnHealthChange(n.onHealthChange)
	monitor.Start(ctx)
	if cfg.Health.Addr != "" {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := monitor.Serve(ctx, cfg.Health.Addr); err != nil {
				n.log.WithError(err).Error("health service stopped")
			}
		}()
	}
	return nil
}

// RunPlugin speaks the lightningd plugin protocol on in and out until
// lightningd closes in. Log entries are forwarded to lightningd instead of
// being written locally.
func (n *Node) RunPlugin(ctx context.Context, in io.Reader, out io.Writer) error {
	if n.running.Swap(true) {
		return ErrAlreadyRunning
	}
	defer n.Close()

	p := rpc.NewPlugin(in, out, n.router, config.PluginOptions(), n.pluginInit, n.log)
	n.log.SetOutput(io.Discard)
	n.log.AddHook(logging.NewHook(p, logrus.TraceLevel))

	return p.Run(ctx)
}

// pluginInit applies lightningd's init call. A failure leaves the registry
// empty and every method then answers not initialized.
func (n *Node) pluginInit(ctx context.Context, params rpc.InitParams) error {
	config.ApplyPluginOptions(n.v, params.Options)
	if len(params.Configuration) > 0 {
		var lc config.LightningdConfig
		if err := json.Unmarshal(params.Configuration, &lc); err != nil {
			return fmt.Errorf("init configuration: %w", err)
		}
		config.ApplyLightningdConfig(n.v, lc)
	}
	return n.Init(ctx)
}

// Serve initializes the backend and serves JSON-RPC over HTTP until ctx is
// cancelled.
func (n *Node) Serve(ctx context.Context, addr string) error {
	if n.running.Swap(true) {
		return ErrAlreadyRunning
	}
	defer n.Close()

	if err := n.Init(ctx); err != nil {
		return err
	}
	if addr == "" {
		n.mu.Lock()
		addr = n.cfg.HTTP.Addr
		n.mu.Unlock()
	}

	rpcConfig := rpc.DefaultConfig()
	rpcConfig.Addr = addr
	srv := rpc.NewServer(rpcConfig, n.router, n.log)
	srv.Handle("/api/", dashboard.New(n))
	return srv.Start(ctx)
}

// Health returns the latest probe outcome, or false before Init.
func (n *Node) Health() (health.Status, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.monitor == nil {
		return health.Status{}, false
	}
	return n.monitor.Status(), true
}

func (n *Node) onHealthChange(healthy bool, height uint64) {
	entry := n.log.WithFields(logrus.Fields{"backend": n.Backend(), "height": height})
	if healthy {
		entry.Info("backend is healthy")
		return
	}
	st, _ := n.Health()
	entry.WithError(st.LastError).Warn("backend is unhealthy")
}

// Backend implements dashboard.NodeStats.
func (n *Node) Backend() string {
	b, err := n.registry.Active()
	if err != nil {
		return ""
	}
	return b.Kind().String()
}

// Backends implements dashboard.NodeStats.
func (n *Node) Backends() []string {
	kinds := n.registry.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.String()
	}
	return out
}

// Endpoints implements dashboard.NodeStats. Only the explorer backend
// fails over between endpoints.
func (n *Node) Endpoints() []dashboard.Endpoint {
	b, err := n.registry.Active()
	if err != nil {
		return nil
	}
	if c, ok := b.(*blockcache.Cached); ok {
		b = c.Backend
	}
	p, ok := b.(interface{ Endpoints() []esplora.Endpoint })
	if !ok {
		return nil
	}

	eps := p.Endpoints()
	out := make([]dashboard.Endpoint, len(eps))
	for i, ep := range eps {
		out[i] = dashboard.Endpoint{
			URL:       ep.URL,
			Healthy:   ep.Healthy,
			LatencyMs: ep.Latency.Milliseconds(),
		}
		if ep.LastError != nil {
			out[i].LastError = ep.LastError.Error()
		}
	}
	return out
}

// Network implements dashboard.NodeStats.
func (n *Node) Network() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cfg == nil {
		return n.v.GetString(config.KeyNetwork)
	}
	return n.cfg.Network
}

// Healthy implements dashboard.NodeStats.
func (n *Node) Healthy() (bool, uint64, bool, error, bool) {
	st, ok := n.Health()
	return st.Healthy, st.Height, st.IBD, st.LastError, ok
}

// CacheStats implements dashboard.NodeStats.
func (n *Node) CacheStats() (uint64, uint64, bool) {
	b, err := n.registry.Active()
	if err != nil {
		return 0, 0, false
	}
	c, ok := b.(*blockcache.Cached)
	if !ok {
		return 0, 0, false
	}
	hits, misses := c.Stats()
	return hits, misses, true
}

// Uptime implements dashboard.NodeStats.
func (n *Node) Uptime() time.Duration {
	return time.Since(n.started)
}

// Close stops the monitor and closes the active backend.
func (n *Node) Close() error {
	n.mu.Lock()
	monitor, cancel := n.monitor, n.cancel
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if monitor != nil {
		monitor.Stop()
	}
	n.wg.Wait()

	err := n.registry.Close()
	if err != nil && !errors.Is(err, backend.ErrNotInitialized) {
		return err
	}
	return nil
}
