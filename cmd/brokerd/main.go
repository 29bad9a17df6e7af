// Command brokerd is the broker daemon entry point, wiring
// configuration, logging, peering, and the store registry together
// the way cmd/broker/main.go and cli.Context.Run wire the teacher's
// own services.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/memberlist"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vx-labs/broker/channel"
	"github.com/vx-labs/broker/command"
	"github.com/vx-labs/broker/config"
	"github.com/vx-labs/broker/data"
	"github.com/vx-labs/broker/peering"
	"github.com/vx-labs/broker/pubsub"
	"github.com/vx-labs/broker/store"
)

// logTransport is a placeholder channel.Transport that logs what it
// would send instead of putting it on the wire. Wiring an actual
// network transport for SendEvent/SendHandshake/SendRetransmitFailed
// is the "transport shim" spec.md §1 explicitly puts out of scope;
// this exists only so the store registry below has something to
// construct a working Master against.
type logTransport struct {
	log *zap.Logger
}

func (t *logTransport) SendHandshake(consumerID string, firstSeq channel.Seq) {
	t.log.Debug("handshake", zap.String("consumer_id", consumerID), zap.Uint64("first_seq", uint64(firstSeq)))
}
func (t *logTransport) SendEvent(consumerID string, ev channel.Event[command.Command]) {
	t.log.Debug("event", zap.String("consumer_id", consumerID), zap.Uint64("seq", uint64(ev.Seq)))
}
func (t *logTransport) SendRetransmitFailed(consumerID string, seq channel.Seq) {
	t.log.Warn("retransmit_failed", zap.String("consumer_id", consumerID), zap.Uint64("seq", uint64(seq)))
}

// ChangeEvent is the external notification spec.md §6 fans out for
// every insert/update/erase/expire, queued for any downstream consumer
// that subscribes to a store's change feed.
type ChangeEvent struct {
	Store     string
	Kind      string
	Key       data.Value
	Old       data.Value
	New       data.Value
	Publisher command.PublisherID
}

// fanoutEventSink publishes every change onto a bounded pubsub queue
// instead of blocking the master actor that raised it; a full queue
// drops the event rather than stall replication, matching spec.md
// §4.6's queue being advisory for observers, not authoritative state.
type fanoutEventSink struct {
	store string
	pub   *pubsub.Publisher[ChangeEvent]
}

func (s *fanoutEventSink) Insert(key, value data.Value, pub command.PublisherID) {
	s.pub.TryPublish(ChangeEvent{Store: s.store, Kind: "insert", Key: key, New: value, Publisher: pub})
}
func (s *fanoutEventSink) Update(key, old, new data.Value, pub command.PublisherID) {
	s.pub.TryPublish(ChangeEvent{Store: s.store, Kind: "update", Key: key, Old: old, New: new, Publisher: pub})
}
func (s *fanoutEventSink) Erase(key data.Value, pub command.PublisherID) {
	s.pub.TryPublish(ChangeEvent{Store: s.store, Kind: "erase", Key: key, Publisher: pub})
}
func (s *fanoutEventSink) Expire(key data.Value, pub command.PublisherID) {
	s.pub.TryPublish(ChangeEvent{Store: s.store, Kind: "expire", Key: key, Publisher: pub})
}

func main() {
	root := &cobra.Command{
		Use:   "brokerd",
		Short: "run a broker node",
		RunE:  run,
	}
	config.AddFlags(root)
	root.Flags().String("node-id", "", "this node's id (random if unset)")
	root.Flags().String("data-dir", "./data", "directory for on-disk store backends")
	root.Flags().StringSlice("store", []string{"kv"}, "names of stores this node masters")
	root.Flags().Int("gossip-port", 7946, "memberlist gossip bind port")
	root.Flags().Int("metrics-port", 9100, "HTTP port serving /metrics")
	viper.BindPFlag("node-id", root.Flags().Lookup("node-id"))
	viper.BindPFlag("data-dir", root.Flags().Lookup("data-dir"))
	viper.BindPFlag("store", root.Flags().Lookup("store"))
	viper.BindPFlag("gossip-port", root.Flags().Lookup("gossip-port"))
	viper.BindPFlag("metrics-port", root.Flags().Lookup("metrics-port"))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts := config.FromViper()
	nodeID := viper.GetString("node-id")
	if nodeID == "" {
		nodeID = uuid.New().String()
	}
	dataDir := viper.GetString("data-dir")
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return err
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = nodeID
	mlConfig.BindPort = viper.GetInt("gossip-port")
	mlConfig.AdvertisePort = mlConfig.BindPort

	p := peering.New(nil, logger)
	mlConfig.Events = p // must be wired before Create so join/leave notifications reach p
	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return err
	}
	p.Bind(ml)
	p.Forward(opts.Forward...)
	defer p.Shutdown()

	registry := prometheus.NewRegistry()

	self := command.PublisherID{NodeID: nodeID, ActorID: "master"}
	masters := map[string]*store.Master{}
	for _, name := range viper.GetStringSlice("store") {
		backend, err := store.NewBoltBackend(store.BoltOptions{Path: filepath.Join(dataDir, name+".db")})
		if err != nil {
			return err
		}
		transport := &logTransport{log: logger.Named(name)}
		changes := pubsub.NewSubscriber[ChangeEvent](256)
		sink := &fanoutEventSink{store: name, pub: changes.NewPublisher()}
		m := store.NewMaster(name, backend, transport, nil, self, sink, nil, logger.Named(name))
		masters[name] = m
		registry.MustRegister(pubsub.NewCollector(name, changes))
		logger.Info("store ready", zap.String("store", name))
	}

	metricsPort := viper.GetInt("metrics-port")
	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		addr := net.JoinHostPort("", strconv.Itoa(metricsPort))
		if err := http.ListenAndServe(addr, nil); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		for _, m := range masters {
			m.ScanExpiries(now)
		}
	}
	return nil
}
