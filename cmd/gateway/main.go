// Command gateway is a demo embedder for the EEBUS core: it wires
// config, logging, trust storage, the wsadapter WebSocket transport and one
// illustrative Measurement feature into a running Node, and exposes
// Prometheus metrics over HTTP. It is a demonstration of how to embed the
// core, not a spec'd component itself.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/philipptrenz/openeebus-sub004/internal/config"
	"github.com/philipptrenz/openeebus-sub004/internal/demo"
	"github.com/philipptrenz/openeebus-sub004/internal/logging"
	"github.com/philipptrenz/openeebus-sub004/internal/node"
	"github.com/philipptrenz/openeebus-sub004/internal/ship/wsadapter"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/address"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/device"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/events"
	"github.com/philipptrenz/openeebus-sub004/internal/spine/model"
	"github.com/philipptrenz/openeebus-sub004/internal/trust"
)

// measurementNotifyInterval is how often the demo Measurement feature's
// reading jitters and is pushed to current subscribers.
const measurementNotifyInterval = 10 * time.Second

var (
	flagPort        int
	flagRole        string
	flagSKI         string
	flagTrustFile   string
	flagServiceName string
)

func main() {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "Run a demo EEBUS node",
		RunE:  run,
	}
	root.Flags().IntVar(&flagPort, "port", 0, "WebSocket listen port (0: use configuration/default)")
	root.Flags().StringVar(&flagRole, "role", "", "connection role: server, client or auto")
	root.Flags().StringVar(&flagSKI, "ski", "", "this node's own SKI (overrides configuration)")
	root.Flags().StringVar(&flagTrustFile, "trust-file", "", "path to the trusted-SKI JSON file")
	root.Flags().StringVar(&flagServiceName, "service-name", "", "service name advertised to peers")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logging.InitLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("gateway: load configuration: %w", err)
	}
	applyFlagOverrides(cfg)

	log := slog.Default().With("component", "cmd.gateway")

	trustStore, err := trust.Open(cfg.TrustFile, log)
	if err != nil {
		return fmt.Errorf("gateway: open trust store: %w", err)
	}
	defer trustStore.Close()

	tlsCert, err := selfSignedCertificate(cfg.SKI)
	if err != nil {
		return fmt.Errorf("gateway: generate TLS identity: %w", err)
	}

	bus := events.NewBus()
	localDevice := address.Device(cfg.SKI)
	localDeviceLocal := device.NewDeviceLocal(localDevice, bus)

	measurement := demo.NewMeasurement()
	localDeviceLocal.AddEntity(demo.NewEntity(localDevice, []uint{1}, 1, measurement))

	n := node.New(node.Config{
		Role:            roleFromConfig(cfg.Role),
		LocalSKI:        cfg.SKI,
		LocalShipID:     cfg.ServiceName,
		Device:          localDeviceLocal,
		Bus:             bus,
		Trust:           trustStore,
		HelloTimeout:    time.Duration(cfg.HelloTimeoutMS) * time.Millisecond,
		CloseTimeout:    time.Duration(cfg.CloseTimeoutMS) * time.Millisecond,
		ResponseTimeout: time.Duration(cfg.DefaultResponseTimeoutMS) * time.Millisecond,
		Dialer: &wsadapter.Dialer{TLSConfig: &tls.Config{
			Certificates:       []tls.Certificate{tlsCert},
			InsecureSkipVerify: true, // pairing trust is enforced by SKI, not by CA chain
		}},
		Logger: log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("gateway: start node: %w", err)
	}

	measurementAddr := address.Feature{Entity: address.Entity{Device: localDevice, ID: []uint{1}}, ID: 1}
	go runMeasurementNotifyLoop(ctx, log, localDeviceLocal, n, measurement, measurementAddr)

	upgrader := wsadapter.NewUpgrader()
	mux := http.NewServeMux()
	mux.HandleFunc("/ship", func(w http.ResponseWriter, r *http.Request) {
		conn, peerSKI, err := upgrader.Accept(w, r)
		if err != nil {
			log.Warn("inbound upgrade failed", "event", "gateway.upgrade_error", "err", err)
			return
		}
		if err := n.AcceptInbound(ctx, conn, peerSKI); err != nil {
			log.Warn("inbound peer rejected", "event", "gateway.accept_error", "err", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{tlsCert},
			ClientAuth:   tls.RequireAnyClientCert,
		},
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", "event", "gateway.listen", "addr", srv.Addr)
		serveErr <- srv.ListenAndServeTLS("", "")
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			log.Error("server error", "event", "gateway.serve_error", "err", err)
		}
	}

	log.Info("shutting down", "event", "gateway.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("forced shutdown", "event", "gateway.shutdown_forced", "err", err)
	}
	n.Stop()
	return nil
}

// runMeasurementNotifyLoop jitters the demo Measurement reading on a timer
// and fans the update out to current subscribers, the same
// cache-update-then-lookup-then-send shape dispatcher.fanOutNotify uses for
// inbound notifies, triggered here by a local tick instead.
func runMeasurementNotifyLoop(ctx context.Context, log *slog.Logger, localDeviceLocal *device.DeviceLocal, n *node.Node, measurement *demo.Measurement, addr address.Feature) {
	ticker := time.NewTicker(measurementNotifyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reading := measurement.Jitter()
			cmd := model.Cmd{Function: model.FunctionMeasurementListData, MeasurementListData: &reading}
			subscribers, err := localDeviceLocal.UpdateFeatureCacheAndCollectSubscribers(addr, cmd.Function, cmd)
			if err != nil {
				log.Warn("measurement notify: cache update failed", "event", "gateway.notify_error", "err", err)
				continue
			}
			for _, client := range subscribers {
				s, ok := n.SenderFor(client.Entity.Device)
				if !ok {
					continue
				}
				if err := s.Notify(addr, client, cmd); err != nil {
					log.Warn("measurement notify failed", "event", "gateway.notify_error", "dest", client, "err", err)
				}
			}
		}
	}
}

func applyFlagOverrides(cfg *config.NodeConfig) {
	if flagPort != 0 {
		cfg.Port = flagPort
	}
	if flagRole != "" {
		cfg.Role = flagRole
	}
	if flagSKI != "" {
		cfg.SKI = flagSKI
	}
	if flagTrustFile != "" {
		cfg.TrustFile = flagTrustFile
	}
	if flagServiceName != "" {
		cfg.ServiceName = flagServiceName
	}
}

func roleFromConfig(role string) node.Role {
	switch role {
	case "server":
		return node.RoleServer
	case "client":
		return node.RoleClient
	default:
		return node.RoleAuto
	}
}

// selfSignedCertificate generates an in-memory, self-signed TLS identity
// carrying ski as its Subject Key Identifier, so wsadapter's SKI extraction
// has something real to read. Certificate management proper is outside the
// core's scope (see SPEC_FULL.md's Non-goals); this is the demo's minimal
// stand-in.
func selfSignedCertificate(ski string) (tls.Certificate, error) {
	skiBytes, err := hex.DecodeString(ski)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("ski %q is not a hex string: %w", ski, err)
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: ski},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          skiBytes,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}
