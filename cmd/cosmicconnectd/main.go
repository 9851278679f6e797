// Command cosmicconnectd is the daemon entrypoint wiring the
// certificate store, device registry, discovery service, pairing
// handler, connection manager, and plugin dispatcher together. It
// takes no flags, per SPEC_FULL.md's Non-goals on CLI/admin surfaces:
// discovery and the connection manager run with their DefaultConfig
// values, and only the device identity and paired set are read from
// the config directory. Grounded in spirit on the teacher's
// main.go (hostname as default device name, engine wiring) stripped of
// the Fyne GUI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/certstore"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/discovery"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/events"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/manager"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/pairing"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/plugin"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/protocol"
	"github.com/olafkfreund/cosmic-connect-desktop-app/internal/registry"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("daemon exited with error", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	configDir, err := configDirectory()
	if err != nil {
		return err
	}

	reg, err := registry.Load(configDir)
	if err != nil {
		return err
	}

	certInfo, err := loadOrCreateIdentity(configDir, reg)
	if err != nil {
		return err
	}
	tlsCert, err := certInfo.TLSCertificate()
	if err != nil {
		return err
	}

	bus := events.NewBus(64)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	discSvc := discovery.New(discovery.DefaultConfig(), reg, bus, log.Named("discovery"))

	pairingHandler := pairing.New(reg, bus)
	discSvc.OnSweep = pairingHandler.SweepTimeouts

	if err := discSvc.Start(ctx); err != nil {
		return err
	}

	mgr := manager.New(manager.DefaultConfig(), reg, bus, tlsCert, log.Named("manager"))
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Stop()

	pairingListener := pairing.NewListener(pairingHandler, mgr, bus, log.Named("pairing"))
	pairingStop := make(chan struct{})
	go pairingListener.Run(pairingStop)
	defer close(pairingStop)

	dispatcher := plugin.NewDispatcher(plugin.DefaultRegistry(), mgr, bus, log.Named("plugin"))
	dispatcherStop := make(chan struct{})
	go dispatcher.Run(dispatcherStop)
	defer close(dispatcherStop)

	go autoConnectPairedDevices(ctx, bus, mgr, reg, log)

	log.Info("daemon started",
		zap.String("deviceId", reg.OwnIdentity().DeviceID),
		zap.Int("discoveryPort", discSvc.BoundPort()))

	<-ctx.Done()
	log.Info("shutting down")
	return reg.Save()
}

// autoConnectPairedDevices dials a paired device as soon as it shows
// up on discovery and isn't already connected.
func autoConnectPairedDevices(ctx context.Context, bus *events.Bus, mgr *manager.Manager, reg *registry.Registry, log *zap.Logger) {
	sub := bus.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-sub.C():
			d, ok := evt.(discovery.DeviceDiscovered)
			if !ok {
				if u, ok := evt.(discovery.DeviceUpdated); ok {
					d = discovery.DeviceDiscovered(u)
				} else {
					continue
				}
			}
			if dev, ok := reg.Get(d.Info.DeviceID); !ok || dev.PairingStatus != registry.Paired {
				continue
			}
			if mgr.IsConnected(d.Info.DeviceID) {
				continue
			}
			if err := mgr.Connect(d.Info.DeviceID); err != nil {
				log.Debug("auto-connect skipped", zap.String("device", d.Info.DeviceID), zap.Error(err))
			}
		}
	}
}

func configDirectory() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := base + "/cosmic-connect-desktop-app"
	return dir, nil
}

func loadOrCreateIdentity(configDir string, reg *registry.Registry) (certstore.Info, error) {
	identity := reg.OwnIdentity()
	if identity.DeviceID != "" {
		return certstore.Load(configDir, identity.DeviceID)
	}

	deviceID := uuid.NewString()
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "cosmic-connect-desktop"
	}

	info, err := certstore.Generate(deviceID)
	if err != nil {
		return certstore.Info{}, err
	}
	if err := certstore.Save(configDir, info); err != nil {
		return certstore.Info{}, err
	}

	newIdentity := protocol.DeviceInfo{
		DeviceID:        deviceID,
		DeviceName:      hostname,
		DeviceType:      protocol.DeviceTypeDesktop,
		ProtocolVersion: protocol.ProtocolVersion,
		TCPPort:         manager.DefaultConfig().ListenPort,
		IncomingCapabilities: []string{
			"kdeconnect.ping", "kdeconnect.battery", "kdeconnect.battery.request",
		},
		OutgoingCapabilities: []string{
			"kdeconnect.ping", "kdeconnect.battery", "kdeconnect.battery.request",
		},
	}
	if err := reg.SetOwnIdentity(newIdentity); err != nil {
		return certstore.Info{}, err
	}

	return info, nil
}
