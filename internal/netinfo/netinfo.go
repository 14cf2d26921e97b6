// Package netinfo publishes the host's LAN address into the live state so
// that operators can tell listeners where to connect.
package netinfo

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-interpreter-relay/internal/state"
)

// DefaultInterval is how often the address is checked
const DefaultInterval = 10 * time.Second

// ErrNoAddress is returned when no usable IPv4 address is found
var ErrNoAddress = errors.New("no IPv4 address found")

// Detector returns the current local address
type Detector func() (string, error)

// Dispatcher is the part of the store the watcher needs
type Dispatcher interface {
	State() state.State
	Dispatch(ctx context.Context, action state.Action) state.State
}

// Watcher polls the local address and dispatches LiveInfoChanged when it
// changes
type Watcher struct {
	store    Dispatcher
	detect   Detector
	interval time.Duration
	logger   *zap.Logger
}

// New creates a watcher. A nil detect uses DetectIPv4; a non-positive
// interval uses DefaultInterval.
func New(store Dispatcher, detect Detector, interval time.Duration, logger *zap.Logger) *Watcher {
	if detect == nil {
		detect = DetectIPv4
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{
		store:    store,
		detect:   detect,
		interval: interval,
		logger:   logger.Named("netinfo"),
	}
}

// Run checks once immediately and then on every tick until ctx is done
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check detects the address and publishes it if it changed. Detection
// failures keep the last known address.
func (w *Watcher) Check(ctx context.Context) {
	ip, err := w.detect()
	if err != nil {
		w.logger.Debug("Local address not detected", zap.Error(err))
		return
	}
	if ip == "" || ip == w.store.State().Live.LocalIPAddress {
		return
	}
	w.logger.Info("Local address changed", zap.String("address", ip))
	w.store.Dispatch(context.WithoutCancel(ctx), state.LiveInfoChanged{LocalIPAddress: &ip})
}

// DetectIPv4 returns the address of the interface carrying the default
// route, falling back to the first private IPv4 address of an interface
// that is up.
func DetectIPv4() (string, error) {
	// UDP dial sends nothing; it only selects the outbound interface
	if conn, err := net.Dial("udp4", "192.0.2.1:9"); err == nil {
		addr, ok := conn.LocalAddr().(*net.UDPAddr)
		_ = conn.Close()
		if ok && usable(addr.IP) {
			return addr.IP.String(), nil
		}
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	var fallback net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || !usable(ipnet.IP) {
				continue
			}
			if ipnet.IP.IsPrivate() {
				return ipnet.IP.String(), nil
			}
			if fallback == nil {
				fallback = ipnet.IP
			}
		}
	}
	if fallback != nil {
		return fallback.String(), nil
	}
	return "", ErrNoAddress
}

func usable(ip net.IP) bool {
	return ip.To4() != nil && !ip.IsLoopback() && !ip.IsLinkLocalUnicast() && !ip.IsUnspecified()
}
