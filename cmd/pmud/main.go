// Command pmud is the synchrophasor engine's single binary entry point:
// it wires a Sample Source to the Data Processor and the Phasor Server
// and runs until interrupted.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/kb5jfs/pmud/internal/c37118"
	"github.com/kb5jfs/pmud/internal/freqrocof"
	"github.com/kb5jfs/pmud/internal/pmulog"
	"github.com/kb5jfs/pmud/internal/pmuserver"
	"github.com/kb5jfs/pmud/internal/processor"
	"github.com/kb5jfs/pmud/internal/sdft"
	"github.com/kb5jfs/pmud/internal/settings"
	"github.com/kb5jfs/pmud/internal/source"
	"github.com/lestrrat-go/strftime"
	"github.com/spf13/pflag"
)

const (
	defaultIDCode     = 17
	defaultDataRate   = 50
	defaultFnom       = 50
	defaultSamplingHz = 1200
	defaultListen     = "0.0.0.0:4712"
)

func main() {
	binaryInput := pflag.Bool("binary", false, "Input samples are raw binary Sample records (otherwise CSV).")
	rpmsg := pflag.Bool("rpmsg", false, "Read from the character device named by ADC_STREAM (device mode).")
	serialDevice := pflag.String("serial", "", "Read from an RS-232-attached ADC at this device path (e.g. /dev/ttyUSB0), instead of stdin.")
	serialBaud := pflag.Int("baud", 0, "Serial port speed in bps; 0 leaves the port's current speed alone.")
	configPath := pflag.StringP("config", "c", "", "Settings store path (YAML). Defaults to ~/.config/pmud/settings.yaml.")
	listenAddr := pflag.StringP("listen", "l", "", "Phasor server listen address, overriding the settings store's network/socket entry.")
	announce := pflag.Bool("announce", false, "Announce the phasor server via mDNS/DNS-SD.")
	help := pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "pmud - synchrophasor measurement and publication engine\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		return
	}

	startupBanner()

	store, err := loadSettings(*configPath)
	if err != nil {
		pmulog.For("main").Fatalf("loading settings: %v", err)
	}

	src, err := openSource(*binaryInput, *rpmsg, *serialDevice, *serialBaud)
	if err != nil {
		pmulog.For("main").Fatalf("opening sample source: %v", err)
	}
	defer src.Close()

	sdftEstimator, err := sdft.New(defaultSamplingHz, defaultFnom)
	if err != nil {
		pmulog.For("main").Fatalf("constructing sliding-DFT estimator: %v", err)
	}
	freqEstimator := freqrocof.New()
	proc := processor.New(src, sdftEstimator, freqEstimator)

	addr := networkAddr(store, *listenAddr)
	srv := buildServer(addr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *announce {
		_, port := splitHostPort(addr)
		srv.Announce(ctx, "pmud", port)
	}

	proc.StartPhasorServer(ctx, srv)
	go watchForReload(ctx, proc, *configPath, *listenAddr)

	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		pmulog.For("main").Errorf("data processor exited: %v", err)
	}

	srv.Stop()
}

// buildServer constructs a fresh phasor server bound to addr with the
// engine's fixed PMU identity.
func buildServer(addr string) *pmuserver.Server {
	return pmuserver.New(addr, pmuserver.Identity{
		IDCode:      defaultIDCode,
		StationName: "PMU 1",
		Fnom50Hz:    true,
		DataRate:    defaultDataRate,
		ConfigCount: 1,
		Format:      c37118.FormatBits{},
	})
}

// watchForReload implements replace_phasor_server()'s trigger: on SIGHUP,
// network settings are re-read from configPath (or overridden by listenAddr)
// and the running phasor server is stopped, joined, and replaced with one
// bound to the new address, without disturbing the Data Processor's
// acquisition loop.
func watchForReload(ctx context.Context, proc *processor.Processor, configPath, listenAddr string) {
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)

	for {
		select {
		case <-ctx.Done():
			return
		case <-reload:
			store, err := loadSettings(configPath)
			if err != nil {
				pmulog.For("main").Warnf("reload: loading settings: %v", err)
				continue
			}
			addr := networkAddr(store, listenAddr)
			pmulog.For("main").Infof("reload: rebinding phasor server to %s", addr)
			proc.ReplacePhasorServer(ctx, buildServer(addr))
		}
	}
}

func startupBanner() {
	formatted, err := strftime.Format("%Y-%m-%d %H:%M:%S", time.Now())
	if err != nil {
		formatted = time.Now().String()
	}
	fmt.Fprintf(os.Stderr, "pmud synchrophasor engine starting at %s\n", formatted)
}

func loadSettings(path string) (*settings.Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return settings.New(""), nil
		}
		path = filepath.Join(home, ".config", "pmud", "settings.yaml")
	}
	return settings.Load(path)
}

func openSource(binary, rpmsg bool, serialDevice string, serialBaud int) (source.Source, error) {
	if rpmsg {
		devicePath := os.Getenv("ADC_STREAM")
		if devicePath == "" {
			return nil, fmt.Errorf("--rpmsg requires ADC_STREAM to name the device file")
		}
		kickLine := 0
		if v := os.Getenv("ADC_KICK_LINE"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("ADC_KICK_LINE %q is not a line offset: %v", v, err)
			}
			kickLine = n
		}
		return source.NewDeviceSource(source.DeviceOptions{
			Path:     devicePath,
			KickChip: os.Getenv("ADC_KICK_CHIP"),
			KickLine: kickLine,
		})
	}
	if serialDevice != "" {
		return source.NewSerialSource(serialDevice, serialBaud, binary)
	}
	return source.NewStdinSource(binary), nil
}

func networkAddr(store *settings.Store, override string) string {
	if override != "" {
		return override
	}
	if socket, ok := store.GetString(settings.Section("network", "socket")); ok {
		return stripScheme(socket)
	}
	return defaultListen
}

func stripScheme(socket string) string {
	for _, prefix := range []string{"tcp:", "udp:"} {
		if len(socket) > len(prefix) && socket[:len(prefix)] == prefix {
			return socket[len(prefix):]
		}
	}
	return socket
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}
