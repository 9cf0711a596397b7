package pmuserver

import (
	"context"

	"github.com/brutella/dnssd"
)

// dnssdServiceType is the DNS-SD service type PMU concentrators browse
// for on the local network.
const dnssdServiceType = "_synchrophasor._tcp"

// Announce registers the server's TCP port for mDNS/DNS-SD discovery under
// name, using the same pure-Go library and responder pattern the teacher
// uses to announce its KISS TCP port. Discovery failures are logged and
// otherwise ignored: announcement is additive and never gates the state
// machine in Run.
func (s *Server) Announce(ctx context.Context, name string, port int) {
	cfg := dnssd.Config{
		Name: name,
		Type: dnssdServiceType,
		Port: port,
	}

	service, err := dnssd.NewService(cfg)
	if err != nil {
		log.Warnf("dns-sd: failed to create service: %v", err)
		return
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		log.Warnf("dns-sd: failed to create responder: %v", err)
		return
	}

	if _, err := responder.Add(service); err != nil {
		log.Warnf("dns-sd: failed to add service: %v", err)
		return
	}

	log.Infof("dns-sd: announcing synchrophasor TCP on port %d as %q", port, name)

	go func() {
		if err := responder.Respond(ctx); err != nil {
			log.Warnf("dns-sd: responder error: %v", err)
		}
	}()
}
