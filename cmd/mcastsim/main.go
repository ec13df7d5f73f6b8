/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Command mcastsim drives the forwarder engine over the deterministic
// simstack adapter: no real sockets, no wall-clock time, just a virtual
// clock that jumps from one scheduled callback to the next while the
// Trickle timers run and the Prometheus counters are served over HTTP. No
// datagrams are injected, so the packet pools stay empty.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/kfathallah/contiki-mcast/adapters/simstack"
	"github.com/kfathallah/contiki-mcast/engine"
	"github.com/kfathallah/contiki-mcast/metrics"
)

func main() {
	var (
		listen     = flag.String("listen", ":9091", "address to serve /metrics on")
		ticks      = flag.Uint64("ticks", 100000, "number of virtual ticks to advance before exiting")
		iMin       = flag.Uint("imin", 16, "IMIN in ticks, both parametrizations")
		iMax       = flag.Uint("imax", 8, "IMAX doublings, both parametrizations")
		shortSeeds = flag.Bool("short-seeds", true, "use 16-bit short seed ids instead of source addresses")
		mtu        = flag.Int("mtu", 1280, "simulated link MTU")
	)
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "mcastsim"
	}

	cfg := engine.Config{
		Params: [2]engine.ParamConfig{
			{IMin: uint32(*iMin), IMax: uint8(*iMax), K: 4, TActive: 2, TDwell: 4},
			{IMin: uint32(*iMin), IMax: uint8(*iMax), K: 4, TActive: 2, TDwell: 4},
		},
		Wins:       16,
		BuffNum:    32,
		ShortSeeds: *shortSeeds,
		ICMPCode:   0,
		IPHopLimit: engine.DefaultIPHopLimit,
	}

	stats := &metrics.Stats{}
	collector := metrics.NewCollector(stats, "mcast", prometheus.Labels{
		"app":      "mcastsim",
		"hostname": hostname,
		"trace":    xid.New().String(),
	})
	prometheus.MustRegister(collector)

	stack := simstack.NewStack(*mtu)
	stack.SetLinkLocalAddress(net.ParseIP("fe80::1"))
	clock := &simstack.Clock{}
	sched := simstack.NewScheduler(clock)
	rng := simstack.NewRNG(1)

	eng := engine.New(cfg, stack, clock, rng, sched, simstack.Watchdog{}, stats, log)
	eng.Init()

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.WithField("listen", *listen).Info("serving metrics")
		if err := http.ListenAndServe(*listen, nil); err != nil {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()

	for clock.Ticks() < *ticks {
		if !sched.Fire() {
			break
		}
	}

	snap := stats.Snapshot()
	fmt.Printf("ticks=%d mcast_fwd=%d icmp_out=%d icmp_in=%d mcast_bad=%d\n",
		clock.Ticks(), snap.McastFwd, snap.IcmpOut, snap.IcmpIn, snap.McastBad)
}
