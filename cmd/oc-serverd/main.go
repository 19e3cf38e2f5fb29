// The oc-serverd daemon runs a single OpenCluster node: it loads its
// own conninfo and peer list, decides whether it is founding a new
// cluster or joining an existing one, serves client and peer traffic,
// and exposes operational metrics (spec.md §6's CLI surface).
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/aristanetworks/glog"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/netutil"

	"github.com/opencluster/opencluster/dscp"
	"github.com/opencluster/opencluster/internal/config"
	"github.com/opencluster/opencluster/internal/daemon"
	"github.com/opencluster/opencluster/internal/eventlog"
	"github.com/opencluster/opencluster/internal/logger/glogadapter"
	"github.com/opencluster/opencluster/internal/monitor"
	"github.com/opencluster/opencluster/internal/node"
	"github.com/opencluster/opencluster/internal/server"
)

var (
	connInfoFlag  = flag.String("l", "", "Path to this node's conninfo descriptor (required)")
	peerFlags     stringList
	daemonizeFlag = flag.Bool("d", false, "Accepted for command-line compatibility; the process stays in the foreground")
	userFlag      = flag.String("u", "", "Drop privileges to this user after binding")
	pidFileFlag   = flag.String("P", "", "Path to write the daemon's PID to")
	logFileFlag   = flag.String("g", "", "Path to a log file; accepted but not used, glog's own flags decide where logs go")
	maxMBFlag     = flag.Int("m", 0, "Soft memory cap in MB; 0 for unlimited")
	verboseFlag   countFlag
	maxConnsFlag  = flag.Int("c", 0, "Maximum simultaneous connections; 0 for unlimited")
	tuningFlag    = flag.String("tuning", "", "Path to an optional YAML tuning file")
	monitorFlag   = flag.String("monitor-addr", "", "Address to serve /metrics and /debug on; empty to disable")
	kafkaFlag     = flag.String("eventlog-brokers", "", "Comma-separated Kafka broker addresses for ownership-change events; empty to disable")
)

// stringList accumulates a repeatable string flag (-n).
type stringList []string

func (l *stringList) String() string { return fmt.Sprint([]string(*l)) }
func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// countFlag counts how many times -v was given (spec.md: "-v (repeatable
// to increase verbosity)").
type countFlag int

func (c *countFlag) String() string { return fmt.Sprint(int(*c)) }
func (c *countFlag) Set(string) error {
	*c++
	return nil
}

func main() {
	flag.Var(&peerFlags, "n", "Path to a peer's conninfo descriptor (repeatable)")
	flag.Var(&verboseFlag, "v", "Increase log verbosity; repeatable")
	flag.Parse()

	if *connInfoFlag == "" {
		fmt.Fprintln(os.Stderr, "oc-serverd: -l <conninfo-file> is required")
		os.Exit(1)
	}

	self, err := config.LoadConnInfo(*connInfoFlag)
	if err != nil {
		glog.Errorf("oc-serverd: %s", err)
		os.Exit(1)
	}
	peers, err := config.LoadPeers(peerFlags)
	if err != nil {
		glog.Errorf("oc-serverd: %s", err)
		os.Exit(1)
	}
	tuning, err := config.LoadTuning(*tuningFlag)
	if err != nil {
		glog.Errorf("oc-serverd: %s", err)
		os.Exit(1)
	}

	if *maxMBFlag > 0 {
		debug.SetMemoryLimit(int64(*maxMBFlag) << 20)
	}

	if *daemonizeFlag {
		// Real daemonization (fork+setsid+redirect std streams) is a
		// platform-specific concern the teacher's cmd/ mains never needed
		// (they all run foreground under a supervisor); -d is accepted
		// for CLI-surface completeness and currently only logs its
		// intent, matching spec.md's framing of daemonization as an
		// external collaborator (spec.md §1 Non-goals).
		glog.Info("oc-serverd: -d given; running in foreground (see DESIGN.md)")
	}
	if *pidFileFlag != "" {
		if err := daemon.WritePIDFile(*pidFileFlag); err != nil {
			glog.Errorf("oc-serverd: %s", err)
			os.Exit(1)
		}
		defer daemon.RemovePIDFile(*pidFileFlag)
	}

	log := &glogadapter.Glog{InfoLevel: glog.Level(int32(verboseFlag))}

	tcpAddr, err := net.ResolveTCPAddr("tcp", self.Addr())
	if err != nil {
		glog.Errorf("oc-serverd: resolve %s: %s", self.Addr(), err)
		os.Exit(1)
	}
	// Mark inbound peer traffic CS6 too, the same class DialPeer already
	// marks its outbound connections (internal/server.ClusterTrafficTOS),
	// so a migration stream gets priority in both directions of a link.
	tcpLn, err := dscp.ListenTCPWithTOSLogger(tcpAddr, server.ClusterTrafficTOS, log)
	if err != nil {
		glog.Errorf("oc-serverd: listen on %s: %s", self.Addr(), err)
		os.Exit(1)
	}
	var ln net.Listener = tcpLn
	if *maxConnsFlag > 0 {
		ln = netutil.LimitListener(ln, *maxConnsFlag)
	}

	if *userFlag != "" {
		if err := daemon.DropPrivileges(*userFlag); err != nil {
			glog.Errorf("oc-serverd: dropping privileges to %s: %s", *userFlag, err)
			os.Exit(1)
		}
	}

	var srv *server.Server
	if len(peers) == 0 {
		glog.Infof("oc-serverd: no peers configured, founding a new cluster as %s", self.Name)
		srv = server.NewFounder(self, uint64(tuning.InitialMask), int64(tuning.TransitMax), log)
	} else {
		glog.Infof("oc-serverd: %d peer(s) configured, joining as %s", len(peers), self.Name)
		srv = server.NewJoiner(self, uint64(tuning.InitialMask), int64(tuning.TransitMax), log)
	}
	for _, p := range peers {
		srv.Nodes.Add(node.New(p.Name, p))
	}

	var sink *eventlog.Sink
	if *kafkaFlag != "" {
		sink, err = eventlog.New(strings.Split(*kafkaFlag, ","), "opencluster-ownership", log)
		if err != nil {
			glog.Errorf("oc-serverd: eventlog: %s", err)
		} else {
			sink.Start()
			defer sink.Stop()
		}
	}

	if *monitorFlag != "" {
		reg := prometheus.NewRegistry()
		gauges := monitor.NewGauges(reg)
		mon := monitor.New(*monitorFlag, reg, log)
		go func() {
			if err := mon.Run(); err != nil {
				glog.Errorf("oc-serverd: monitor server: %s", err)
			}
		}()
		go reportGauges(srv, gauges)
	}

	loop := server.NewLoop(srv, time.Duration(tuning.LoadLevelIntervalSeconds)*time.Second)
	ctx := context.Background()
	for _, p := range peers {
		n := srv.Nodes.Get(p.Name)
		go loop.DialPeer(ctx, n)
	}
	if len(peers) > 0 {
		go settleOrFound(loop, srv, self.Name, time.Duration(tuning.SettleTimeoutSeconds)*time.Second)
	}

	glog.Infof("oc-serverd: serving on %s", self.Addr())
	if err := loop.Serve(ctx, ln); err != nil {
		glog.Errorf("oc-serverd: %s", err)
		os.Exit(1)
	}
}

// settleOrFound implements the other half of spec.md §4's lifecycle
// rule: peers were configured, but if none of them is reachable within
// the settle timeout, this node founds the cluster itself rather than
// waiting on hashmask broadcasts that will never come.
func settleOrFound(loop *server.Loop, srv *server.Server, selfName string, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	time.Sleep(timeout)
	loop.RunOnLoop(func() {
		if srv.Nodes.ActiveCount() > 1 {
			return // at least one configured peer answered; stay a joiner
		}
		glog.Infof("oc-serverd: no configured peer reachable within %s, founding as %s", timeout, selfName)
		srv.BecomeFounder()
	})
}

// reportGauges samples srv's bucket ownership and peer counts into the
// monitor's Prometheus gauges once a second. Run as its own goroutine
// since Server itself must only ever be mutated from the event loop
// (spec.md §6); this only reads.
func reportGauges(srv *server.Server, g *monitor.Gauges) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		li := srv.LoadInfo()
		g.PrimaryCount.Set(float64(li.Primary))
		g.SecondaryCount.Set(float64(li.Secondary))
		g.NoBackupCount.Set(float64(srv.Buckets.NoBackupCount()))
		if li.Transferring {
			g.Transferring.Set(1)
		} else {
			g.Transferring.Set(0)
		}
		g.PeerCount.Set(float64(srv.Nodes.ActiveCount() - 1)) // ActiveCount includes this node
	}
}
