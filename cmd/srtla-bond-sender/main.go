// Command srtla-bond-sender is the bonding client: it reads SRT from a
// local encoder, fans it out across every usable network path to an
// SRTLA aggregation server, and folds the server's ACK/NAK feedback back
// into per-link congestion control and scheduling.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	_ "net/http/pprof" // Support profiling

	"github.com/srtlabond/bond/bondcfg"
	"github.com/srtlabond/bond/iface"
	"github.com/srtlabond/bond/linkstate"
	"github.com/srtlabond/bond/logbuf"
	"github.com/srtlabond/bond/session"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	promPort    = flag.String("prom", ":9090", "Prometheus metrics export address and port.")
	snapshotLog = flag.String("snapshot-log", "", "Path to append JSON-lines per-link connection-status snapshots to. Empty disables it.")
)

// classifyInterface applies the conventional Linux naming scheme for the
// three transport types the scheduler's priority table understands.
// Anything else is left TransportUnknown, which is still usable -- just
// scored at the lowest scheduler priority.
func classifyInterface(name string) linkstate.TransportType {
	switch {
	case len(name) >= 4 && name[:4] == "wlan":
		return linkstate.TransportWiFi
	case len(name) >= 5 && name[:5] == "rmnet":
		return linkstate.TransportCellular
	case len(name) >= 3 && (name[:3] == "eth" || name[:3] == "enp"):
		return linkstate.TransportEthernet
	default:
		return linkstate.TransportUnknown
	}
}

func main() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	promSrv := prometheusx.MustStartPrometheus(*promPort)
	defer promSrv.Shutdown(ctx)

	cfg, err := bondcfg.Load()
	rtx.Must(err, "Invalid configuration")

	logger := logbuf.New(logbuf.DefaultCapacity)
	provider := &iface.LinuxProvider{Classify: classifyInterface}

	sess, err := session.New(cfg, provider, logger, nil)
	rtx.Must(err, "Could not start session")

	if *snapshotLog != "" {
		f, err := os.OpenFile(*snapshotLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		rtx.Must(err, "Could not open snapshot log %q", *snapshotLog)
		defer f.Close()
		sess.SetSnapshotLog(f)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		sess.Stop()
	}()

	rtx.Must(sess.Run(), "Session exited with an error")
}
