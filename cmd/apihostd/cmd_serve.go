package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/estuary/apihost/go/apihost"
	"github.com/estuary/apihost/go/deadline"
	"github.com/estuary/apihost/go/dispatch"
	log "github.com/sirupsen/logrus"
	pb "go.gazette.dev/core/broker/protocol"
	mbp "go.gazette.dev/core/mainboilerplate"
	"go.gazette.dev/core/server"
	"go.gazette.dev/core/task"
)

// cmdServe boots a Dispatcher over a gRPC ApiHostClient and serves it until
// signaled to exit, grounded directly on go/flow-ingester/main.go's
// cmdServe: a gazette server.Server bound to a listening port, a task.Group
// owning the signal-watch goroutine, and a graceful stop on SIGTERM/SIGINT.
type cmdServe struct {
	HostAddress pb.Endpoint           `long:"host-address" default:"unix:///var/run/apihostd/host.sock" description:"Address of the collocated APIHost to dial"`
	Port        uint16                `long:"port" default:"8080" description:"Port to bind the dispatcher's control server on"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

func (cmd cmdServe) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(cmd.Diagnostics)()
	mbp.InitLog(cmd.Log)

	log.WithFields(log.Fields{
		"version":     mbp.Version,
		"buildDate":   mbp.BuildDate,
		"hostAddress": cmd.HostAddress,
	}).Info("apihostd configuration")

	var srv, err = server.New("", cmd.Port)
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	var host, hostErr = apihost.NewGRPCClient(cmd.HostAddress)
	if hostErr != nil {
		return fmt.Errorf("dialing APIHost: %w", hostErr)
	}
	var oracle = deadline.New()
	var _ = dispatch.New(oracle, host) // Held by the request-handling layer this binary fronts.

	var tasks = task.NewGroup(context.Background())
	srv.QueueTasks(tasks)

	log.WithField("port", cmd.Port).Info("starting apihostd")

	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	tasks.Queue("watch signalCh", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
			tasks.Cancel()
			srv.BoundedGracefulStop()
			return nil
		case <-tasks.Context().Done():
			return nil
		}
	})
	tasks.GoRun()

	if err := tasks.Wait(); err != nil {
		return fmt.Errorf("task failed: %w", err)
	}
	log.Info("apihostd exiting")
	return nil
}
