package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/asayers/tailsrv/internal/buildinfo"
	"github.com/asayers/tailsrv/internal/engine"
	"github.com/asayers/tailsrv/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		port          = pflag.IntP("port", "p", 0, "TCP port to listen on (required, 1-65535)")
		verbosity     = pflag.CountP("verbose", "v", "increase log verbosity (repeatable)")
		quiet         = pflag.BoolP("quiet", "q", false, "suppress all but error logs")
		journal       = pflag.Bool("journal", false, "send logs to the systemd journal instead of stderr")
		pipeCapacity  = pflag.Int("pipe-capacity", 64*1024, "size in bytes of each client's kernel pipe buffer")
		keepAlive     = pflag.Duration("keepalive", 0, "TCP keepalive probe interval (0 = OS default)")
		shutdownGrace = pflag.Duration("shutdown-grace", 5*time.Second, "how long to let clients finish draining on shutdown")
		version       = pflag.BoolP("version", "V", false, "print version and exit")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] FILE\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Stream appends to FILE to any number of TCP clients.\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *version {
		fmt.Println(buildinfo.String())
		return 0
	}
	if pflag.NArg() != 1 {
		pflag.Usage()
		return 2
	}
	path := pflag.Arg(0)
	if *port < 1 || *port > 65535 {
		fmt.Fprintf(os.Stderr, "tailsrv: -p/--port is required and must be in 1-65535\n")
		pflag.Usage()
		return 2
	}

	log, err := logging.New(logging.Options{
		Verbosity: *verbosity,
		Quiet:     *quiet,
		Env:       os.Getenv("TAILSRV_LOG"),
		Journal:   *journal,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "tailsrv: %v\n", err)
		return 1
	}
	defer log.Sync()

	log.Info("starting", zap.String("version", buildinfo.Version), zap.String("file", path), zap.Int("port", *port))

	eng, err := engine.New(log, engine.Config{
		Path:          path,
		Port:          *port,
		PipeCapacity:  *pipeCapacity,
		KeepAlive:     *keepAlive,
		ShutdownGrace: *shutdownGrace,
	})
	if err != nil {
		log.Error("failed to start", zap.Error(err))
		return 1
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		eng.RequestShutdown(fmt.Sprintf("received signal %v", s))
	}()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug("systemd readiness notification not sent", zap.Error(err))
	}

	if err := eng.Run(); err != nil {
		log.Error("engine stopped with error", zap.Error(err))
		return 1
	}
	return 0
}
