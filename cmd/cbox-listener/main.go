// Command cbox-listener runs the host-side callback listener. It accepts
// CALLBACK commands on a vsock port (or a TCP address for development) and
// either answers them with built-in handlers or relays them to an HTTP
// callback endpoint.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/mdlayher/vsock"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cbox-guest/config"
	"cbox-guest/listener"
	"cbox-guest/middleware"
	"cbox-guest/protocol"
	"cbox-guest/transport"
)

var (
	configFile  string
	port        uint32
	tcpAddr     string
	forwardURL  string
	vmName      string
	rateLimit   float64
	shutdownTTL = 5 * time.Second
)

var rootCmd = &cobra.Command{
	Use:   "cbox-listener",
	Short: "Serve guest callback commands on a vsock port",
	RunE:  run,

	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "config file with a hostservices.listener section")
	rootCmd.Flags().Uint32Var(&port, "port", transport.DefaultPort, "vsock port to listen on")
	rootCmd.Flags().StringVar(&tcpAddr, "tcp", "", "listen on a TCP address instead of vsock")
	rootCmd.Flags().StringVar(&forwardURL, "forward", "", "relay unhandled callbacks to this HTTP endpoint")
	rootCmd.Flags().StringVar(&vmName, "vm-name", "", "guest name reported in forwarded callbacks")
	rootCmd.Flags().Float64Var(&rateLimit, "rate-limit", 0, "max callbacks per second (0 disables)")
}

func run(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		cfg, err := config.GetListenerConfig(configFile)
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("port") {
			port = cfg.Port
		}
		if !cmd.Flags().Changed("forward") {
			forwardURL = cfg.CallbackURL
		}
		if !cmd.Flags().Changed("vm-name") {
			vmName = cfg.VMName
		}
	}

	srv := listener.NewServer()
	srv.Use(middleware.Logging(nil))
	if rateLimit > 0 {
		srv.Use(middleware.RateLimit(rateLimit, int(rateLimit)+1))
	}

	srv.Handle("ping", func(ctx context.Context, req *protocol.Request) (any, error) {
		return "pong", nil
	})
	if forwardURL != "" {
		srv.HandleDefault(listener.HTTPForwarder(forwardURL, vmName, nil))
	}

	lis, err := listen()
	if err != nil {
		return err
	}

	// Signal-driven graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithFields(log.Fields{
			"signal": sig.String(),
		}).Info("Shutting down")
		daemon.SdNotify(false, daemon.SdNotifyStopping)
		srv.Shutdown(shutdownTTL)
	}()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.WithError(err).Warn("Failed to notify systemd")
	}

	return srv.Serve(lis)
}

func listen() (net.Listener, error) {
	if tcpAddr != "" {
		lis, err := net.Listen("tcp", tcpAddr)
		if err != nil {
			return nil, fmt.Errorf("listen on tcp(%s): %w", tcpAddr, err)
		}
		return lis, nil
	}

	lis, err := vsock.Listen(port, nil)
	if err != nil {
		return nil, fmt.Errorf("listen on vsock port %d: %w", port, err)
	}
	return lis, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("Listener failed")
	}
}
