// Command cbox-callback invokes a single callback method on the host-side
// listener from inside a guest, for use by shell scripts.
//
//	cbox-callback get_time
//	cbox-callback process '{"data": "hello"}'
//
// The JSON-encoded result goes to stdout and the exit code is 0; on any
// failure an "Error: ..." line goes to stderr and the exit code is 1.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cbox-guest/callback"
	"cbox-guest/config"
	"cbox-guest/middleware"
	"cbox-guest/transport"
)

var (
	configFile string
	hostCID    uint32
	port       uint32
	tcpAddr    string
	timeout    time.Duration
	async      bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "cbox-callback <method> [params-json]",
	Short: "Invoke a callback method on the host-side listener",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  run,

	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "config file with a hostservices.guest section")
	rootCmd.Flags().Uint32Var(&hostCID, "cid", transport.HostContextID, "host vsock context identifier")
	rootCmd.Flags().Uint32Var(&port, "port", transport.DefaultPort, "listener vsock port")
	rootCmd.Flags().StringVar(&tcpAddr, "tcp", "", "connect to a TCP listener address instead of vsock")
	rootCmd.Flags().DurationVar(&timeout, "timeout", callback.DefaultTimeout, "per-operation timeout")
	rootCmd.Flags().BoolVar(&async, "async", false, "fire-and-forget: do not wait for a result")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log each call at debug level")
}

func run(cmd *cobra.Command, args []string) error {
	method := args[0]

	// Reject malformed params before any connection is attempted.
	var params map[string]any
	if len(args) > 1 {
		if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
			return fmt.Errorf("invalid JSON parameters: %v", err)
		}
	}

	opts, err := clientOptions(cmd)
	if err != nil {
		return err
	}
	cb := callback.New(opts...)

	if async {
		cb.CallAsync(method, params)
		return nil
	}

	result, err := cb.Call(context.Background(), method, params)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %v", err)
	}
	fmt.Println(string(encoded))
	return nil
}

func clientOptions(cmd *cobra.Command) ([]callback.Option, error) {
	endpoint := transport.Endpoint{ContextID: hostCID, Port: port}
	callTimeout := timeout

	if configFile != "" {
		cfg, err := config.GetGuestConfig(configFile)
		if err != nil {
			return nil, err
		}
		if !cmd.Flags().Changed("cid") && !cmd.Flags().Changed("port") {
			endpoint = cfg.Endpoint()
		}
		if !cmd.Flags().Changed("timeout") {
			callTimeout = cfg.Timeout()
		}
	}

	opts := []callback.Option{
		callback.WithEndpoint(endpoint),
		callback.WithTimeout(callTimeout),
	}
	if tcpAddr != "" {
		opts = append(opts, callback.WithDialer(transport.TCPDialer(tcpAddr)))
	}
	if verbose {
		log.SetLevel(log.DebugLevel)
		opts = append(opts, callback.WithMiddleware(middleware.Logging(nil)))
	}
	return opts, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
