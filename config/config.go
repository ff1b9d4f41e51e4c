// Package config loads process configuration for the guest callback client
// and the host-side listener from a shared config file.
//
// Both live under the "hostservices" tree:
//
//	hostservices:
//	  guest:
//	    host_cid: 2
//	    port: 4032
//	    timeout_secs: 30
//	    async_timeout_secs: 5
//	  listener:
//	    port: 4032
//	    callback_url: http://192.168.1.1:7000/v1/internal/callback
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"cbox-guest/transport"
)

const (
	guestConfigKey    = "hostservices.guest"
	listenerConfigKey = "hostservices.listener"
)

// GuestConfig configures the guest-side callback client.
type GuestConfig struct {
	HostCID          uint32 `mapstructure:"host_cid"`
	Port             uint32 `mapstructure:"port"`
	TimeoutSecs      int    `mapstructure:"timeout_secs"`
	AsyncTimeoutSecs int    `mapstructure:"async_timeout_secs"`
}

// Endpoint returns the configured vsock endpoint.
func (c GuestConfig) Endpoint() transport.Endpoint {
	return transport.Endpoint{ContextID: c.HostCID, Port: c.Port}
}

// Timeout returns the synchronous call timeout.
func (c GuestConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// AsyncTimeout returns the fire-and-forget call timeout.
func (c GuestConfig) AsyncTimeout() time.Duration {
	return time.Duration(c.AsyncTimeoutSecs) * time.Second
}

func (c GuestConfig) String() string {
	return fmt.Sprintf(`{
HostCID: %d
Port: %d
TimeoutSecs: %d
AsyncTimeoutSecs: %d
}`,
		c.HostCID,
		c.Port,
		c.TimeoutSecs,
		c.AsyncTimeoutSecs,
	)
}

// ListenerConfig configures the host-side listener daemon.
type ListenerConfig struct {
	Port        uint32 `mapstructure:"port"`
	VMName      string `mapstructure:"vm_name"`
	CallbackURL string `mapstructure:"callback_url"`
}

// GetGuestConfig reads the guest client configuration from configFile.
// Missing fields fall back to the well-known defaults.
func GetGuestConfig(configFile string) (*GuestConfig, error) {
	sub, err := readSub(configFile, guestConfigKey)
	if err != nil {
		return nil, err
	}

	sub.SetDefault("host_cid", transport.HostContextID)
	sub.SetDefault("port", transport.DefaultPort)
	sub.SetDefault("timeout_secs", 30)
	sub.SetDefault("async_timeout_secs", 5)

	var result GuestConfig
	if err := sub.Unmarshal(&result); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %v", err)
	}
	return &result, nil
}

// GetListenerConfig reads the listener configuration from configFile.
func GetListenerConfig(configFile string) (*ListenerConfig, error) {
	sub, err := readSub(configFile, listenerConfigKey)
	if err != nil {
		return nil, err
	}

	sub.SetDefault("port", transport.DefaultPort)

	var result ListenerConfig
	if err := sub.Unmarshal(&result); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %v", err)
	}
	return &result, nil
}

func readSub(configFile, key string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %v", err)
	}

	sub := v.Sub(key)
	if sub == nil {
		return nil, fmt.Errorf("%s configuration not found", key)
	}
	return sub, nil
}
