// Command cbox-installer downloads the binary images required to run
// MicroVMs: the guest kernel, the cloud-hypervisor VMM, and busybox for the
// initramfs.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cbox-guest/installer"
)

var dir string

var rootCmd = &cobra.Command{
	Use:   "cbox-installer",
	Short: "Download the MicroVM binary images",
	RunE: func(cmd *cobra.Command, args []string) error {
		if abs, err := filepath.Abs(dir); err == nil {
			log.WithFields(log.Fields{"dir": abs}).Info("Installing images")
		}

		ins := installer.New(nil)
		if err := ins.Install(cmd.Context(), dir, installer.DefaultArtifacts()); err != nil {
			return err
		}
		log.Info("All images downloaded")
		return nil
	},

	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&dir, "dir", "resources/bin", "destination directory")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
