package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/sshspawn/internal/config"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config file operations",
	}
	cmd.AddCommand(newConfigInitCmd(root))
	cmd.AddCommand(newConfigShowCmd(root))
	return cmd
}

func newConfigInitCmd(root *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(_ *cobra.Command, _ []string) error {
			path := root.configPath
			if !force {
				if existing, err := config.Load(path); err != nil {
					return err
				} else if existing != nil {
					return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
				}
			}
			cfg := config.Default()
			cfg.HostPool = []string{"remote-host"}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Fprintf(os.Stdout, "hostPool: %v\n", root.config.HostPool)
			fmt.Fprintf(os.Stdout, "sshPort: %d\n", root.config.SSHPort)
			fmt.Fprintf(os.Stdout, "sshKeyPath: %s\n", root.config.SSHKeyPath)
			fmt.Fprintf(os.Stdout, "remotePortCommand: %s\n", root.config.RemotePortCommand)
			fmt.Fprintf(os.Stdout, "stateDir: %s\n", root.config.StateDir)
			return nil
		},
	}
}
