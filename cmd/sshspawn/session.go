package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/sshspawn/internal/spawner"
)

func newStartCmd(root *rootOptions) *cobra.Command {
	var user string
	var command string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a remote session for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			tokens := strings.Fields(command)
			if len(tokens) == 0 {
				return fmt.Errorf("--cmd is required")
			}
			orch, err := spawner.New(spawner.Options{
				Config:  root.config,
				User:    user,
				Command: tokens,
				Logger:  root.logger,
			})
			if err != nil {
				return err
			}
			if found, err := orch.Restore(); err != nil {
				return err
			} else if found {
				st := orch.GetState()
				return fmt.Errorf("session already running for %s (pid %d on %s); stop it first", user, st.PID, st.RemoteIP)
			}

			runCtx, runCancel := context.WithTimeout(ctx, timeout)
			defer runCancel()
			server, err := orch.Start(runCtx)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "%s %d\n", server.Address, server.Port)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "session owner (required)")
	cmd.Flags().StringVar(&command, "cmd", "", "launch command; any --port token is rewritten to the allocated port")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline for the launch")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("cmd")
	return cmd
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	var user string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Poll a user's session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			orch, err := spawner.New(spawner.Options{
				Config: root.config,
				User:   user,
				Logger: root.logger,
			})
			if err != nil {
				return err
			}
			found, err := orch.Restore()
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintln(os.Stdout, "no session")
				return nil
			}
			st := orch.GetState()

			runCtx, runCancel := context.WithTimeout(ctx, timeout)
			defer runCancel()
			code, err := orch.Poll(runCtx)
			if err != nil {
				return fmt.Errorf("poll %s: %w", user, err)
			}
			if code == nil {
				fmt.Fprintf(os.Stdout, "running pid=%d addr=%s\n", st.PID, st.RemoteIP)
			} else {
				fmt.Fprintln(os.Stdout, "not running")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "session owner (required)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "deadline for the liveness probe")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newStopCmd(root *rootOptions) *cobra.Command {
	var user string
	var now bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a user's session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			orch, err := spawner.New(spawner.Options{
				Config: root.config,
				User:   user,
				Logger: root.logger,
			})
			if err != nil {
				return err
			}
			found, err := orch.Restore()
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintln(os.Stdout, "no session")
				return nil
			}

			runCtx, runCancel := context.WithTimeout(ctx, timeout)
			defer runCancel()
			err = orch.Stop(runCtx, !now)
			if errors.Is(err, spawner.ErrProcessNeverDied) {
				// Best-effort contract: state is cleared, the process is
				// abandoned. Report it without failing the command.
				fmt.Fprintln(os.Stderr, "warning: process survived kill; session abandoned")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "session owner (required)")
	cmd.Flags().BoolVar(&now, "now", false, "skip the graceful escalation and send one terminate signal")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall deadline for the stop")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
