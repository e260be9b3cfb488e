// Command validator runs the Solana-compatible validator core: identity,
// fee market, MEV protection, BPF runtime, banking pipeline, QUIC transport
// and cluster membership, wired together by the validator orchestrator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"slonana-validator-core/internal/identity"
	"slonana-validator-core/internal/validator"
	"slonana-validator-core/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "validator"}
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(statusCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the validator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(env)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			v, err := validator.New(*cfg)
			if err != nil {
				return fmt.Errorf("construct validator: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := v.Start(ctx); err != nil {
				return fmt.Errorf("start validator: %w", err)
			}
			logrus.Info("validator running, press ctrl-c to stop")
			<-ctx.Done()
			v.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "environment overlay config name")
	return cmd
}

func keygenCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "generate a new identity keypair file",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := identity.Generate()
			if err != nil {
				return err
			}
			if err := kp.Save(path); err != nil {
				return err
			}
			fmt.Printf("generated identity %s at %s\n", kp.NodeID(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "out", "identity.bin", "output path for the keypair file")
	return cmd
}

func statusCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "print the validator's identity node id",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := identity.LoadOrGenerate(path)
			if err != nil {
				return err
			}
			fmt.Printf("node_id: %s\n", kp.NodeID())
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "identity", "identity.bin", "path to the identity keypair file")
	return cmd
}
