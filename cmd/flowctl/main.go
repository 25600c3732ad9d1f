//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Command flowctl inspects graph checkpoint stores and validates
// configuration files.
//
//	flowctl checkpoints list --db flow.db --graph session-1
//	flowctl checkpoints show --db flow.db --id 1b0c...
//	flowctl checkpoints delete --db flow.db --graph session-1
//	flowctl config check flow.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-agent-flow/log"
)

var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		log.Errorf("flowctl: %v", err)
		os.Exit(1)
	}
}

// buildRootCmd is separate from main for tests.
func buildRootCmd() *cobra.Command {
	var logLevel string
	rootCmd := &cobra.Command{
		Use:          "flowctl",
		Short:        "Inspect agent flow checkpoints and configuration",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetLevel(logLevel)
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", log.LevelInfo,
		fmt.Sprintf("Log level (%s, %s, %s, %s)", log.LevelDebug, log.LevelInfo, log.LevelWarn, log.LevelError))
	rootCmd.AddCommand(
		buildCheckpointsCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}
