//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-agent-flow/graph"
	"trpc.group/trpc-go/trpc-agent-flow/graph/checkpoint/sqlite"
	"trpc.group/trpc-go/trpc-agent-flow/log"
)

func buildCheckpointsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoints",
		Aliases: []string{"cp"},
		Short:   "Inspect a sqlite checkpoint store",
	}
	cmd.AddCommand(
		buildCheckpointsListCmd(),
		buildCheckpointsShowCmd(),
		buildCheckpointsDeleteCmd(),
	)
	return cmd
}

func buildCheckpointsListCmd() *cobra.Command {
	var dbPath, graphID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the checkpoints of a graph, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSaver(dbPath, func(s *sqlite.Saver) error {
				return runCheckpointsList(cmd, s, graphID)
			})
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the checkpoint database")
	cmd.Flags().StringVar(&graphID, "graph", "", "Graph ID, usually the session ID")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("graph")
	return cmd
}

func buildCheckpointsShowCmd() *cobra.Command {
	var dbPath, id string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a checkpoint as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSaver(dbPath, func(s *sqlite.Saver) error {
				return runCheckpointsShow(cmd, s, id)
			})
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the checkpoint database")
	cmd.Flags().StringVar(&id, "id", "", "Checkpoint ID")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func buildCheckpointsDeleteCmd() *cobra.Command {
	var dbPath, graphID string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete every checkpoint of a graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSaver(dbPath, func(s *sqlite.Saver) error {
				if err := s.Delete(cmd.Context(), graphID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted checkpoints of %s\n", graphID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the checkpoint database")
	cmd.Flags().StringVar(&graphID, "graph", "", "Graph ID, usually the session ID")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("graph")
	return cmd
}

func withSaver(dbPath string, fn func(*sqlite.Saver) error) (err error) {
	s, err := sqlite.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()
	log.Debugf("flowctl: opened %s", dbPath)
	return fn(s)
}

func runCheckpointsList(cmd *cobra.Command, s *sqlite.Saver, graphID string) error {
	list, err := s.List(cmd.Context(), graphID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no checkpoints for %s\n", graphID)
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTEP\tSOURCE\tNEXT\tINTERRUPT\tTIME")
	for _, cp := range list {
		interrupt := "-"
		if cp.InterruptKind != "" {
			interrupt = cp.InterruptKind + ":" + cp.InterruptNode
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%v\t%s\t%s\n",
			cp.ID, cp.Step, cp.Source, cp.NextNodes, interrupt, cp.Timestamp.Format(time.RFC3339))
	}
	return w.Flush()
}

func runCheckpointsShow(cmd *cobra.Command, s *sqlite.Saver, id string) error {
	cp, err := s.LoadByID(cmd.Context(), id)
	if err != nil {
		return err
	}
	if cp == nil {
		return fmt.Errorf("%w: %s", graph.ErrCheckpointNotFound, id)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(cp)
}
