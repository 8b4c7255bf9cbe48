// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/motif/services/motif/archive"
	"github.com/AleutianAI/motif/services/motif/config"
)

var errNoArchive = errors.New("no run archive configured (set archive.path or MOTIF_ARCHIVE_PATH)")

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the on-disk run archive",
		Long: `Inspect runs archived by earlier commands. The archive is locked by a
running server, so stop "motif serve" first.`,
	}

	var (
		kind  string
		limit int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List archived runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withArchive(func(store *archive.Store) error {
				runs, err := store.List(cmd.Context(), archive.Kind(kind), limit)
				if err != nil {
					return err
				}
				for _, r := range runs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", r.ID, r.Kind, r.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				return nil
			})
		},
	}
	list.Flags().StringVar(&kind, "kind", "", "only list analyse, single or polyphonic runs")
	list.Flags().IntVar(&limit, "limit", 20, "maximum runs to list, 0 for all")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print an archived run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withArchive(func(store *archive.Store) error {
				rec, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rec)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete an archived run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withArchive(func(store *archive.Store) error {
				return store.Delete(cmd.Context(), args[0])
			})
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}

func (a *app) withArchive(fn func(*archive.Store) error) error {
	store, err := a.openArchive()
	if err != nil {
		return err
	}
	if store == nil {
		return errNoArchive
	}
	defer store.Close()
	return fn(store)
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage motif.yaml",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Write the default configuration if none exists",
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := config.LoadOrCreate(a.configPath); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), a.configPath)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := yaml.Marshal(a.cfg)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			},
		},
	)
	return cmd
}
