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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/techdata/engine"
	"github.com/AleutianAI/techdata/pkg/logging"
)

var (
	config     Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "techdata",
	Short: "Inspect and export locally cached technical-data documents",
	Long: `techdata reads the engine's durable local cache and renders the
current document, its read-model projections, and its version history.
All commands work offline; the remote service is only needed when a
remote_url is configured and a command pulls fresh data.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "techdata.yaml", "path to the YAML config file")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		var err error
		config, err = loadConfig(configPath)
		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
	}

	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(forgetCmd)
}

// openEngine builds an engine over the configured cache. The remote is
// only contacted by commands that ask for it.
func openEngine() (*engine.Engine, error) {
	remote, err := engine.NewHTTPRemoteStore(engine.HTTPRemoteStoreConfig{
		BaseURL:   remoteURLOrLocal(),
		AuthToken: config.AuthToken,
	})
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(config.LogLevel),
		Service: "techdata-cli",
	})

	return engine.New(engine.Config{
		Remote:    remote,
		CachePath: config.CachePath,
		CreatedBy: "techdata-cli",
		Logger:    logger,
	})
}

// remoteURLOrLocal keeps engine construction valid for offline use when
// no remote is configured. Offline commands never dial it.
func remoteURLOrLocal() string {
	if config.RemoteURL != "" {
		return config.RemoteURL
	}
	return "http://localhost:0"
}

var showCmd = &cobra.Command{
	Use:   "show <project-id>",
	Short: "Render the cached document and its projections",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := args[0]
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		sections := eng.Sections(projectID)
		if len(sections) == 0 {
			fmt.Println("no cached document for project", projectID)
			return nil
		}

		doc := engine.Document(sections)
		fmt.Printf("Project %s (%.0f%% complete)\n\n", projectID, engine.CompletionRatio(doc)*100)

		for _, row := range engine.SummaryRows(doc) {
			value := "(empty)"
			if row.Value != nil && row.Value != "" {
				value = fmt.Sprint(row.Value)
				if row.Unit != "" {
					value += " " + row.Unit
				}
			}
			fmt.Printf("  [%s] %s: %s (%s)\n", row.SectionTitle, row.Label, value, row.Source)
		}

		fmt.Println("\nBy source:")
		for source, count := range engine.SourceBreakdown(doc) {
			fmt.Printf("  %s: %d\n", source, count)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <project-id>",
	Short: "List the cached version history, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := args[0]
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		versions := eng.Versions(projectID)
		if len(versions) == 0 {
			fmt.Println("no version history for project", projectID)
			return nil
		}

		for _, v := range versions {
			created := time.UnixMilli(v.CreatedAt).Format(time.RFC3339)
			fmt.Printf("%s (%s ago)  %-20s %-8s %2d change(s)  by %s\n",
				created, v.Age().Round(time.Minute), v.VersionLabel, v.Source, len(v.Changes), v.CreatedBy)
			if v.Notes != "" {
				fmt.Printf("    notes: %s\n", v.Notes)
			}
		}
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull <project-id>",
	Short: "Fetch the document from the remote service into the local cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := args[0]
		if config.RemoteURL == "" {
			return fmt.Errorf("remote_url is not configured in %s", configPath)
		}
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.LoadTechnicalData(cmd.Context(), projectID, true); err != nil {
			return err
		}
		sections := eng.Sections(projectID)
		fmt.Printf("pulled %d section(s), %d field(s)\n",
			len(sections), engine.Document(sections).FieldCount())
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <project-id>",
	Short: "Drop a project's cached document and version history",
	Long: `forget removes all locally cached state for a project: the document,
its version history, and its durable cache entries. The remote copy is
untouched; a later pull rehydrates from it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := args[0]
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.Forget(projectID); err != nil {
			return err
		}
		fmt.Printf("forgot local state for project %s\n", projectID)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <project-id>",
	Short: "Write the cached document to stdout as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := args[0]
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(eng.Sections(projectID))
	},
}
