/*
 * Copyright 2025 chstack.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/chstack/chorm/database"
)

var version = "0.1.0"

type connectionFlags struct {
	configFile string
	host       string
	port       int
	username   string
	password   string
	dbName     string
	secure     bool
}

func (f *connectionFlags) resolve(cmd *cobra.Command) (*database.ConnectionConfig, error) {
	cfg := database.DefaultConnectionConfig()
	if f.configFile != "" {
		full, err := database.LoadConfig(f.configFile)
		if err != nil {
			return nil, err
		}
		*cfg = full.ConnectionConfig
	}
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = f.host
	}
	if flags.Changed("port") {
		cfg.Port = f.port
	}
	if flags.Changed("user") {
		cfg.Username = f.username
	}
	if flags.Changed("password") {
		cfg.Password = f.password
	}
	if flags.Changed("database") {
		cfg.Database = f.dbName
	}
	if flags.Changed("secure") {
		cfg.Secure = f.secure
	}
	return cfg, nil
}

func (f *connectionFlags) connect(ctx context.Context, cmd *cobra.Command) (*database.Introspector, func(), error) {
	cfg, err := f.resolve(cmd)
	if err != nil {
		return nil, nil, err
	}
	manager := database.NewDatabaseManager(cfg)
	if err := manager.Connect(ctx); err != nil {
		return nil, nil, err
	}
	closeFn := func() { _ = manager.Disconnect() }
	return database.NewIntrospector(manager.GetConn()), closeFn, nil
}

func main() {
	conn := &connectionFlags{}

	root := &cobra.Command{
		Use:   "chormgen",
		Short: "chormgen - ClickHouse model generator and schema inspector",
		Long: `chormgen inspects ClickHouse tables and generates chorm model source files.
Connection settings come from flags, or from a YAML config file via --config.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&conn.configFile, "config", "", "Path to a YAML configuration file")
	root.PersistentFlags().StringVar(&conn.host, "host", "localhost", "ClickHouse host")
	root.PersistentFlags().IntVar(&conn.port, "port", 9000, "Native protocol port")
	root.PersistentFlags().StringVar(&conn.username, "user", "default", "Username")
	root.PersistentFlags().StringVar(&conn.password, "password", "", "Password")
	root.PersistentFlags().StringVar(&conn.dbName, "database", "default", "Database name")
	root.PersistentFlags().BoolVar(&conn.secure, "secure", false, "Connect over TLS")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chormgen v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var pkgName, modelName, outPath string
	var register bool
	var priority int
	generateCmd := &cobra.Command{
		Use:   "generate <table>",
		Short: "Generate a chorm model from a live table",
		Long: `Generate introspects a table and writes a Go model file for it.
The table may be qualified ("db.events") or bare ("events").

Example:
  chormgen generate analytics.page_views --package models --out models/page_view.go`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			intro, closeFn, err := conn.connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			src, err := intro.GenerateModel(ctx, args[0], &database.GenerateModelOptions{
				PackageName: pkgName,
				ModelName:   modelName,
				Register:    register,
				Priority:    priority,
			})
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err = os.Stdout.Write(src)
				return err
			}
			if err := os.WriteFile(outPath, src, 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", outPath)
			return nil
		},
	}
	generateCmd.Flags().StringVar(&pkgName, "package", "models", "Package name for the generated file")
	generateCmd.Flags().StringVar(&modelName, "name", "", "Struct name (default derived from the table name)")
	generateCmd.Flags().StringVar(&outPath, "out", "", "Output file (default stdout)")
	generateCmd.Flags().BoolVar(&register, "register", false, "Emit an init() that registers the model")
	generateCmd.Flags().IntVar(&priority, "priority", 100, "Registration priority (lower creates first)")
	root.AddCommand(generateCmd)

	describeCmd := &cobra.Command{
		Use:   "describe <table>",
		Short: "Print a table's columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			intro, closeFn, err := conn.connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			desc, err := intro.DescribeTable(ctx, args[0])
			if err != nil {
				if desc, err = intro.ListColumns(ctx, args[0]); err != nil {
					return err
				}
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"name", "type", "default", "comment", "codec"})
			for _, col := range desc {
				def := strings.TrimSpace(col.DefaultType + " " + col.DefaultExpression)
				t.AppendRow(table.Row{col.Name, col.Type, def, col.Comment, col.CodecExpression})
			}
			t.Render()
			fmt.Printf("(%d columns)\n", len(desc))
			return nil
		},
	}
	root.AddCommand(describeCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
