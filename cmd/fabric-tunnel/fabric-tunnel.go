// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package main is the main entry point of the tunnel controller
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/onosproject/fabric-tunnel/pkg/manager"
	"github.com/onosproject/fabric-tunnel/pkg/telemetry"
	"github.com/onosproject/fabric-tunnel/pkg/topo"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var log = logging.GetLogger()

const (
	configFlag      = "config"
	metricsFlag     = "metrics-address"
	ticksFlag       = "ticks"
	recipeFlag      = "recipe"
	outputFlag      = "output"
	defaultConfig   = "topologies/tunnel.yaml"
	defaultRecipe   = "-"
	defaultOutput   = "-"
	metricsEndpoint = "/metrics"
)

// The main entry point
func main() {
	if err := getRootCommand().Execute(); err != nil {
		println(err.Error())
		os.Exit(1)
	}
}

func getRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "fabric-tunnel",
		Short:        "Provision tunnels on P4Runtime switches and sample their counters",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runRootCommand,
	}
	cmd.Flags().String(configFlag, defaultConfig, "configuration YAML file; use - for stdin")
	cmd.Flags().String(metricsFlag, "", "address for serving Prometheus metrics, e.g. :9090; disabled if empty")
	cmd.Flags().Int(ticksFlag, -1, "number of counter sampling rounds; overrides the configuration unless negative")
	cmd.AddCommand(getGenerateCommand())
	return cmd
}

func runRootCommand(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString(configFlag)
	metricsAddress, _ := cmd.Flags().GetString(metricsFlag)
	ticks, _ := cmd.Flags().GetInt(ticksFlag)

	config, err := topo.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if ticks >= 0 {
		config.Telemetry.Ticks = ticks
	}

	sinks := telemetry.Sinks{telemetry.LogSink{}}
	if metricsAddress != "" {
		registry := prometheus.NewRegistry()
		sink, err := telemetry.NewPrometheusSink(registry)
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
		go serveMetrics(metricsAddress, registry)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting fabric-tunnel")
	mgr := manager.NewManager(manager.Config{Topology: config, Sink: sinks})
	if err := mgr.Run(ctx); err != nil {
		log.Errorf("Run completed with failures: %+v", err)
		return err
	}
	log.Info("Run completed")
	return nil
}

func serveMetrics(address string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle(metricsEndpoint, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	log.Infof("Serving metrics on %s%s", address, metricsEndpoint)
	if err := http.ListenAndServe(address, mux); err != nil {
		log.Errorf("Unable to serve metrics: %+v", err)
	}
}

func getGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "generate",
		Aliases: []string{"gen"},
		Short:   "Generate a configuration YAML file from a recipe YAML file",
		Args:    cobra.NoArgs,
		RunE:    runGenerateCommand,
	}
	cmd.Flags().String(recipeFlag, defaultRecipe, "recipe YAML file; use - for stdin (default)")
	cmd.Flags().String(outputFlag, defaultOutput, "output configuration YAML file; use - for stdout (default)")
	return cmd
}

func runGenerateCommand(cmd *cobra.Command, args []string) error {
	recipePath, _ := cmd.Flags().GetString(recipeFlag)
	outputPath, _ := cmd.Flags().GetString(outputFlag)
	return topo.GenerateConfig(recipePath, outputPath)
}
