// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package main is the main entry point for running the simulated switches of a fabric configuration
package main

import (
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/onosproject/fabric-tunnel/pkg/northbound/device"
	"github.com/onosproject/fabric-tunnel/pkg/simulator"
	"github.com/onosproject/fabric-tunnel/pkg/topo"
	simapi "github.com/onosproject/onos-api/go/onos/fabricsim"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	"github.com/spf13/cobra"
)

var log = logging.GetLogger()

const (
	configFlag  = "config"
	trafficFlag = "traffic-interval"
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
		Use:          "switch-sim",
		Short:        "Run a simulated P4Runtime switch for every switch of the configuration",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runRootCommand,
	}
	cmd.Flags().String(configFlag, "topologies/tunnel.yaml", "configuration YAML file; use - for stdin")
	cmd.Flags().Duration(trafficFlag, time.Second, "interval of simulated traffic; disabled if 0")
	return cmd
}

func runRootCommand(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString(configFlag)
	trafficInterval, _ := cmd.Flags().GetDuration(trafficFlag)

	config, err := topo.LoadConfig(configPath)
	if err != nil {
		return err
	}

	var opts []simulator.Option
	if trafficInterval > 0 {
		opts = append(opts, simulator.WithTrafficInterval(trafficInterval))
	}

	fabric := simulator.NewFabric()
	defer fabric.Stop(simapi.StopMode_ORDERLY_STOP)
	for _, sw := range config.Switches {
		port, err := agentPort(sw.Address)
		if err != nil {
			return err
		}
		if err := fabric.AddSwitch(simulator.NewSwitch(sw.Name, sw.DeviceID, device.NewAgent(port), opts...)); err != nil {
			return err
		}
	}
	log.Infof("Simulating %d switches", len(config.Switches))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Stopping simulated switches")
	return nil
}

// Returns the TCP port of the given host:port address
func agentPort(address string) (int, error) {
	_, p, err := net.SplitHostPort(address)
	if err != nil {
		return 0, errors.NewInvalid("invalid switch address %s: %v", address, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return 0, errors.NewInvalid("invalid port in switch address %s", address)
	}
	return port, nil
}
