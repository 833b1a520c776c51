// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package topo

import (
	"fmt"
	"os"

	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/spf13/viper"
)

const generatedHeader = "# Generated by fabric-tunnel generate; edit the recipe instead\n"

// Recipe is a container for holding one of the supported configuration recipes
type Recipe struct {
	Mesh *Mesh `mapstructure:"mesh" yaml:"mesh"`
	// Add more recipes here
}

// Mesh is a recipe for a fabric of directly connected switches with one host per switch and a bidirectional
// tunnel between every pair of switches
type Mesh struct {
	Switches      int    `mapstructure:"switches" yaml:"switches"`
	FirstTunnelID uint64 `mapstructure:"first_tunnel_id" yaml:"first_tunnel_id"`
	TunnelIDStep  uint64 `mapstructure:"tunnel_id_step" yaml:"tunnel_id_step"`
	Host          string `mapstructure:"host" yaml:"host"`
	FirstPort     int    `mapstructure:"first_port" yaml:"first_port"`
	P4Info        string `mapstructure:"p4info" yaml:"p4info"`
	DeviceConfig  string `mapstructure:"device_config" yaml:"device_config"`
}

// GenerateConfig loads the specified recipe YAML file and uses the recipe to generate a fully elaborated
// configuration YAML file that can be loaded via LoadConfig
func GenerateConfig(recipePath string, configPath string) error {
	log.Infof("Loading recipe from %s", recipePath)
	recipe := &Recipe{}
	if err := loadRecipeFile(recipePath, recipe); err != nil {
		return err
	}

	var config *Config
	switch {
	case recipe.Mesh != nil:
		config = GenerateMesh(recipe.Mesh)
	default:
		return errors.NewInvalid("No supported recipe found")
	}
	return saveConfigFile(config, configPath)
}

// GenerateMesh generates the configuration of the specified mesh recipe. Switch sN serves host N on port 1
// and reaches its peers on consecutive ports starting at port 2, in order of their number. Tunnel IDs are
// allocated to the pairs in order, forward direction first.
func GenerateMesh(mesh *Mesh) *Config {
	count := defaultCount(mesh.Switches, 3)
	log.Infof("Generating mesh of %d switches", count)

	config := &Config{
		Pipeline: Pipeline{
			P4Info:       defaultString(mesh.P4Info, "pipelines/advanced_tunnel.p4.p4info.txt"),
			DeviceConfig: defaultString(mesh.DeviceConfig, "pipelines/advanced_tunnel.json"),
			Cookie:       1,
		},
		ElectionID: ElectionID{Low: 1},
		Telemetry: Telemetry{
			Interval:       DefaultTelemetryInterval,
			IngressCounter: DefaultIngressCounter,
			EgressCounter:  DefaultEgressCounter,
		},
	}

	host := defaultString(mesh.Host, "127.0.0.1")
	firstPort := defaultCount(mesh.FirstPort, 50051)
	for i := 1; i <= count; i++ {
		config.Switches = append(config.Switches, Switch{
			Name:     switchName(i),
			Address:  fmt.Sprintf("%s:%d", host, firstPort+i-1),
			DeviceID: uint64(i - 1),
		})
	}

	id := uint64(defaultCount(int(mesh.FirstTunnelID), 100))
	step := uint64(defaultCount(int(mesh.TunnelIDStep), 100))
	for i := 1; i <= count; i++ {
		for j := i + 1; j <= count; j++ {
			config.Tunnels = append(config.Tunnels, Tunnel{
				ID:         id,
				Ingress:    switchName(i),
				Egress:     switchName(j),
				DstMAC:     hostMAC(j),
				DstIP:      hostIP(j),
				HostPort:   1,
				SwitchPort: peerPort(i, j),
				Reverse: &TunnelEnd{
					ID:         id + step,
					DstMAC:     hostMAC(i),
					DstIP:      hostIP(i),
					HostPort:   1,
					SwitchPort: peerPort(j, i),
				},
			})
			id += 2 * step
		}
	}
	return config
}

func switchName(i int) string {
	return fmt.Sprintf("s%d", i)
}

func hostIP(i int) string {
	return fmt.Sprintf("10.0.%d.%d", i, i)
}

func hostMAC(i int) string {
	return fmt.Sprintf("08:00:00:00:%02x:%02x", i&0xff, (i*0x11)&0xff)
}

// Port of switch i leading to switch j
func peerPort(i int, j int) uint64 {
	if j < i {
		return uint64(j + 1)
	}
	return uint64(j)
}

// Loads the specified recipe YAML file
func loadRecipeFile(path string, recipe *Recipe) error {
	cfg, err := readConfig(path)
	if err != nil {
		return err
	}
	return cfg.Unmarshal(recipe)
}

// Saves the given configuration as YAML in the specified file path; stdout if -
func saveConfigFile(config *Config, path string) error {
	cfg := viper.New()
	cfg.Set("pipeline", config.Pipeline)
	cfg.Set("election_id", config.ElectionID)
	cfg.Set("switches", config.Switches)
	cfg.Set("tunnels", config.Tunnels)
	cfg.Set("telemetry", config.Telemetry)

	// Create a temporary file and schedule it for removal on exit
	file, err := os.CreateTemp("", "tunnel*.yaml")
	if err != nil {
		return err
	}
	_ = file.Close()
	defer func() { _ = os.Remove(file.Name()) }()

	// Write the configuration to the temporary file
	if err = cfg.WriteConfigAs(file.Name()); err != nil {
		return err
	}

	// Now copy the file to the intended destination; stdout if -
	buffer, err := os.ReadFile(file.Name())
	if err != nil {
		return err
	}

	output := os.Stdout
	if path != "-" {
		output, err = os.Create(path)
		if err != nil {
			return err
		}
		defer output.Close()
	}

	if _, err = fmt.Fprint(output, generatedHeader); err != nil {
		return err
	}
	_, err = output.Write(buffer)
	return err
}

// Returns count or the default count if the count is 0
func defaultCount(count int, defaultCount int) int {
	if count > 0 {
		return count
	}
	return defaultCount
}

func defaultString(value string, defaultValue string) string {
	if value != "" {
		return value
	}
	return defaultValue
}
