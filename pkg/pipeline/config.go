// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"os"

	"github.com/onosproject/fabric-tunnel/pkg/utils"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
)

var log = logging.GetLogger("pipeline")

// Config is a forwarding pipeline to be pushed to a switch: the P4Info with its descriptor
// and the opaque target-specific device configuration, e.g. BMv2 JSON
type Config struct {
	Info         *p4info.P4Info
	DeviceConfig []byte
	Cookie       uint64
	// Reconcile requests that the pipeline push be skipped when the switch already runs a pipeline with the same cookie
	Reconcile  bool
	Descriptor Descriptor
}

// NewConfig creates a pipeline configuration from an already loaded P4Info and device configuration
func NewConfig(info *p4info.P4Info, deviceConfig []byte, cookie uint64) *Config {
	return &Config{
		Info:         info,
		DeviceConfig: deviceConfig,
		Cookie:       cookie,
		Descriptor:   NewP4InfoDescriptor(info),
	}
}

// LoadConfig loads the P4Info text file and the device configuration file
func LoadConfig(p4InfoPath string, deviceConfigPath string, cookie uint64) (*Config, error) {
	log.Infof("Loading pipeline from %s and %s", p4InfoPath, deviceConfigPath)
	info, err := utils.LoadP4Info(p4InfoPath)
	if err != nil {
		return nil, err
	}
	deviceConfig, err := os.ReadFile(deviceConfigPath)
	if err != nil {
		return nil, err
	}
	log.Debugf("Tables: %d; actions: %d; counters: %d; device config: %d bytes",
		len(info.Tables), len(info.Actions), len(info.Counters), len(deviceConfig))
	return NewConfig(info, deviceConfig, cookie), nil
}

// ForwardingPipelineConfig returns the P4Runtime representation of the pipeline
func (c *Config) ForwardingPipelineConfig() *p4api.ForwardingPipelineConfig {
	return &p4api.ForwardingPipelineConfig{
		P4Info:         c.Info,
		P4DeviceConfig: c.DeviceConfig,
		Cookie:         &p4api.ForwardingPipelineConfig_Cookie{Cookie: c.Cookie},
	}
}
