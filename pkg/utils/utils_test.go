// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadP4Info(t *testing.T) {
	info, err := LoadP4Info("../../pipelines/advanced_tunnel.p4.p4info.txt")
	assert.NoError(t, err)
	assert.Len(t, info.Tables, 2)
	assert.Len(t, info.Counters, 2)

	_, err = LoadP4Info("../../pipelines/missing.p4info.txt")
	assert.Error(t, err)

	_, err = ParseP4Info([]byte("tables { bogus"))
	assert.Error(t, err)
}
