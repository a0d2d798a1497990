// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package idgen mints the instance ID attached to every log line and
// metric a process emits.
package idgen

import (
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sony/sonyflake"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var defaultGenerator = sync.OnceValue(func() *Generator {
	g, err := NewGenerator()
	if err != nil {
		panic(err)
	}
	return g
})

type Generator struct {
	sf *sonyflake.Sonyflake
}

// NewGenerator derives the machine ID from the host's private IP, falling
// back to a random one on hosts without a private address.
func NewGenerator() (*Generator, error) {
	sf, err := sonyflake.New(sonyflake.Settings{StartTime: epoch})
	if err != nil {
		sf, err = sonyflake.New(sonyflake.Settings{
			StartTime: epoch,
			MachineID: func() (uint16, error) { return uint16(rand.UintN(1 << 16)), nil },
		})
	}
	if err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, errors.New("failed to create Sonyflake instance")
	}
	return &Generator{sf: sf}, nil
}

// NextID returns a positive int64 that increases roughly in time order.
// If the generator is exhausted it falls back to a random positive value.
func (g *Generator) NextID() int64 {
	v, err := g.sf.NextID()
	if err != nil {
		return rand.Int64()
	}
	return int64(v)
}

// InstanceID returns a fresh ID from the process-wide generator.
func InstanceID() int64 {
	return defaultGenerator().NextID()
}
