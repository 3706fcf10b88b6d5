// Copyright (c) 2026 - The Message Bus authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/looplab/messagebus/retry"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	assert.Equal(t, "messagebus", cfg.AppID)
	assert.Equal(t, TransportLocal, cfg.Transport)
	assert.Equal(t, []string{"commands", "events"}, cfg.Queues)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, CodecJSON, cfg.Codec)
	assert.Equal(t, 60, cfg.MaxConcurrentTasks)
	assert.Equal(t, 10*time.Second, cfg.ShutdownDelay)
	assert.Equal(t, retry.Options{MaxCount: 3, Delay: 250 * time.Millisecond}, cfg.RetryOptions())
}

func TestLoad(t *testing.T) {
	t.Setenv("MB_TRANSPORT", "redis")
	t.Setenv("MB_QUEUES", "a,b,c")
	t.Setenv("MB_MAX_CONCURRENT_TASKS", "10")
	t.Setenv("MB_SHUTDOWN_DELAY", "2s")
	t.Setenv("MB_CODEC", "bson")

	cfg, err := Load()
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	assert.Equal(t, TransportRedis, cfg.Transport)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Queues)
	assert.Equal(t, 10, cfg.MaxConcurrentTasks)
	assert.Equal(t, 2*time.Second, cfg.ShutdownDelay)
	assert.Equal(t, CodecBSON, cfg.Codec)
}

func TestLoadErrors(t *testing.T) {
	testCases := map[string]map[string]string{
		"parse":       {"MB_MAX_CONCURRENT_TASKS": "not-an-int"},
		"transport":   {"MB_TRANSPORT": "carrier-pigeon"},
		"gcp project": {"MB_TRANSPORT": "gcp"},
		"store":       {"MB_STORE": "postgres"},
		"codec":       {"MB_CODEC": "protobuf"},
		"log format":  {"MB_LOG_FORMAT": "xml"},
		"log level":   {"MB_LOG_LEVEL": "loud"},
	}

	for name, vars := range testCases {
		t.Run(name, func(t *testing.T) {
			for k, v := range vars {
				t.Setenv(k, v)
			}

			if _, err := Load(); err == nil {
				t.Error("there should be an error")
			} else if name != "parse" && !errors.Is(err, ErrInvalidConfig) {
				t.Error("there should be an invalid config error:", err)
			} else if name == "parse" && !strings.Contains(err.Error(), "parse env:") {
				t.Error("the error should be prefixed:", err)
			}
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer

	cfg := Config{AppID: "app", LogLevel: "warn", LogFormat: "json"}
	logger := cfg.Logger(&buf)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"app_id":"app"`)
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	cfg.AppID = ""
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Error("there should be an invalid config error:", err)
	}

	cfg.AppID = "app"
	cfg.Queues = nil
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Error("there should be an invalid config error:", err)
	}
}
