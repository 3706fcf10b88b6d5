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

package kafka

import (
	"errors"
	"os"
	"testing"
	"time"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/transport"
	"github.com/looplab/messagebus/uuid"
)

func TestTransportIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	// Connect to localhost if not running inside docker
	addr := os.Getenv("KAFKA_ADDR")
	if addr == "" {
		addr = "localhost:9092"
	}

	// Get a random app ID.
	appID := "app-" + uuid.New().String()

	tr, err := NewTransport(addr, appID)
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	defer tr.Close()

	transport.AcceptanceTest(t, tr, mb.NewQueue("events"), 30*time.Second)
}

func TestTransport_ConnectionFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	_, err := NewTransport("localhost:1", "app")
	if !errors.Is(err, mb.ErrConnectionFail) {
		t.Error("there should be a connection error:", err)
	}
}
