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

package gcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"testing"
	"time"

	"google.golang.org/api/option"

	mb "github.com/looplab/messagebus"
	"github.com/looplab/messagebus/transport"
)

func TestTransportIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	// Connect to localhost if not running inside docker
	if os.Getenv("PUBSUB_EMULATOR_HOST") == "" {
		os.Setenv("PUBSUB_EMULATOR_HOST", "localhost:8793")
	}

	// Get a random app ID.
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		t.Fatal(err)
	}
	appID := "app-" + hex.EncodeToString(b)

	tr, err := NewTransport("project_id", appID, WithPubSubOptions(option.WithoutAuthentication()))
	if err != nil {
		t.Fatal("there should be no error:", err)
	}

	defer tr.Close()

	queue := mb.NewQueue("events")

	// Messages published before a subscription exists are not kept.
	if _, err := tr.subscription(context.Background(), queue); err != nil {
		t.Fatal("there should be no error:", err)
	}

	transport.AcceptanceTest(t, tr, queue, 10*time.Second)
}

func TestTransport_Options(t *testing.T) {
	if _, err := NewTransport("project_id", "app", WithMaxOutstanding(0)); err == nil {
		t.Error("there should be an error")
	}
}
