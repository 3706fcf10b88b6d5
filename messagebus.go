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

// Package messagebus is the message processing core of a distributed message
// bus. It defines the contracts between transports, the dispatch loop,
// processors, handler execution policies and event-sourced aggregate streams.
//
// Implementations live in sub packages:
//
//	dispatch     - bounded concurrent dispatch loop (the entry point)
//	processor    - decoding, routing and policy-driven handler execution
//	retry        - retry with pluggable backoff
//	transport/*  - local, Redis, Kafka, NATS, GCP Pub/Sub and AMQP transports
//	eventstore/* - aggregate event record stores
//	aggregate    - event-sourced aggregate base and store
package messagebus
