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

package tracing

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	mb "github.com/looplab/messagebus"
)

// Publisher is a messagebus.Publisher that adds tracing.
type Publisher struct {
	mb.Publisher
}

// NewPublisher creates a Publisher.
func NewPublisher(p mb.Publisher) *Publisher {
	return &Publisher{
		Publisher: p,
	}
}

// Publish implements the Publish method of the messagebus.Publisher interface.
func (p *Publisher) Publish(ctx context.Context, queue mb.Queue, msg mb.Message) error {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "Publisher.Publish("+msg.MessageType().String()+")")

	err := p.Publisher.Publish(ctx, queue, msg)
	if err != nil {
		ext.LogError(sp, err)
	}

	sp.SetTag("mb.queue", queue.Name)
	sp.SetTag("mb.message_type", msg.MessageType().String())

	sp.Finish()

	return err
}
