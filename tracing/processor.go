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

// NewProcessorMiddleware returns a processor middleware that adds a tracing
// span for every handled package.
func NewProcessorMiddleware() mb.ProcessorMiddleware {
	return mb.ProcessorMiddleware(func(p mb.Processor) mb.Processor {
		return &processor{p}
	})
}

type processor struct {
	mb.Processor
}

// Handle implements the Handle method of the messagebus.Processor interface.
func (p *processor) Handle(ctx context.Context, pkg mb.Package) error {
	opName := "Processor.Handle"
	if t, ok := pkg.Headers()[mb.MessageTypeHeader]; ok && t != "" {
		opName = "Processor.Handle(" + t + ")"
	}

	sp, ctx := opentracing.StartSpanFromContext(ctx, opName)

	err := p.Processor.Handle(ctx, pkg)
	if err != nil {
		ext.LogError(sp, err)
	}

	sp.SetTag("mb.package_id", pkg.ID().String())
	sp.SetTag("mb.trace_id", pkg.TraceID().String())

	sp.Finish()

	return err
}
