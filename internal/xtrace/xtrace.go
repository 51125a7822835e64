/*
 *    Copyright 2021 chenquan
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

// Package xtrace names the gateway's OpenTelemetry tracer and installs
// its process-wide TracerProvider.
package xtrace

import (
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Name is the tracer name registered with the global TracerProvider.
const Name = "github.com/lenzarda/mqtt-sn"

// NewProvider builds a TracerProvider that samples every span and
// installs it as the global provider, so every `otel.GetTracerProvider()`
// call made elsewhere (internal/gateway, internal/handler) picks up real
// spans instead of the no-op default. No exporter is attached here: which
// backend receives the spans is left to whoever wires one in, following
// DESIGN.md's decision to drop the jaeger/zipkin exporters along with
// their unwired configuration surface.
func NewProvider() *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	return tp
}
