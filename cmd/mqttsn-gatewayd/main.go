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

// Command mqttsn-gatewayd runs the gateway in loopback demo mode: no
// concrete UDP/BLE transport is wired in (that integration is out of
// scope), so it self-injects a CONNECT/PINGREQ exchange over the
// Loopback transport and logs what comes back out, which is enough to
// prove every layer from decode to delivery is wired correctly.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lenzarda/mqtt-sn/config"
	"github.com/lenzarda/mqtt-sn/internal/gateway"
	"github.com/lenzarda/mqtt-sn/internal/packet"
	"github.com/lenzarda/mqtt-sn/internal/transport"
	"github.com/lenzarda/mqtt-sn/internal/xlog"
	"github.com/lenzarda/mqtt-sn/internal/xtrace"
)

func main() {
	configPath := flag.String("config", "", "path to gateway YAML config (omit to use defaults)")
	demo := flag.Bool("demo", false, "inject a sample CONNECT/PINGREQ exchange over the loopback transport")
	flag.Parse()

	if err := xlog.Init(xlog.Options{Level: "info"}); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	logger := xlog.LoggerModule("main")

	tp := xtrace.NewProvider()
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Sugar().Warnw("tracer provider shutdown", "err", err)
		}
	}()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Sugar().Fatalw("load config", "path", *configPath, "err", err)
		}
		cfg = loaded
	}

	lo := transport.NewLoopback(256)
	gw, err := gateway.New(gateway.WithConfig(cfg), gateway.WithTransport(lo))
	if err != nil {
		logger.Sugar().Fatalw("build gateway", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return gw.Run(ctx) })

	if *demo {
		group.Go(func() error { return runDemo(lo) })
	}

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		logger.Sugar().Errorw("gateway exited", "err", err)
	}
}

// runDemo injects a CONNECT followed by a keepalive PINGREQ so the
// loopback demo produces visible CONNACK/PINGRESP traffic without a
// real MQTT-SN client attached.
func runDemo(lo *transport.Loopback) error {
	time.Sleep(100 * time.Millisecond)

	connect := &packet.Connect{Duration: 60, ClientID: []byte("demo-client")}
	frame, err := packet.Encode(connect)
	if err != nil {
		return err
	}
	lo.Deliver("demo-addr", frame)

	time.Sleep(100 * time.Millisecond)
	ping := &packet.PingReq{}
	pingFrame, err := packet.Encode(ping)
	if err != nil {
		return err
	}
	lo.Deliver("demo-addr", pingFrame)

	return nil
}
