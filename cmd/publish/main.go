// Command publish puts one event on the realtime bridge, the same way a
// backend service would.
//
//	publish --target user:42 --event notification:new --data '{"id":"msg-1"}'
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"realtime-service/internal/bridge"
	"realtime-service/internal/config"
	"realtime-service/internal/database"
)

func main() {
	configPath := pflag.String("config", "configs/config.yaml", "path to the YAML config file")
	target := pflag.String("target", "", "user:<id>, workspace:<id>, query:<id> or broadcast")
	event := pflag.String("event", "", "event name delivered to clients")
	data := pflag.String("data", "", "JSON object payload")
	pflag.Parse()

	if err := run(*configPath, *target, *event, *data); err != nil {
		fmt.Fprintf(os.Stderr, "publish: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, rawTarget, event, data string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	t, err := bridge.ParseTarget("target:" + strings.TrimSpace(rawTarget))
	if err != nil {
		return err
	}
	env := bridge.Envelope{Event: event}
	if data != "" {
		env.Data = json.RawMessage(data)
	}
	// validate exactly as the subscriber will
	encoded, err := env.Encode()
	if err != nil {
		return err
	}
	if _, err := bridge.DecodeEnvelope(encoded); err != nil {
		return err
	}

	logger := zap.NewNop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var pub bridge.Publisher
	switch cfg.Bridge.Transport {
	case config.BridgeTransportNATS:
		nc, err := bridge.ConnectNATS(cfg.Bridge, logger, nil)
		if err != nil {
			return err
		}
		defer nc.Close()
		defer nc.Flush()
		pub = bridge.NewNATSPublisher(nc)
	default:
		rdb, err := database.NewRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()
		pub = bridge.NewRedisPublisher(rdb)
	}

	if err := pub.Publish(ctx, t, env); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	fmt.Printf("published %s to %s\n", event, t.Channel())
	return nil
}
