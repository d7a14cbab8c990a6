package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/nereus-net/rudp/logx"
	"github.com/nereus-net/rudp/transport"
)

const version = "1.0.0"

type config struct {
	RemoteHost string `env:"RUDP_REMOTE_HOST, default=127.0.0.1"`
	RemotePort int    `env:"RUDP_REMOTE_PORT, default=7777"`
	LocalAddr  string `env:"RUDP_LOCAL_ADDR, default=:0"`
	Debug      bool   `env:"RUDP_DEBUG, default=false"`
	PingEvery  int    `env:"RUDP_PING_SECONDS, default=5"`
}

func loadConfig(ctx context.Context) (config, error) {
	var c config
	if err := envconfig.Process(ctx, &c); err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}
	return c, nil
}

func main() {
	ctx := context.Background()
	cfg, err := loadConfig(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logx.New("rudpclient", cfg.Debug)
	log.Infof("rudp client %s connecting to %s:%d", version, cfg.RemoteHost, cfg.RemotePort)

	cli, err := transport.NewClient(cfg.LocalAddr, transport.WithDebug(cfg.Debug), transport.WithLogger(log))
	if err != nil {
		log.Errorf("open socket failed: %v", err)
		os.Exit(1)
	}

	cli.OnReceive(func(id transport.ConnID, payload []byte) {
		log.Infof("conn %d: %d bytes", id, len(payload))
	})
	cli.OnDisconnect(func(id transport.ConnID, reason transport.DisconnectReason) {
		log.Infof("conn %d: disconnected (%s)", id, reason)
	})

	id, err := cli.Connect(fmt.Sprintf("%s:%d", cfg.RemoteHost, cfg.RemotePort))
	if err != nil {
		log.Errorf("connect failed: %v", err)
		os.Exit(1)
	}

	ticker := time.NewTicker(time.Duration(cfg.PingEvery) * time.Second)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	for {
		select {
		case <-ticker.C:
			if err := cli.SendReliable(id, []byte("hello")); err != nil {
				log.Warnf("send failed: %v", err)
			}
		case <-sigChan:
			log.Infof("shutting down")
			if err := cli.Disconnect(id); err != nil {
				log.Warnf("disconnect: %v", err)
			}
			_ = cli.DisconnectAll()
			return
		}
	}
}
