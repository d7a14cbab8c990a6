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
	Host       string `env:"RUDP_HOST, default=0.0.0.0"`
	Port       int    `env:"RUDP_PORT, default=7777"`
	Debug      bool   `env:"RUDP_DEBUG, default=false"`
	LogToFile  bool   `env:"RUDP_LOG_TO_FILE, default=false"`
	MaxRetries int    `env:"RUDP_MAX_RETRIES, default=10"`
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

	var log *logx.Logger
	if cfg.LogToFile {
		var closeFile func() error
		log, closeFile, err = logx.NewWithFile("rudpserver", cfg.Debug, "./networklogs", "rslog")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer closeFile()
	} else {
		log = logx.New("rudpserver", cfg.Debug)
	}

	log.Infof("rudp server %s starting on %s:%d", version, cfg.Host, cfg.Port)

	srv, err := transport.NewServer(
		fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		transport.WithDebug(cfg.Debug),
		transport.WithMaxRetries(uint32(cfg.MaxRetries)),
		transport.WithLogger(log),
	)
	if err != nil {
		log.Errorf("listen failed: %v", err)
		os.Exit(1)
	}

	srv.OnReceive(func(id transport.ConnID, payload []byte) {
		log.Infof("conn %d: %d bytes", id, len(payload))
	})
	srv.OnDisconnect(func(id transport.ConnID, reason transport.DisconnectReason) {
		log.Infof("conn %d: disconnected (%s)", id, reason)
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Infof("shutting down")
	srv.DisconnectClients()
	if err := srv.DisconnectAll(); err != nil {
		log.Warnf("shutdown: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	log.Infof("stopped")
}
