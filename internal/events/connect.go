package events

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ConnectConfig holds the NATS connection settings
type ConnectConfig struct {
	Name           string
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
	Retries        int
}

// Connect dials NATS with retries and returns the connection and its JetStream context
func Connect(cfg ConnectConfig, logger *zap.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	retries := cfg.Retries
	if retries < 1 {
		retries = 1
	}

	var (
		nc  *nats.Conn
		err error
	)
	for i := 0; i < retries; i++ {
		nc, err = nats.Connect(cfg.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))
	return nc, js, nil
}
