package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	defaultTypingMinInterval = time.Second
	defaultSendQueueSize     = 256
)

type Config struct {
	ServerAddr     string
	RedisAddr      string
	PersistenceURL string
	SigningKey     []byte
	AllowedOrigins []string
	// InternalToken guards the hub's internal publish API used by the
	// REST service. Empty disables the check.
	InternalToken string
	// TypingMinInterval is the minimum gap between typing events
	// accepted from one session in one room.
	TypingMinInterval time.Duration
	// SendQueueSize bounds each session's outbound queue. A session
	// that overflows it is disconnected.
	SendQueueSize int
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, redisAddr, persistenceURL, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if redisAddr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if persistenceURL == "" {
		return nil, fmt.Errorf("persistence URL cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:        serverAddr,
		RedisAddr:         redisAddr,
		PersistenceURL:    persistenceURL,
		SigningKey:        signingKey,
		AllowedOrigins:    allowedOrigins,
		TypingMinInterval: defaultTypingMinInterval,
		SendQueueSize:     defaultSendQueueSize,
	}, nil
}
