package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chatterstack/chatterhub/internal/api"
	"github.com/chatterstack/chatterhub/internal/auth"
	"github.com/chatterstack/chatterhub/internal/config"
	"github.com/chatterstack/chatterhub/internal/hub"
	"github.com/chatterstack/chatterhub/internal/persistence"
	"github.com/chatterstack/chatterhub/internal/relay"
	"github.com/chatterstack/chatterhub/internal/stats"
	"github.com/redis/go-redis/v9"
	"github.com/teris-io/shortid"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	redisAddr      string
	persistenceURL string
	signingKey     string
	internalToken  string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&redisAddr, "redis-addr", "localhost:6379", "redis address for the broadcast relay")
	flag.StringVar(&persistenceURL, "persistence-url", "http://localhost:9000/v1", "base URL of the persistence service")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.StringVar(&internalToken, "internal-token", "", "shared token for the internal publish API")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[chatterhub] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, redisAddr, persistenceURL, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}
	cfg.InternalToken = internalToken

	nodeId, err := shortid.Generate()
	if err != nil {
		logger.Fatal("generate node id:", err)
	}
	logger.Printf("node id: %s", nodeId)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		logger.Fatal("redis ping:", err)
	}
	cancelPing()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	rel := relay.NewRedisRelay(rdb, nodeId, logger, statsUpdater)
	store := persistence.NewRESTStore(cfg.PersistenceURL)

	messageHub := hub.New(nodeId, rel, store, logger, statsUpdater, cfg.SendQueueSize, cfg.TypingMinInterval)

	srv := api.NewHubServer(mux, logger, messageHub, auth.NewJWTValidator(cfg.SigningKey), cfg)

	relayCtx, cancelRelay := context.WithCancel(context.Background())
	defer cancelRelay()

	go func() {
		if err := messageHub.Run(relayCtx); err != nil && relayCtx.Err() == nil {
			logger.Println("relay:", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down hub...")
	if err := messageHub.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("hub shutdown:", err)
	}

	cancelRelay()
	if err := rel.Close(); err != nil {
		logger.Println("relay close:", err)
	}

	logger.Println("shutdown complete")
}
