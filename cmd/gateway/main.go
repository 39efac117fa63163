package main

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/shawn/wecom-gateway/internal/api"
	"github.com/shawn/wecom-gateway/internal/callback"
	"github.com/shawn/wecom-gateway/internal/credstore"
	"github.com/shawn/wecom-gateway/internal/directory"
	"github.com/shawn/wecom-gateway/internal/eventbus"
	"github.com/shawn/wecom-gateway/internal/lock"
	"github.com/shawn/wecom-gateway/internal/metrics"
	"github.com/shawn/wecom-gateway/internal/tokencache"
	"github.com/shawn/wecom-gateway/internal/wecom"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

// getFloat parses a non-negative number. Zero is a valid setting, so a typo
// must not silently fall through to it.
func getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		slog.Warn("invalid number, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func main() {
	// Config from env
	port := getenv("PORT", "8080")
	dynamoTable := getenv("DYNAMODB_TABLE", "wecom-credentials")
	dynamoEndpoint := os.Getenv("DYNAMODB_ENDPOINT")
	redisAddr := os.Getenv("REDIS_ADDR")
	baseURL := getenv("WECOM_API_BASE_URL", wecom.DefaultBaseURL)
	httpTimeout := getDuration("WECOM_HTTP_TIMEOUT", wecom.DefaultTimeout)
	margin := getDuration("TOKEN_SAFETY_MARGIN", tokencache.DefaultMargin)
	trustedCIDRs := splitList(os.Getenv("CALLBACK_TRUSTED_CIDRS"))
	ipRefreshTenant := os.Getenv("CALLBACK_IP_REFRESH_TENANT")
	ipRefreshInterval := getDuration("CALLBACK_IP_REFRESH_INTERVAL", time.Hour)
	decryptEcho := os.Getenv("CALLBACK_DECRYPT_ECHOSTR") == "true"
	callbackRate := getFloat("CALLBACK_RATE_LIMIT", 50)
	amqpURL := os.Getenv("AMQP_URL")
	amqpExchange := getenv("AMQP_EXCHANGE", "wecom.events")
	syncSchedule := os.Getenv("SYNC_SCHEDULE")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// AWS DynamoDB
	var awsOptFns []func(*config.LoadOptions) error
	if dynamoEndpoint != "" {
		// Static credentials for DynamoDB Local
		awsOptFns = append(awsOptFns,
			config.WithRegion(getenv("AWS_REGION", "us-east-1")),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				getenv("AWS_ACCESS_KEY_ID", "test"),
				getenv("AWS_SECRET_ACCESS_KEY", "test"),
				"",
			)),
		)
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, awsOptFns...)
	if err != nil {
		slog.Error("load AWS config", "err", err)
		os.Exit(1)
	}
	var dynamoOpts []func(*dynamodb.Options)
	if dynamoEndpoint != "" {
		dynamoOpts = append(dynamoOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = &dynamoEndpoint
		})
	}
	store := credstore.New(dynamodb.NewFromConfig(awsCfg, dynamoOpts...), dynamoTable)

	m := metrics.New()
	wcfg := wecom.Config{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: httpTimeout}}

	// Token cache, shared across replicas when Redis is configured
	cacheOpts := []tokencache.Option{
		tokencache.WithMargin(margin),
		tokencache.WithObserver(m.ObserveToken),
	}
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer rdb.Close()
		cacheOpts = append(cacheOpts,
			tokencache.WithStore(tokencache.NewRedisStore(rdb)),
			tokencache.WithLocker(lock.New(rdb), 30*time.Second, 200*time.Millisecond, 10*time.Second),
		)
	}
	tokens := tokencache.New(wecom.NewTokenFetcher(store, wcfg), cacheOpts...)
	client := wecom.NewClient(tokens, wcfg, wecom.WithObserver(m.ObserveAPICall))

	// Callback pipeline
	allow, err := callback.NewAllowList(trustedCIDRs)
	if err != nil {
		slog.Error("parse CALLBACK_TRUSTED_CIDRS", "err", err)
		os.Exit(1)
	}
	if allow.Len() == 0 && ipRefreshTenant == "" {
		slog.Warn("no trusted callback sources configured, accepting callbacks from any address")
	}
	if ipRefreshTenant != "" {
		go allow.RunRefresher(ctx, ipRefreshInterval, func(ctx context.Context) ([]string, error) {
			return client.CallbackIPs(ctx, ipRefreshTenant)
		})
	}
	var verifierOpts []callback.Option
	if decryptEcho {
		verifierOpts = append(verifierOpts, callback.WithEchoDecryption())
	}
	verifier := callback.NewVerifier(allow, callback.StoreSecrets{Store: store}, verifierOpts...)

	var routed callback.Handler = callback.LogHandler
	if amqpURL != "" {
		pub, closeAMQP, err := eventbus.Dial(amqpURL, amqpExchange)
		if err != nil {
			slog.Error("connect event bus", "err", err)
			os.Exit(1)
		}
		defer closeAMQP()
		routed = callback.Fanout{callback.LogHandler, pub}
	}
	events := &callback.Mux{
		ContactChange:         routed,
		ExternalContactChange: routed,
		TextMessage:           routed,
		Unhandled:             callback.LogHandler,
	}
	endpoint := callback.NewEndpoint(verifier, events, callback.WithOutcomeObserver(m.ObserveCallback))

	// Directory sync
	syncer := directory.NewSyncer(directory.NewService(client), store, directory.LogSink{},
		directory.WithSyncObserver(m.ObserveSync))
	if syncSchedule != "" {
		go func() {
			if err := syncer.Run(ctx, syncSchedule); err != nil {
				slog.Error("directory syncer", "err", err)
			}
		}()
	}

	h := api.New(api.Deps{
		Store:    store,
		Tokens:   tokens,
		Messages: client,
		Syncer:   syncer,
		Callback: endpoint,
		Metrics:  m.Handler(),
	}, api.Config{CallbackRate: rate.Limit(callbackRate)})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("gateway listening",
			"port", port,
			"table", dynamoTable,
			"shared_cache", redisAddr != "",
			"event_bus", amqpURL != "",
			"trusted_sources", allow.Len(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}
