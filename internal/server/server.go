package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/quizd/internal/api"
	"github.com/victornm/quizd/internal/attempt"
	"github.com/victornm/quizd/internal/auth"
	"github.com/victornm/quizd/internal/event"
	"github.com/victornm/quizd/internal/report"
	"github.com/victornm/quizd/internal/store"
	"github.com/victornm/quizd/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
		CORS struct {
			AllowedOrigins []string
		}
	}

	GRPC struct {
		Port int32
	}

	Log struct {
		Level  string
		Format string
	}

	Auth struct {
		Secret string
		Issuer string
		Expiry time.Duration
	}

	Attempt struct {
		SubmitGrace time.Duration
	}

	Event struct {
		PoolSize int
		Timeout  time.Duration
	}

	Redis struct {
		SlowThreshold time.Duration

		Report struct {
			Addrs           []string
			Pass            string
			Prefix          string
			PublishInterval time.Duration
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Addr     string
		User     string
		Pass     string
		Name     string
		SSLMode  string
		MaxConns int32
	}
}

// DefaultConfig returns the configuration used for keys that neither the file nor the environment set.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Log.Level = "info"
	c.Log.Format = "text"
	c.Auth.Issuer = "quizd"
	c.Auth.Expiry = 24 * time.Hour
	c.Attempt.SubmitGrace = 30 * time.Second
	c.Event.PoolSize = 1000
	c.Event.Timeout = 30 * time.Second
	c.Redis.SlowThreshold = 50 * time.Millisecond
	c.Redis.Report.Addrs = []string{"localhost:6379"}
	c.Redis.Report.Prefix = "quizd"
	c.Redis.Report.PublishInterval = 200 * time.Millisecond
	c.Redis.Pubsub.Addrs = []string{"localhost:6379"}
	c.Redis.Pubsub.Prefix = "quizd"
	c.Postgres.Addr = "localhost:5432"
	c.Postgres.User = "postgres"
	c.Postgres.Name = "quizd"
	c.Postgres.SSLMode = "disable"
	return c
}

// DatabaseURL returns the postgres:// URL of the configured database.
func (c Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Postgres.User, c.Postgres.Pass),
		Host:   c.Postgres.Addr,
		Path:   "/" + c.Postgres.Name,
	}

	q := url.Values{}
	if c.Postgres.SSLMode != "" {
		q.Set("sslmode", c.Postgres.SSLMode)
	}
	if c.Postgres.MaxConns > 0 {
		q.Set("pool_max_conns", fmt.Sprint(c.Postgres.MaxConns))
	}
	u.RawQuery = q.Encode()

	return u.String()
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			report redis.UniversalClient
			pubsub redis.UniversalClient
		}

		postgres *pgxpool.Pool
	}

	service struct {
		attempt *attempt.Service
		report  *report.Service
	}

	auth   *auth.Authenticator
	health *health.Server

	http *http.Server
	grpc *grpc.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	if c.Auth.Secret == "" {
		return nil, fmt.Errorf("server: auth secret is not set")
	}

	s.eb = event.NewBus(
		event.WithPoolSize(c.Event.PoolSize),
		event.WithTimeout(c.Event.Timeout),
	)

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r, s.c.Redis.SlowThreshold); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.report, err = connect(s.c.Redis.Report.Addrs, s.c.Redis.Report.Pass)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(s.c.DatabaseURL())
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() {
	st := store.NewStore(store.Config{
		DB: s.infra.postgres,
	})

	s.service.attempt = attempt.NewService(attempt.Config{
		Store:       st,
		EventBus:    s.eb,
		SubmitGrace: s.c.Attempt.SubmitGrace,
	})

	s.service.report = report.NewService(report.Config{
		EventBus:        s.eb,
		Store:           st,
		Redis:           s.infra.redis.report,
		Prefix:          s.c.Redis.Report.Prefix,
		PublishInterval: s.c.Redis.Report.PublishInterval,
	})
}

func (s *Server) initAPI() {
	s.auth = auth.NewAuthenticator(auth.Config{
		Secret: s.c.Auth.Secret,
		Issuer: s.c.Auth.Issuer,
		Expiry: s.c.Auth.Expiry,
	})

	e := gin.New()
	e.Use(gin.Recovery())
	if origins := s.c.HTTP.CORS.AllowedOrigins; len(origins) > 0 {
		cc := cors.DefaultConfig()
		cc.AllowOrigins = origins
		cc.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
		cc.MaxAge = 12 * time.Hour
		e.Use(cors.New(cc))
	}
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	e.GET("/healthz", s.healthz)
	pprof.Register(e, "/debug/pprof")

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptors(
		s.auth.UnaryServerInterceptor("/"+healthpb.Health_ServiceDesc.ServiceName+"/"),
		api.UnaryErrorInterceptor(),
	))

	a := api.New(api.Config{
		GRPC:         s.grpc,
		EventBus:     s.eb,
		Attempt:      s.service.attempt,
		Report:       s.service.report,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})
	a.RegisterRoutes(e.Group("/v1", s.auth.GinMiddleware()))

	s.health = health.NewServer()
	s.health.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]error{
		"postgres":     s.infra.postgres.Ping(ctx),
		"redis_report": s.infra.redis.report.Ping(ctx).Err(),
		"redis_pubsub": s.infra.redis.pubsub.Ping(ctx).Err(),
	}

	status, body := http.StatusOK, gin.H{}
	for name, err := range checks {
		if err != nil {
			status = http.StatusServiceUnavailable
			body[name] = err.Error()
			continue
		}
		body[name] = "ok"
	}

	c.JSON(status, body)
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, "server: gRPC listening", "port", s.c.GRPC.Port)
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, "server: HTTP listening", "port", s.c.HTTP.Port)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	if err := s.eb.Stop(ctx); err != nil {
		slog.ErrorContext(ctx, "server: stop event bus failed", "error", err)
	}

	s.infra.postgres.Close()
	for name, r := range map[string]redis.UniversalClient{
		"report": s.infra.redis.report,
		"pubsub": s.infra.redis.pubsub,
	} {
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "client", name, "error", err)
		}
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
