package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/livequiz/internal/api"
	"github.com/victornm/livequiz/internal/catalog"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/game"
	"github.com/victornm/livequiz/internal/gateway"
	"github.com/victornm/livequiz/internal/history"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/registry"
	"github.com/victornm/livequiz/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
		// PublicURL is where participants reach the join page, used for QR codes.
		PublicURL      string
		AllowedOrigins []string
	}

	GRPC struct {
		Port int32
	}

	Gateway gateway.Config

	Quiz struct {
		Rules               game.Rules
		CatalogFile         string
		EmptySessionTimeout time.Duration
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	// Postgres sections are optional. Without a catalog database quizzes come from CatalogFile.
	Postgres struct {
		Catalog PostgresConfig
		History PostgresConfig
		Migrate bool
	}

	NATS history.NATSConfig
}

type PostgresConfig struct {
	Addr string
	User string
	Pass string
	Name string
}

// DefaultConfig is merged under the config file.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Gateway = gateway.DefaultConfig()
	c.Quiz.Rules = game.DefaultRules()
	c.Quiz.EmptySessionTimeout = 5 * time.Minute
	c.Redis.Leaderboard.Addrs = []string{"localhost:6379"}
	c.Redis.Leaderboard.Prefix = "livequiz"
	c.Redis.Pubsub.Addrs = []string{"localhost:6379"}
	c.Redis.Pubsub.Prefix = "livequiz"
	return c
}

type Server struct {
	c Config

	eb      *event.Bus
	metrics *telemetry.Metrics

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres struct {
			catalog *pgxpool.Pool
			history *pgxpool.Pool
		}

		nats *history.NATSPublisher
	}

	service struct {
		catalog     registry.Catalog
		registry    *registry.Service
		history     *history.Service
		leaderboard *leaderboard.Service
		hub         *gateway.Hub
	}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
}

func Init(ctx context.Context, c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()
	s.metrics = telemetry.NewMetrics(prometheus.DefaultRegisterer)

	if err := s.initInfra(ctx); err != nil {
		s.closeInfra()
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(ctx); err != nil {
		s.closeInfra()
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra(ctx context.Context) error {
	if err := s.initRedis(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	if s.c.NATS.URL != "" {
		p, err := history.NewNATSPublisher(s.c.NATS)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		s.infra.nats = p
	}

	return nil
}

func (s *Server) initRedis(ctx context.Context) error {
	connect := func(name string, addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(name, r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect("leaderboard", s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect("pubsub", s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres(ctx context.Context) (err error) {
	connect := func(pc PostgresConfig) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", pc.User, pc.Pass, pc.Addr, pc.Name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, err
		}

		return db, nil
	}

	if s.c.Postgres.Catalog.Addr != "" {
		s.infra.postgres.catalog, err = connect(s.c.Postgres.Catalog)
		if err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
	}

	if s.c.Postgres.History.Addr != "" {
		s.infra.postgres.history, err = connect(s.c.Postgres.History)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
	}

	return nil
}

func (s *Server) initService(ctx context.Context) error {
	if err := s.initCatalog(ctx); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	if err := s.initHistory(ctx); err != nil {
		return fmt.Errorf("history: %w", err)
	}

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})

	s.c.Gateway.AllowedOrigins = s.c.HTTP.AllowedOrigins
	s.service.hub = gateway.NewHub(s.c.Gateway, s.metrics)

	s.service.registry = registry.NewService(registry.Config{
		Catalog:             s.service.catalog,
		Clock:               clockwork.NewRealClock(),
		Sender:              s.service.hub,
		Publisher:           s.eb,
		Metrics:             s.metrics,
		Rules:               s.c.Quiz.Rules,
		EmptySessionTimeout: s.c.Quiz.EmptySessionTimeout,
	})

	s.service.hub.SetHandler(gateway.NewDispatcher(s.service.registry, s.service.hub))
	return nil
}

func (s *Server) initCatalog(ctx context.Context) error {
	switch {
	case s.infra.postgres.catalog != nil:
		p := catalog.NewPostgres(catalog.Config{DB: s.infra.postgres.catalog})
		if s.c.Postgres.Migrate {
			if err := p.Migrate(ctx); err != nil {
				return err
			}
		}
		s.service.catalog = p

	case s.c.Quiz.CatalogFile != "":
		m, err := catalog.LoadFile(s.c.Quiz.CatalogFile)
		if err != nil {
			return err
		}
		s.service.catalog = m

	default:
		slog.WarnContext(ctx, "server: no quiz catalog configured, only an empty one is served")
		s.service.catalog = catalog.NewMemory(nil, nil)
	}

	return nil
}

func (s *Server) initHistory(ctx context.Context) error {
	c := history.Config{EventBus: s.eb}

	// Leave the interfaces nil rather than holding typed nil pointers.
	if s.infra.postgres.history != nil {
		store := history.NewPostgresStore(s.infra.postgres.history)
		if s.c.Postgres.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return err
			}
		}
		c.Store = store
	}
	if s.infra.nats != nil {
		c.Publisher = s.infra.nats
	}

	s.service.history = history.NewService(c)
	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.Use(gin.Recovery())
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	e.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	e.GET("/ws", gin.WrapH(s.service.hub))
	pprof.Register(e, "/debug/pprof")

	api.New(api.Config{
		EventBus:     s.eb,
		Sessions:     s.service.registry,
		Leaderboard:  s.service.leaderboard,
		History:      s.service.history,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
		PublicURL:    s.c.HTTP.PublicURL,
	}).Register(e)

	origins := s.c.HTTP.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedOrigins: origins,
		AllowedHeaders: []string{"*"},
	}).Handler(e)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 60 * time.Second,
	}

	s.grpc, s.health = telemetry.NewGRPCServer()
}

// Start serves HTTP and gRPC until both stop. It returns the first serving error.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		return fmt.Errorf("grpc server: listen: %w", err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return eg.Wait()
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}
	s.grpc.GracefulStop()

	// Sessions end before the sockets so players receive the shutdown notice.
	s.service.registry.Shutdown(ctx)
	s.service.hub.Close()

	s.eb.Stop()
	s.closeInfra()

	slog.InfoContext(ctx, "server: shutdown completed")
}

func (s *Server) closeInfra() {
	if s.infra.nats != nil {
		if err := s.infra.nats.Close(); err != nil {
			slog.Error("server: close nats failed", "error", err)
		}
	}

	for _, r := range []redis.UniversalClient{s.infra.redis.leaderboard, s.infra.redis.pubsub} {
		if r != nil {
			_ = r.Close()
		}
	}

	for _, db := range []*pgxpool.Pool{s.infra.postgres.catalog, s.infra.postgres.history} {
		if db != nil {
			db.Close()
		}
	}
}
