package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/civicflow/civicflow/internal/assignment"
	"github.com/civicflow/civicflow/internal/dag"
	"github.com/civicflow/civicflow/internal/dlq"
	"github.com/civicflow/civicflow/internal/engine"
	"github.com/civicflow/civicflow/internal/event"
	"github.com/civicflow/civicflow/internal/hook"
	"github.com/civicflow/civicflow/internal/integration"
	"github.com/civicflow/civicflow/internal/operator"
	"github.com/civicflow/civicflow/internal/service"
	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/pkg/api"
	"github.com/civicflow/civicflow/pkg/api/middleware"
	"github.com/civicflow/civicflow/pkg/models"
)

func main() {
	logger := logrus.New()
	if os.Getenv("ENV") == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
		gin.SetMode(gin.ReleaseMode)
	}
	logger.Infof("Starting civicflow server v%s", api.Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage. Postgres when configured, in-memory otherwise.
	var (
		store storage.Store
		db    *storage.DB
	)
	if os.Getenv("DB_HOST") != "" {
		dbCfg := dbConfigFromEnv()
		migrations := envOr("MIGRATIONS_PATH", "migrations")
		if err := storage.RunMigrations(dbCfg, migrations); err != nil {
			logger.Fatalf("Failed to run migrations: %v", err)
		}
		var err error
		db, err = storage.NewDB(dbCfg)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		store = storage.NewGormStore(db)
		logger.Infof("Connected to postgres at %s:%s", dbCfg.Host, dbCfg.Port)
	} else {
		store = storage.NewMemoryStore()
		logger.Warn("DB_HOST not set, using in-memory storage")
	}

	registry := dag.NewRegistry(store)
	if err := registry.LoadFromStore(ctx); err != nil {
		logger.Fatalf("Failed to load templates: %v", err)
	}
	if dir := os.Getenv("TEMPLATES_DIR"); dir != "" {
		if err := loadTemplateDir(ctx, registry, dir); err != nil {
			logger.Fatalf("Failed to load templates from %s: %v", dir, err)
		}
	}
	logger.Infof("Registry holds %d templates", len(registry.List()))

	// Event bus, with optional Redis and NATS transports.
	bus := event.NewBus(store)
	defer bus.Close()

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		event.NewRedisPublisher(client).AttachTo(bus)
		logger.Infof("Mirroring events to redis at %s", addr)
	}

	if url := os.Getenv("NATS_URL"); url != "" {
		bridge, err := event.NewNATSBridge(url, bus)
		if err != nil {
			logger.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer bridge.Close()
		if err := bridge.StartIntake(ctx); err != nil {
			logger.Fatalf("Failed to start NATS intake: %v", err)
		}
		logger.Infof("Bridging events over NATS at %s", url)
	}

	// Operator collaborators.
	actions := operator.NewActionRegistry()
	registerBuiltinActions(actions)

	var entities *integration.EntityClient
	if url := os.Getenv("ENTITY_SERVICE_URL"); url != "" {
		entities = integration.NewEntityClient(url, 0, nil)
	}

	integrations := integration.NewHTTPClient(&integration.ClientConfig{
		Services: servicesFromEnv(os.Getenv("INTEGRATION_SERVICES")),
	})

	deps := &operator.Deps{
		Actions:      actions,
		Events:       bus,
		Integrations: integrations,
	}
	if entities != nil {
		deps.Entities = entities
	}

	letters := dlq.NewMemoryQueue()

	engineCfg := engine.DefaultConfig()
	if n := envInt("WORKER_COUNT", 0); n > 0 {
		engineCfg.WorkerCount = n
	}
	exec := engine.NewExecutor(registry, store, deps, letters, engineCfg)

	assignments := assignment.NewService(teamsFromEnv(logger), store)
	assignments.SetAdmitter(exec)
	exec.SetAssigner(assignments)

	if err := exec.Start(ctx); err != nil {
		logger.Fatalf("Failed to start executor: %v", err)
	}
	defer exec.Stop(context.Background())

	sweeper := engine.NewSweeper(exec, store, engine.DefaultSweepConfig())
	if err := sweeper.Start(ctx); err != nil {
		logger.Fatalf("Failed to start sweeper: %v", err)
	}
	defer sweeper.Stop()

	// Hooks see every bus event and start listener workflows through the
	// service facade.
	var entityOwnership hook.EntityOwnership
	if entities != nil {
		entityOwnership = entities
	}
	hooks := hook.NewEngine(registry, store, store, nil, entityOwnership)
	svc := service.NewWorkflows(registry, store, exec, hooks, bus, assignments, letters)
	hooks.SetStarter(svc)
	bus.RegisterSink(hooks.HandleEvent)

	// Re-deliver events published before the last shutdown that never
	// reached the hook engine.
	if err := hooks.Replay(ctx, store, time.Now().Add(-24*time.Hour)); err != nil {
		logger.Warnf("Hook replay failed: %v", err)
	}

	apiCfg := api.Config{
		Logger:        logger,
		RatePerSecond: envFloat("RATE_LIMIT_RPS", 0),
		RateBurst:     envInt("RATE_LIMIT_BURST", 10),
		ServiceChecks: map[string]func() string{},
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		jwtCfg := middleware.DefaultJWTConfig()
		jwtCfg.SecretKey = []byte(secret)
		apiCfg.JWT = jwtCfg
	}
	if db != nil {
		apiCfg.ServiceChecks["database"] = func() string {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := db.Health(checkCtx); err != nil {
				return "unreachable"
			}
			return "healthy"
		}
	}

	router := api.NewRouter(apiCfg, svc, assignments)

	srv := &http.Server{
		Addr:    ":" + envOr("PORT", "8080"),
		Handler: router,
	}

	go func() {
		logger.Infof("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown: %v", err)
	}
}

// loadTemplateDir registers every .yaml and .json template in dir.
func loadTemplateDir(ctx context.Context, registry *dag.Registry, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	parser := dag.NewParser()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := dir + "/" + entry.Name()
		var tpl *models.Template
		switch {
		case strings.HasSuffix(entry.Name(), ".yaml"), strings.HasSuffix(entry.Name(), ".yml"):
			tpl, err = parser.ParseYAMLFile(path)
		case strings.HasSuffix(entry.Name(), ".json"):
			tpl, err = parser.ParseJSONFile(path)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if err := registry.Register(ctx, tpl); err != nil && !errors.Is(err, dag.ErrTemplateExists) {
			return fmt.Errorf("register %s: %w", tpl.ID, err)
		}
	}
	return nil
}

// registerBuiltinActions installs handlers every deployment gets.
func registerBuiltinActions(actions *operator.ActionRegistry) {
	actions.Register("noop", func(context.Context, map[string]interface{}, map[string]interface{}) (map[string]interface{}, error) {
		return nil, nil
	})
	actions.Register("timestamp", func(context.Context, map[string]interface{}, map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"timestamp": time.Now().UTC().Format(time.RFC3339)}, nil
	})
}

// teamsFromEnv reads the review team roster from REVIEW_TEAMS, a JSON
// array of teams.
func teamsFromEnv(logger *logrus.Logger) *assignment.StaticTeams {
	raw := os.Getenv("REVIEW_TEAMS")
	if raw == "" {
		return assignment.NewStaticTeams()
	}
	var teams []*models.Team
	if err := json.Unmarshal([]byte(raw), &teams); err != nil {
		logger.Fatalf("Invalid REVIEW_TEAMS: %v", err)
	}
	return assignment.NewStaticTeams(teams...)
}

// servicesFromEnv parses "name=url,name=url" into a service map.
func servicesFromEnv(raw string) map[string]string {
	services := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		name, url, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && name != "" {
			services[name] = url
		}
	}
	return services
}

func dbConfigFromEnv() *storage.Config {
	cfg := storage.DefaultConfig()
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.DBName = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		cfg.SSLMode = v
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
