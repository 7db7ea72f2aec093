/*
 * @module service/init
 * @description 服务初始化模块，负责数据库连接、配置加载、依赖组件装配与后台任务启动
 * @architecture 分层架构 - 服务层
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 日志初始化 -> 数据库连接 -> 迁移 -> 加载配置 -> 装配客户端/引擎/评分 -> 启动调度与监听
 * @rules 数据库与远端数据源为必需依赖，失败时终止启动；Redis、告警通道为可选依赖，失败时降级
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres, gorm.io/driver/sqlite, github.com/go-redis/redis/v8
 * @refs main.go, api/routes.go
 */

package service

import (
	"context"
	"dataquality-service/client"
	"dataquality-service/logger"
	"dataquality-service/service/config"
	"dataquality-service/service/data_quality"
	"dataquality-service/service/database"
	"dataquality-service/service/distributed_lock"
	"dataquality-service/service/event"
	"dataquality-service/service/monitoring"
	"dataquality-service/service/rate_limiter"
	"dataquality-service/service/scheduler"
	"dataquality-service/service/scoring"
	"dataquality-service/service/validation_engine"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	DB                      *gorm.DB
	GlobalConfigManager     *config.Manager
	GlobalRedisClient       *redis.Client
	GlobalRemoteClient      *client.RemoteClient
	GlobalRunStore          *database.RunStore
	GlobalValidationEngine  *validation_engine.Engine
	GlobalScoringEngine     *scoring.ScoringEngine
	GlobalSchedulerService  *scheduler.SchedulerService
	GlobalAlertStream       *event.AlertStream
	GlobalAlertPublisher    event.AlertPublisher
	GlobalHealthChecker     *monitoring.HealthChecker
	GlobalMetricsCollector  *monitoring.MetricsCollector
	backgroundCtx, stopAll  = context.WithCancel(context.Background())
	postgresDSN             string
)

func init() {
	logger.InitLogger()
	initDatabase()
	runMigrations()
	initServices()
}

// initDatabase 初始化数据库连接，DB_DRIVER=sqlite 时使用本地文件库
func initDatabase() {
	var dialector gorm.Dialector

	if strings.EqualFold(os.Getenv("DB_DRIVER"), "sqlite") {
		path := getEnvWithDefault("DB_PATH", "dataquality.db")
		dialector = sqlite.Open(path)
		slog.Info("使用SQLite数据库", "path", path)
	} else {
		// 优先使用DATABASE_URL环境变量
		if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
			postgresDSN = databaseURL
		} else {
			host := getEnvWithDefault("DB_HOST", "localhost")
			port := getEnvWithDefault("DB_PORT", "5432")
			user := getEnvWithDefault("DB_USER", "postgres")
			password := getEnvWithDefault("DB_PASSWORD", "postgres")
			dbname := getEnvWithDefault("DB_NAME", "postgres")
			sslmode := getEnvWithDefault("DB_SSLMODE", "disable")
			schema := getEnvWithDefault("DB_SCHEMA", "public")

			postgresDSN = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s TimeZone=Asia/Shanghai",
				host, port, user, password, dbname, sslmode, schema)
		}
		dialector = postgres.Open(postgresDSN)
	}

	var err error
	DB, err = gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		fatal("数据库连接失败", err)
	}
	slog.Info("数据库连接成功")
}

// getEnvWithDefault 获取环境变量，如果不存在则返回默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

// runMigrations 运行数据库迁移
func runMigrations() {
	if err := database.AutoMigrate(DB); err != nil {
		fatal("数据库迁移失败", err)
	}
}

// initServices 初始化服务
func initServices() {
	var err error
	GlobalConfigManager, err = config.NewManager(os.Getenv("DQ_CONFIG_PATH"))
	if err != nil {
		fatal("加载校验配置失败", err)
	}
	cfg := GlobalConfigManager.Current()

	GlobalRedisClient = initRedis(cfg.Redis)

	GlobalRemoteClient, err = client.NewRemoteClient(client.RemoteClientOptions{
		Remote:  cfg.Remote,
		Retry:   cfg.Retry,
		Limiter: initLimiter(cfg.RateLimit),
		Cache:   initQueryCache(cfg.Cache),
	})
	if err != nil {
		fatal("初始化远端数据源客户端失败", err)
	}
	GlobalRemoteClient.StartTokenRefresher(backgroundCtx, cfg.Remote.RefreshInterval)

	GlobalRunStore = database.NewRunStore(DB)
	GlobalValidationEngine = validation_engine.NewEngine(
		GlobalConfigManager,
		data_quality.NewDefaultRegistry(),
		GlobalRemoteClient,
		database.NewLocalStore(DB),
		GlobalRunStore,
	)

	GlobalAlertStream = event.NewAlertStream()
	GlobalAlertPublisher = initAlertPublisher(cfg.Alerting)
	GlobalScoringEngine, err = scoring.NewScoringEngine(GlobalConfigManager, GlobalRunStore, GlobalAlertPublisher)
	if err != nil {
		fatal("初始化评分引擎失败", err)
	}
	GlobalValidationEngine.SetScorer(GlobalScoringEngine)

	var lock distributed_lock.DistributedLock
	if GlobalRedisClient != nil {
		lock = distributed_lock.NewRedisLock(GlobalRedisClient, "dq_scheduler:lock")
	}
	GlobalSchedulerService = scheduler.NewSchedulerService(GlobalConfigManager, GlobalValidationEngine, GlobalRunStore, lock)
	GlobalConfigManager.AddChangeNotifier(GlobalSchedulerService.OnConfigChange)
	if err := GlobalSchedulerService.Start(); err != nil {
		slog.Error("启动调度器服务失败", "error", err)
	}

	startReloadListener()
	initHealthChecker()
	GlobalMetricsCollector = monitoring.NewMetricsCollector(DB)

	slog.Info("服务初始化完成", "entities", len(cfg.Entities))
}

// initRedis Redis为可选依赖，未配置或不可达时返回nil
func initRedis(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("Redis不可用，缓存、限流与调度锁降级为进程内实现", "addr", cfg.Addr, "error", err)
		rdb.Close()
		return nil
	}
	slog.Info("Redis连接成功", "addr", cfg.Addr)
	return rdb
}

func initQueryCache(cfg config.CacheConfig) *client.QueryCache {
	if !cfg.Enabled {
		return nil
	}
	cache, err := client.NewQueryCache(cfg.MaxEntries, cfg.DefaultTTL)
	if err != nil {
		slog.Warn("创建查询缓存失败，禁用缓存", "error", err)
		return nil
	}
	if cfg.Backend == "redis" && GlobalRedisClient != nil {
		cache = cache.WithRedis(GlobalRedisClient, cfg.KeyPrefix)
	}
	return cache
}

func initLimiter(cfg config.RateLimitConfig) rate_limiter.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Second
	}
	if cfg.Backend == "redis" && GlobalRedisClient != nil {
		limiter, err := rate_limiter.NewRedisRateLimiter(GlobalRedisClient, rate_limiter.RateLimitRule{
			Scope:       "remote_query",
			Window:      window,
			MaxRequests: cfg.RequestsPerSecond,
		})
		if err == nil {
			return limiter
		}
		slog.Warn("创建Redis限流器失败，使用进程内限流", "error", err)
	}
	limiter, err := rate_limiter.NewSlidingWindowLimiter(cfg.RequestsPerSecond, window)
	if err != nil {
		slog.Warn("创建限流器失败，不限流", "error", err)
		return nil
	}
	return limiter
}

// initAlertPublisher 告警同时推送到配置的通道与SSE订阅连接
func initAlertPublisher(cfg config.AlertingConfig) event.AlertPublisher {
	publisher, err := event.NewAlertPublisher(cfg)
	if err != nil {
		slog.Warn("创建告警发布器失败，降级为日志告警", "backend", cfg.Backend, "error", err)
		publisher = &event.LogPublisher{}
	}
	return event.NewMultiPublisher(publisher, GlobalAlertStream)
}

// startReloadListener PostgreSQL部署时监听配置重载通知
func startReloadListener() {
	if postgresDSN == "" || os.Getenv("DQ_RELOAD_LISTEN") == "false" {
		return
	}
	listener, err := config.NewReloadListener(postgresDSN, GlobalConfigManager)
	if err != nil {
		slog.Warn("配置重载监听器启动失败，仅支持接口触发重载", "error", err)
		return
	}
	go listener.Run(backgroundCtx)
}

func initHealthChecker() {
	GlobalHealthChecker = monitoring.NewHealthChecker(5 * time.Second)
	GlobalHealthChecker.Register("database", true, monitoring.DatabaseCheck(DB))
	if GlobalRedisClient != nil {
		GlobalHealthChecker.Register("redis", false, monitoring.RedisCheck(GlobalRedisClient))
	}
	GlobalHealthChecker.Register("remote", false, monitoring.StatsCheck(GlobalRemoteClient.GetStatistics))
	GlobalHealthChecker.Register("scheduler", false, monitoring.StatsCheck(func() map[string]interface{} {
		stats := make(map[string]interface{})
		for name, next := range GlobalSchedulerService.Entries() {
			stats[name] = next
		}
		return stats
	}))
}

// Shutdown 停止后台任务并释放连接
func Shutdown() {
	slog.Info("开始关闭服务")
	stopAll()
	GlobalSchedulerService.Stop()
	if err := GlobalAlertPublisher.Close(); err != nil {
		slog.Warn("关闭告警发布器失败", "error", err)
	}
	if err := GlobalRemoteClient.Close(); err != nil {
		slog.Warn("撤销远端Token失败", "error", err)
	}
	if GlobalRedisClient != nil {
		GlobalRedisClient.Close()
	}
	if sqlDB, err := DB.DB(); err == nil {
		sqlDB.Close()
	}
	slog.Info("服务已关闭")
}
