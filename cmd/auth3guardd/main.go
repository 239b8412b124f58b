package main

import (
	"fmt"
	"log"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/auth3labs/auth3guard/api"
	"github.com/auth3labs/auth3guard/config"
	"github.com/auth3labs/auth3guard/domain"
	"github.com/auth3labs/auth3guard/flow"
	"github.com/auth3labs/auth3guard/guardian"
	"github.com/auth3labs/auth3guard/internal/locking"
	"github.com/auth3labs/auth3guard/logger"
	"github.com/auth3labs/auth3guard/persistence"
	"github.com/auth3labs/auth3guard/proof"
	"github.com/auth3labs/auth3guard/risk"
	"github.com/auth3labs/auth3guard/session"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger.InitLogger(cfg.LogLevel)
	defer logger.Log.Sync()

	logger.Log.Info("Starting Auth3 Guard",
		zap.Int("port", cfg.Port),
		zap.String("db_type", cfg.DBType),
	)

	repo, err := persistence.Open(cfg.DBType, cfg.DSN, nil)
	if err != nil {
		logger.Log.Fatal("failed to initialize storage", zap.Error(err))
	}

	var proofOracle domain.ProofOracle
	if cfg.ProofURL != "" {
		proofOracle = proof.NewHTTPOracle(cfg.ProofURL, cfg.OracleTimeout)
	} else {
		logger.Log.Warn("PROOF_URL not set, using local development proof oracle")
		proofOracle = proof.NewBcryptOracle(0)
	}

	var riskOracle domain.RiskOracle
	if cfg.RiskURL != "" {
		riskOracle = risk.NewHTTPOracle(cfg.RiskURL, cfg.RiskThreshold, cfg.OracleTimeout)
	} else {
		logger.Log.Warn("RISK_URL not set, using static development risk oracle")
		riskOracle = risk.NewStaticOracle(0.1)
	}

	var lockoutStore flow.LockoutStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		lockoutStore = flow.NewRedisLockoutStore(client, "")
	} else {
		lockoutStore = flow.NewMemoryLockoutStore()
	}
	lockout := flow.NewLockoutGate(lockoutStore, cfg.LockoutMaxFailures, cfg.LockoutDuration, cfg.LockoutDuration)

	locks := locking.NewKeyed()
	protocol := guardian.NewProtocol(repo, locks,
		guardian.WithValidityWindow(cfg.RecoveryWindow),
		guardian.WithAuditStore(repo),
		guardian.WithLogger(logger.Log),
	)
	sessions := session.NewManager(session.NewJWTStrategy([]byte(cfg.SessionSecret), cfg.SessionTTL))
	manager := flow.NewManager(repo, proofOracle, riskOracle, protocol, sessions, locks,
		flow.WithMinGuardians(cfg.MinGuardians),
		flow.WithOracleTimeout(cfg.OracleTimeout),
		flow.WithAuditStore(repo),
		flow.WithLogger(logger.Log),
		flow.WithLockout(lockout),
	)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	h := api.NewHandler(manager, repo, repo)
	h.RegisterRoutes(e.Group("/api/v1"))

	if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		logger.Log.Fatal("server stopped", zap.Error(err))
	}
}
