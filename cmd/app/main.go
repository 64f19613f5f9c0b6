package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tapduel/internal/bot"
	"tapduel/internal/config"
	"tapduel/internal/db"
	"tapduel/internal/game"
	httpServer "tapduel/internal/http"
	"tapduel/internal/http/handlers"
	"tapduel/internal/http/middleware"
	"tapduel/internal/logger"
	"tapduel/internal/matchmaker"
	"tapduel/internal/metrics"
	"tapduel/internal/repository"
	"tapduel/internal/service"
	"tapduel/internal/ton"
	"tapduel/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version устанавливается при сборке
var Version = "dev"

func main() {
	cfg := config.Load()

	// Инициализация структурированного логгера
	jsonLogs := os.Getenv("LOG_FORMAT") == "json"
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger.Init(logLevel, jsonLogs)
	log := logger.Get()

	service.InitJWT(cfg.JWTSecret)

	dbPool := db.Connect(cfg.DatabaseURL)
	defer dbPool.Close()

	// репозитории
	userRepo := repository.NewUserRepository(dbPool)
	walletRepo := repository.NewWalletRepository(dbPool)
	intentRepo := repository.NewIntentRepository(dbPool)
	refundRepo := repository.NewRefundRepository(dbPool)
	paymentRepo := repository.NewPaymentRepository(dbPool)
	statsRepo := repository.NewStatsRepository(dbPool)
	matchRepo := repository.NewMatchRepository(dbPool)
	auditRepo := repository.NewAuditRepository(dbPool)

	// игровое ядро
	mm := matchmaker.New(matchRepo)
	engine := game.NewEngine()

	// сервисы
	intentSvc := service.NewIntentService(intentRepo, walletRepo, refundRepo, mm, auditRepo, cfg.EscrowAddress)
	intentSvc.SetDeposits(repository.NewDepositRepository(dbPool))
	settlementSvc := service.NewSettlementService(paymentRepo, statsRepo, userRepo, auditRepo, cfg.PaymentSecret)
	balanceSvc := service.NewBalanceService(userRepo, auditRepo)

	hub := ws.NewHub(mm, engine, intentSvc, settlementSvc, balanceSvc)

	r := gin.Default()

	// CORS для прода и связи фронта с бэкендом (разные домены)
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		}
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	middleware.InitRedisRateLimiter(cfg.RedisURL)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := handlers.NewHandler(dbPool, intentSvc, settlementSvc, middleware.Client(), cfg)
	wsh := ws.NewWSHandler(hub, userRepo, cfg.DevMode)
	httpServer.RegisterRoutes(r, h, wsh, Version)

	network := ton.NetworkMainnet
	if cfg.TonNetwork == "testnet" {
		network = ton.NetworkTestnet
	}

	// Запуск ops бота ПЕРЕД наблюдателем депозитов, чтобы колбэки
	// аномалий были установлены до первого скана
	var opsBot *bot.OpsBot
	if cfg.OpsBotEnabled && len(cfg.AdminTelegramIDs) > 0 {
		opsService := service.NewOpsService(dbPool)

		// горячий кошелек для возвратов депозитов
		if cfg.RefundMnemonic != "" {
			refundWallet, err := ton.NewWallet(cfg.RefundMnemonic, network)
			if err != nil {
				log.Error("не удалось инициализировать кошелек возвратов", "error", err)
			} else {
				opsService.SetWallet(refundWallet)
				log.Info("кошелек возвратов готов", "address", refundWallet.GetAddress())
			}
		} else {
			log.Warn("TON_REFUND_MNEMONIC не задан - возвраты только вручную")
		}

		var err error
		opsBot, err = bot.NewOpsBot(cfg.BotToken, opsService, cfg.AdminTelegramIDs)
		if err != nil {
			log.Error("не удалось запустить ops бота", "error", err)
		} else {
			go opsBot.Start()
			hub.SetRefundNotify(opsBot.NotifyRefundCreated)
			log.Info("ops бот запущен", "admin_ids", cfg.AdminTelegramIDs)
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: r,
	}

	go func() {
		log.Info("сервер запущен", "port", cfg.AppPort, "version", Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", "error", err)
		}
	}()

	// Наблюдатель депозитов: сканирует escrow и помечает интенты PAID
	var depositWatcher *service.DepositWatcher
	if cfg.EscrowAddress != "" {
		tonClient := ton.NewClient(network, cfg.TonAPIKey)

		depositWatcher = service.NewDepositWatcher(
			dbPool,
			tonClient,
			cfg.EscrowAddress,
			cfg.DepositInterval,
		)
		depositWatcher.SetPaidCallback(hub.NotifyIntentPaid)
		if opsBot != nil {
			depositWatcher.SetAnomalyCallback(opsBot.NotifyAnomaly)
		}

		go depositWatcher.Start()
		log.Info("наблюдатель депозитов запущен", "escrow", cfg.EscrowAddress, "interval", cfg.DepositInterval)
	} else {
		log.Warn("наблюдатель депозитов не запущен: TON_ESCROW_ADDRESS не задан")
	}

	// Сборщик истекших интентов
	sweepStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.IntentSweepPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-sweepStop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				n, err := intentSvc.CancelExpiredIntents(ctx)
				cancel()
				if err != nil {
					log.Warn("не удалось отменить истекшие интенты", "error", err)
					continue
				}
				if n > 0 {
					metrics.IntentsCancelled.Add(float64(n))
					log.Info("истекшие интенты отменены", "count", n)
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("остановка сервера...")

	close(sweepStop)
	if opsBot != nil {
		opsBot.Stop()
	}
	if depositWatcher != nil {
		depositWatcher.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("сервер не остановился штатно", "error", err)
	}

	log.Info("сервер остановлен")
}
