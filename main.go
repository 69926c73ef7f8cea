package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"wildlife-rewards/handlers"
	"wildlife-rewards/middleware"
	"wildlife-rewards/models"
	"wildlife-rewards/services"
	"wildlife-rewards/utils"
	"wildlife-rewards/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := fiber.New(fiber.Config{
		BodyLimit: utils.GetEnvInt("MAX_BODY_KB", 1024) * 1024,
	})

	app.Use(middleware.RequestLogger(os.Stdout))

	// 🔐❗ GLOBAL: Only Gateway requests allowed
	app.Use(middleware.GatewayAuthMiddleware(utils.MustGetEnv("GATEWAY_TOKEN"), "/health"))

	allowedOrigins := utils.SplitCSV(utils.GetEnv("ALLOWED_ORIGINS", "http://localhost:3000"))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(allowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	db, err := gorm.Open(postgres.Open(utils.MustGetEnv("DATABASE_URL")), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.UserAccount{},
		&models.UserBalance{},
		&models.Transaction{},
		&models.DailyActivity{},
		&models.DailyActivityCounter{},
		&models.RiskRecord{},
		&models.RewardTierConfig{},
		&models.RewardOverride{},
		&models.QuizResult{},
		&models.LeaderboardEntry{},
		&models.SiteSetting{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	clock := clockwork.NewRealClock()

	accounts := services.NewAccountService(db)
	settings := services.NewSettingsResolver(db, clock, utils.GetEnvDuration("SETTINGS_TTL", 30*time.Second))
	tracker := services.NewDailyActivityTracker(db, clock)
	calculator := services.NewRewardCalculator(db)
	ledger := services.NewCurrencyLedger(db, clock, settings, tracker)
	risk := services.NewAntiGamingRiskEngine(db, clock, ledger)
	completionService := services.NewCompletionService(db, clock, accounts, settings, tracker, calculator, risk, ledger)

	if err := calculator.SeedDefaultTiers(ctx); err != nil {
		log.Fatal("failed to seed reward tiers:", err)
	}

	var archive services.SnapshotArchive
	r2, err := utils.NewR2ArchiveFromEnv(ctx)
	if err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}
	if r2 != nil {
		archive = r2
	} else {
		utils.LogWarn("⚠️  R2 not configured, leaderboard archives disabled")
	}
	aggregator := services.NewLeaderboardAggregator(db, clock, utils.GetEnvDuration("LEADERBOARD_CACHE_TTL", 5*time.Minute), archive)

	sched, err := aggregator.StartLeaderboardScheduler(ctx, utils.GetEnvDuration("LEADERBOARD_REFRESH_INTERVAL", 5*time.Minute))
	if err != nil {
		log.Fatal("failed to start leaderboard scheduler:", err)
	}

	if syncURL := utils.GetEnv("SYNC_SERVICE_URL", ""); syncURL != "" {
		token := utils.MustGetEnv("SERVICE_TOKEN")
		workers.NewUserSyncWorker(db, clock, syncURL, "/api/v1/public/profiles", token,
			utils.GetEnvDuration("USER_SYNC_INTERVAL", time.Minute)).Start(ctx)

		quizClient := workers.NewQuizResultSyncClient(db, clock, syncURL, token)
		go workers.PollQuizResults(ctx, quizClient, utils.GetEnvDuration("QUIZ_SYNC_INTERVAL", 30*time.Second))
	} else {
		utils.LogWarn("⚠️  SYNC_SERVICE_URL not set, user and quiz result sync disabled")
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// ✅ Setup routes, all under the /s/ prefix
	handlers.SetupRewardRoutes(app, completionService)
	handlers.SetupLeaderboardRoutes(app, aggregator)
	handlers.SetupAdminRoutes(app, completionService, aggregator)

	port := utils.GetEnv("PORT", "5300")
	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	utils.LogSuccess("✅ Server running on http://localhost:%s", port)
	utils.LogSuccess("✅ GatewayAuthMiddleware enforced globally")
	utils.LogSuccess("✅ CORS configured for origins: %v", allowedOrigins)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := sched.Shutdown(); err != nil {
		utils.LogWarn("scheduler shutdown: %v", err)
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		utils.LogWarn("server shutdown: %v", err)
	}
}
