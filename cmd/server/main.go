package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/centralcitybank/backend/docs"
	"github.com/centralcitybank/backend/internal/config"
	"github.com/centralcitybank/backend/internal/database"
	"github.com/centralcitybank/backend/internal/handlers"
	mW "github.com/centralcitybank/backend/internal/middleware"
	"github.com/centralcitybank/backend/internal/services"
)

// @title Central City Bank API
// @version 1.0
// @description REST backend for the Central City Bank customer portal
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.BindEnv("smtp.host", "SMTP_HOST")
	viper.BindEnv("smtp.port", "SMTP_PORT")
	viper.BindEnv("smtp.username", "SMTP_USERNAME")
	viper.BindEnv("smtp.password", "SMTP_PASSWORD")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Central City Bank API"
	docs.SwaggerInfo.Description = "REST backend for the Central City Bank customer portal"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	workflowCfg := config.LoadWorkflowConfig()

	mailer := services.NewMailer(workflowCfg.MailRetries)
	ledgerService := services.NewLedgerService(db, workflowCfg)
	otpService := services.NewOTPService(db, redisClient, ledgerService, mailer, workflowCfg)
	authService := services.NewAuthService(db, redisClient, workflowCfg, otpService, mailer)
	accountService := services.NewAccountService(db, ledgerService)
	withdrawalService := services.NewWithdrawalService(db, ledgerService)
	withdrawalHandler := handlers.NewWithdrawalHandler(withdrawalService)
	adminService := services.NewAdminService(db, workflowCfg)
	iso20022Service := services.NewISO20022Service(ledgerService, authService)
	qrService := services.NewQRService(db, redisClient, ledgerService)
	qrHandler := handlers.NewQRHandler(qrService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	complianceCfg := mW.ComplianceConfig{
		AMLThresholdMinor:   workflowCfg.AMLThresholdMinor,
		RestrictedCountries: workflowCfg.RestrictedCountries,
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/register", authService.Register)
		r.Post("/verify-otp", otpService.VerifyOTP)
		r.Post("/login", authService.Login)
		r.Post("/logout", authService.Logout)
		r.Post("/forgot-password", authService.ForgotPassword)
		r.Post("/reset-password", authService.ResetPassword)

		r.Post("/admin/signup", adminService.Signup)
		r.Post("/admin/login", adminService.Login)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)

			r.Post("/deposit", accountService.Deposit)
			r.Post("/withdraw", accountService.Withdraw)
			r.Get("/accounts/{accountNumber}/balance", accountService.BalanceEnquiry)
			r.Get("/users/{id}/transactions/recent", accountService.RecentTransactions)

			// Withdrawal approval workflow
			r.Get("/withdrawals/{id}", withdrawalHandler.GetWithdrawal)
			r.Post("/withdrawals/{id}/stages/{name}", withdrawalHandler.AdvanceStage)

			// International transfers pass through AML and sanctions checks
			r.Group(func(r chi.Router) {
				r.Use(mW.ComplianceMiddleware(complianceCfg))
				r.Post("/transfers/international", iso20022Service.InternationalTransfer)
			})

			// QR endpoints
			r.Post("/qr/generate", qrHandler.GenerateQR)
			r.Post("/qr/process", qrHandler.ProcessQR)
		})

		// Admin endpoints
		r.Group(func(r chi.Router) {
			r.Use(mW.AdminAuthMiddleware)

			r.Get("/admin/users", adminService.ListUsers)
			r.Delete("/admin/users/{id}", adminService.DeleteUser)
			r.Put("/admin/users/{id}/kyc", adminService.UpdateKYC)
			r.Put("/admin/withdrawals/{id}/reject", withdrawalHandler.RejectWithdrawal)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
