package main

import (
	"log"
	"net/http"

	_ "einvoice/api/swagger" // swagger docs
	"einvoice/internal/config"
	"einvoice/internal/database"
	"einvoice/internal/fbr"
	"einvoice/internal/handler"
	"einvoice/internal/logger"
	"einvoice/internal/middleware"
	"einvoice/internal/repository"
	"einvoice/internal/service"
	"einvoice/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           FBR Digital Invoicing API
// @version         1.0
// @description     Sales tax invoicing with FBR digital invoicing gateway validation and posting.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := godotenv.Load("configs/.env"); err != nil {
		log.Println("No configs/.env file found or error loading it")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	gin.SetMode(cfg.GinMode)
	appLog := logger.WithComponent("main")

	db, err := database.NewConnection(cfg.DSN())
	if err != nil {
		appLog.Fatal().Err(err).Msg("Database connection failed")
	}
	appLog.Info().Str("host", cfg.DBHost).Str("database", cfg.DBName).Msg("Connected to PostgreSQL")

	catalog, err := fbr.DefaultCatalog()
	if err != nil {
		appLog.Fatal().Err(err).Msg("Failed to load scenario catalog")
	}

	// Set up WebSocket Hub
	wsHub := websocket.NewHub()
	go wsHub.Run()

	// Set up dependencies (Repository -> Service -> Handler)
	invoiceRepo := repository.NewInvoiceRepository(db)
	companyRepo := repository.NewCompanyRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	txManager := repository.NewTransactionManager(db)

	gatewayLog := logger.WithComponent("fbr-client")
	gateways := []fbr.Gateway{
		fbr.NewClient(cfg.GatewayConfig(fbr.Sandbox), gatewayLog),
		fbr.NewClient(cfg.GatewayConfig(fbr.Production), gatewayLog),
	}

	invoiceService := service.NewInvoiceService(invoiceRepo, companyRepo, settingsRepo, auditRepo, txManager, wsHub)
	fbrService := service.NewFBRService(invoiceRepo, companyRepo, settingsRepo, auditRepo, txManager, wsHub, service.FBRServiceConfig{
		Gateways:          gateways,
		Catalog:           catalog,
		RegressionDelay:   cfg.FBRRegressionDelay,
		AutoPostDelay:     cfg.FBRAutoPostDelay,
		PostClaimTTL:      cfg.FBRPostClaimTTL,
		IncludeFurtherTax: cfg.FBRIncludeFurther,
	})
	auditService := service.NewAuditService(auditRepo)

	// Initialize Handlers
	invoiceHandler := handler.NewInvoiceHandler(invoiceService)
	fbrHandler := handler.NewFBRHandler(fbrService)
	auditHandler := handler.NewAuditHandler(auditService)

	// Set up Gin Router
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger.WithComponent("http")))

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	// WebSocket endpoint
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, cfg.Secret())
	})

	// API Routing
	api := router.Group("")
	api.Use(middleware.RequireAuth(cfg.Secret()))
	invoiceHandler.RegisterRoutes(api)
	fbrHandler.RegisterRoutes(api)
	auditHandler.RegisterRoutes(api)

	appLog.Info().
		Str("port", cfg.Port).
		Str("fbr_environment", cfg.FBREnvironment).
		Int("scenarios", catalog.Len()).
		Msg("Server listening")
	if err := router.Run(":" + cfg.Port); err != nil {
		appLog.Fatal().Err(err).Msg("Server failed")
	}
}
