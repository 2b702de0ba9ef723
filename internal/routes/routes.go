package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/tulsi/internal/config"
	"github.com/example/tulsi/internal/handlers"
	"github.com/example/tulsi/internal/middleware"
	"github.com/example/tulsi/internal/services"
	"github.com/example/tulsi/internal/storage"
)

// Register wires up all HTTP routes and returns the background sweeper for
// the caller to start.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config) *services.Sweeper {
	telegramService := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat)

	orders := storage.NewOrders(db)
	snapshots := storage.NewSnapshots(db)
	ledger := storage.NewLedger(db)

	gateway := services.NewCashfreeService(cfg.GatewayBaseURL(), cfg.CashfreeAppID, cfg.CashfreeSecretKey)
	engine := services.NewReconcileEngine(orders, snapshots, ledger, telegramService)
	checkout := services.NewCheckoutService(orders, snapshots, gateway, cfg.WebhookURL())

	paymentHandler := handlers.NewPaymentHandler(checkout, engine, gateway, orders, cfg.CashfreeWebhookSecret)
	adminHandler := handlers.NewAdminHandler(db, cfg)

	api := app.Group("/api")

	// Payment flow
	api.Post("/create-order", paymentHandler.CreateOrder)
	api.Post("/webhook", paymentHandler.Webhook)
	api.Post("/verify-order", paymentHandler.VerifyOrder)
	api.Get("/order/:id", paymentHandler.GetOrder)

	// Back office
	admin := api.Group("/admin")
	admin.Post("/login", adminHandler.Login)

	protected := admin.Group("", middleware.AuthMiddleware(cfg))
	protected.Get("/me", adminHandler.Me)
	protected.Get("/orders", adminHandler.ListOrders)
	protected.Get("/payments", adminHandler.ListPayments)

	return services.NewSweeper(engine, orders, gateway, cfg.SweepInterval)
}
