package handlers

import (
	"context"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/example/tulsi/internal/services"
)

// PaymentHandler manages the storefront-facing payment endpoints.
type PaymentHandler struct {
	checkout      *services.CheckoutService
	engine        *services.ReconcileEngine
	gateway       services.Gateway
	orders        services.OrderStore
	webhookSecret string
}

func NewPaymentHandler(checkout *services.CheckoutService, engine *services.ReconcileEngine, gateway services.Gateway, orders services.OrderStore, webhookSecret string) *PaymentHandler {
	return &PaymentHandler{
		checkout:      checkout,
		engine:        engine,
		gateway:       gateway,
		orders:        orders,
		webhookSecret: webhookSecret,
	}
}

// CreateOrder builds a payment order and returns the gateway session token.
func (h *PaymentHandler) CreateOrder(c *fiber.Ctx) error {
	var req services.CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.checkout.CreateOrder(context.Background(), req)
	if err != nil {
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			return fiber.NewError(fiber.StatusBadRequest, verr.Msg)
		}
		log.Printf("[Checkout] Order creation failed: %v", err)
		return fiber.NewError(fiber.StatusInternalServerError, "failed to create payment order")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    result,
	})
}

// Webhook receives asynchronous payment notifications from the gateway.
// Verification and normalization failures are acknowledged so the gateway
// stops redelivering; only retryable processing failures return a server
// error, which is what triggers redelivery.
func (h *PaymentHandler) Webhook(c *fiber.Ctx) error {
	raw := c.Body()
	timestamp := c.Get("x-webhook-timestamp")
	signature := c.Get("x-webhook-signature")

	if !services.VerifySignature(raw, timestamp, signature, h.webhookSecret) {
		log.Printf("[Webhook] Signature verification failed, dropping event")
		return c.JSON(fiber.Map{"success": true})
	}

	event, err := services.NormalizeEvent(raw)
	if err != nil {
		log.Printf("[Webhook] %v, acknowledging without processing", err)
		return c.JSON(fiber.Map{"success": true})
	}

	if err := h.engine.Apply(context.Background(), event); err != nil {
		if services.IsRetryable(err) {
			log.Printf("[Webhook] Order %s: retryable failure: %v", event.OrderID, err)
			return fiber.NewError(fiber.StatusInternalServerError, "temporarily unable to process notification")
		}
		log.Printf("[Webhook] Order %s: dropping event: %v", event.OrderID, err)
	}

	return c.JSON(fiber.Map{"success": true})
}

type verifyOrderRequest struct {
	OrderID string `json:"orderId"`
}

// VerifyOrder lets the storefront re-derive order status when the webhook
// has not landed yet.
func (h *PaymentHandler) VerifyOrder(c *fiber.Ctx) error {
	var req verifyOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.OrderID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "orderId is required")
	}

	status, err := h.engine.ResolveStatus(context.Background(), h.gateway, req.OrderID)
	if err != nil {
		log.Printf("[Verify] Order %s: %v", req.OrderID, err)
		return fiber.NewError(fiber.StatusInternalServerError, "failed to verify order")
	}

	return c.JSON(fiber.Map{"status": status})
}

// GetOrder is a lightweight status probe for client polling.
func (h *PaymentHandler) GetOrder(c *fiber.Ctx) error {
	orderID := c.Params("id")

	order, err := h.orders.GetOrder(context.Background(), orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return fiber.NewError(fiber.StatusNotFound, "order not found")
	}

	return c.JSON(fiber.Map{
		"order_id": order.OrderID,
		"status":   order.Status,
		"amount":   order.Amount,
		"currency": order.Currency,
		"paid_at":  order.PaidAt,
	})
}
