package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
)

// TelegramService pushes operational alerts to the admin chat. All methods
// degrade to no-ops when the bot is not configured.
type TelegramService struct {
	botToken    string
	adminChatID string
}

func NewTelegramService(botToken, adminChatID string) *TelegramService {
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to the specified chat.
func (s *TelegramService) SendMessage(chatID, text string) error {
	if s.botToken == "" {
		log.Println("[Telegram] Bot token not configured")
		return nil
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.botToken)

	msg := telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("[Telegram] Failed to send message: %v", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[Telegram] Unexpected status: %d", resp.StatusCode)
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(text string) error {
	if s.adminChatID == "" {
		log.Println("[Telegram] Admin chat ID not configured")
		return nil
	}
	return s.SendMessage(s.adminChatID, text)
}

// FormatPrice formats an amount with currency and thousand separators.
func FormatPrice(amount float64, currency string) string {
	if currency == "" {
		currency = "INR"
	}
	intAmount := int64(amount)
	str := fmt.Sprintf("%d", intAmount)

	var result strings.Builder
	length := len(str)
	for i, digit := range str {
		if i > 0 && (length-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}

	return result.String() + " " + currency
}

// NotifyPaymentSuccess alerts the admin chat that an order has been paid.
func (s *TelegramService) NotifyPaymentSuccess(orderID, paymentID string, amount float64) error {
	if s.adminChatID == "" {
		return nil
	}

	message := fmt.Sprintf(`<b>✅ PAYMENT RECEIVED</b>
<b>📋 Order:</b> %s
<b>💳 Payment:</b> %s
<b>💰 Amount:</b> %s
━━━━━━━━━━━━━━━━━━
<i>Tulsi Store</i>`,
		orderID,
		paymentID,
		FormatPrice(amount, "INR"),
	)

	return s.SendToAdmin(strings.TrimSpace(message))
}

// NotifyReconcileRequired alerts the admin chat that a paid order could not
// be materialized because its snapshot is gone.
func (s *TelegramService) NotifyReconcileRequired(orderID string) error {
	if s.adminChatID == "" {
		return nil
	}

	message := fmt.Sprintf(`<b>⚠️ MANUAL RECONCILIATION NEEDED</b>
<b>📋 Order:</b> %s
Payment confirmed, but no cart snapshot was found to build line items from.
━━━━━━━━━━━━━━━━━━
<i>Tulsi Store</i>`,
		orderID,
	)

	return s.SendToAdmin(strings.TrimSpace(message))
}
