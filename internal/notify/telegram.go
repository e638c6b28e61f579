package notify

import (
	"context"
	"fmt"
	"strings"

	"plexledger/internal/money"

	telebot "gopkg.in/telebot.v3"
)

// Sender is the part of *telebot.Bot used for delivery.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// ChatResolver maps a user to a Telegram chat; nil means the user has none.
type ChatResolver func(ctx context.Context, userID string) (*int64, error)

// Telegram sends user-facing events to the user's chat and operator events to admin chats.
type Telegram struct {
	sender     Sender
	adminChats []int64
	resolve    ChatResolver
}

func NewTelegram(sender Sender, adminChats []int64, resolve ChatResolver) *Telegram {
	return &Telegram{sender: sender, adminChats: adminChats, resolve: resolve}
}

// NewTelegramBot builds an offline bot; this process only sends.
func NewTelegramBot(token string) (*telebot.Bot, error) {
	bot, err := telebot.NewBot(telebot.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}
	return bot, nil
}

func (t *Telegram) Notify(ctx context.Context, event Event) error {
	text := Render(event)
	if userFacing(event.Kind) && t.resolve != nil && event.UserID != "" {
		chatID, err := t.resolve(ctx, event.UserID)
		if err != nil {
			return fmt.Errorf("resolve chat for %s: %w", event.UserID, err)
		}
		if chatID != nil {
			if _, err := t.sender.Send(telebot.ChatID(*chatID), text); err != nil {
				return fmt.Errorf("send to user %s: %w", event.UserID, err)
			}
		}
	}
	if !adminFacing(event.Kind) {
		return nil
	}
	for _, chatID := range t.adminChats {
		if _, err := t.sender.Send(telebot.ChatID(chatID), text); err != nil {
			return fmt.Errorf("send to admin chat %d: %w", chatID, err)
		}
	}
	return nil
}

func userFacing(kind Kind) bool {
	switch kind {
	case KindObligationWarning, KindObligationBlocked, KindWorkSuspended, KindWorkRestored:
		return true
	}
	return false
}

func adminFacing(kind Kind) bool {
	switch kind {
	case KindObligationBlocked, KindRewardLarge, KindWithdrawalLarge, KindAccrualAnomaly, KindInvariantBroken:
		return true
	}
	return false
}

// Render formats an event as a short plain-text message.
func Render(event Event) string {
	var b strings.Builder
	switch event.Kind {
	case KindObligationWarning:
		b.WriteString("PLEX payment overdue")
	case KindObligationBlocked:
		b.WriteString("Deposit blocked: PLEX payment missing")
	case KindRewardLarge:
		b.WriteString("Large reward accrued")
	case KindWithdrawalLarge:
		b.WriteString("Large withdrawal requested")
	case KindWorkSuspended:
		b.WriteString("Earnings suspended")
	case KindWorkRestored:
		b.WriteString("Earnings restored")
	case KindAccrualAnomaly:
		b.WriteString("Accrual catch-up capped")
	case KindInvariantBroken:
		b.WriteString("Ledger invariant violation")
	default:
		b.WriteString(string(event.Kind))
	}
	if event.Amount != nil {
		fmt.Fprintf(&b, "\nAmount: %s", money.FormatShort(*event.Amount))
	}
	if event.Deadline != nil {
		fmt.Fprintf(&b, "\nDeadline: %s UTC", event.Deadline.UTC().Format("2006-01-02 15:04"))
	}
	if event.HolderID != "" {
		fmt.Fprintf(&b, "\nHolder: %s", event.HolderID)
	}
	if event.Detail != "" {
		fmt.Fprintf(&b, "\n%s", event.Detail)
	}
	return b.String()
}
