package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tapduel/internal/logger"
	"tapduel/internal/service"
	"tapduel/internal/ton"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// OpsBot - телеграм-бот дежурного: сводка платформы, разбор интентов,
// отправка возвратов и уведомления об аномалиях депозитов
type OpsBot struct {
	bot    *tgbotapi.BotAPI
	ops    *service.OpsService
	admins []int64 // Telegram ID дежурных
	stopCh chan struct{}
	wg     sync.WaitGroup
	log    *slog.Logger
}

func NewOpsBot(token string, ops *service.OpsService, admins []int64) (*OpsBot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log := logger.With("component", "ops_bot")
	log.Info("ops bot авторизован", "username", api.Self.UserName)

	return &OpsBot{
		bot:    api,
		ops:    ops,
		admins: admins,
		stopCh: make(chan struct{}),
		log:    log,
	}, nil
}

// Start крутит цикл обновлений до Stop
func (b *OpsBot) Start() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.bot.GetUpdatesChan(u)
	b.log.Info("запуск цикла обновлений ops бота")

	for {
		select {
		case <-b.stopCh:
			b.log.Info("остановка цикла обновлений ops бота")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.isAdmin(update.Message.From.ID) {
				continue
			}

			b.wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer b.wg.Done()
				b.handleCommand(msg)
			}(update.Message)
		}
	}
}

// Stop плавно останавливает бота
func (b *OpsBot) Stop() {
	b.log.Info("остановка ops бота...")
	close(b.stopCh)
	b.bot.StopReceivingUpdates()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.log.Info("ops бот остановлен")
	case <-time.After(10 * time.Second):
		b.log.Warn("таймаут остановки ops бота, часть обработчиков не завершилась")
	}
}

func (b *OpsBot) isAdmin(userID int64) bool {
	for _, id := range b.admins {
		if id == userID {
			return true
		}
	}
	return false
}

func (b *OpsBot) handleCommand(msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var response string

	switch msg.Command() {
	case "start", "help":
		response = b.helpMessage()
	case "stats":
		response = b.handleStats(ctx)
	case "intent":
		response = b.handleIntent(ctx, msg.CommandArguments())
	case "refunds":
		response = b.handleRefunds(ctx)
	case "sendrefund":
		response = b.handleSendRefund(ctx, msg.CommandArguments())
	case "refundsent":
		response = b.handleRefundSent(ctx, msg.CommandArguments())
	default:
		response = "Неизвестная команда. /help"
	}

	b.reply(msg.Chat.ID, response)
}

func (b *OpsBot) helpMessage() string {
	return `<b>Команды дежурного</b>

/stats - сводка платформы
/intent &lt;id&gt; - состояние интента на депозит
/refunds - возвраты в ожидании отправки
/sendrefund &lt;id&gt; - отправить возврат с горячего кошелька
/refundsent &lt;id&gt; &lt;tx_hash&gt; - пометить возврат отправленным вручную`
}

func (b *OpsBot) handleStats(ctx context.Context) string {
	stats, err := b.ops.Stats(ctx)
	if err != nil {
		return "Ошибка: " + err.Error()
	}

	return fmt.Sprintf(`📊 <b>Сводка</b>

👥 Пользователей: %d
🎮 Матчей всего: %d (сегодня: %d)
🧾 Интентов CREATED: %d, PAID: %d
💎 Принято депозитов: %.4f TON
↩️ Возвратов в ожидании: %d, возвращено: %.4f TON
🏆 Незабранных выплат: %d`,
		stats.TotalUsers,
		stats.TotalMatches, stats.MatchesToday,
		stats.IntentsCreated, stats.IntentsPaid,
		ton.NanoToTON(stats.DepositedNano),
		stats.PendingRefunds, ton.NanoToTON(stats.RefundedNano),
		stats.UnclaimedPayout)
}

func (b *OpsBot) handleIntent(ctx context.Context, args string) string {
	id := strings.TrimSpace(args)
	if id == "" {
		return "Использование: /intent <id>"
	}

	intent, err := b.ops.GetIntent(ctx, id)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	if intent == nil {
		return "Интент не найден"
	}

	matchID := "-"
	if intent.MatchID != nil {
		matchID = *intent.MatchID
	}
	return fmt.Sprintf(`🧾 <b>Интент</b> <code>%s</code>

Статус: %s
Игрок: %d
Матч: %s
Сумма: %.4f TON
Создан: %s
Истекает: %s`,
		intent.ID, intent.Status, intent.PlayerID, matchID,
		ton.NanoToTON(intent.StakeNano),
		intent.CreatedAt.Format(time.RFC3339),
		intent.ExpiresAt.Format(time.RFC3339))
}

func (b *OpsBot) handleRefunds(ctx context.Context) string {
	refunds, err := b.ops.PendingRefunds(ctx, 20)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	if len(refunds) == 0 {
		return "Возвратов в ожидании нет 🎉"
	}

	var sb strings.Builder
	sb.WriteString("↩️ <b>Возвраты в ожидании</b>\n\n")
	for _, rf := range refunds {
		fmt.Fprintf(&sb, "<code>%s</code> %.4f TON → <code>%s</code> (%s)\n",
			rf.ID, ton.NanoToTON(rf.AmountNano), rf.ToAddress, rf.Reason)
	}
	return sb.String()
}

func (b *OpsBot) handleSendRefund(ctx context.Context, args string) string {
	id := strings.TrimSpace(args)
	if id == "" {
		return "Использование: /sendrefund <id>"
	}

	txHash, err := b.ops.SendRefund(ctx, id)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	return fmt.Sprintf("✅ Возврат отправлен\nTX: <code>%s</code>", txHash)
}

func (b *OpsBot) handleRefundSent(ctx context.Context, args string) string {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return "Использование: /refundsent <id> <tx_hash>"
	}

	if err := b.ops.MarkRefundSent(ctx, parts[0], parts[1]); err != nil {
		return "Ошибка: " + err.Error()
	}
	return "✅ Возврат помечен отправленным"
}

// NotifyAnomaly уведомляет дежурных о подозрительном депозите.
// Подключается как колбэк наблюдателя депозитов.
func (b *OpsBot) NotifyAnomaly(n service.AnomalyNotification) {
	message := fmt.Sprintf(`⚠️ <b>Аномалия депозита: %s</b>

Интент: <code>%s</code>
TX: <code>%s</code>
Сумма: %.4f TON
%s`,
		n.Kind, n.IntentID, n.TxHash, ton.NanoToTON(n.AmountNano), n.Details)

	b.notifyAdmins(message)
}

// NotifyRefundCreated уведомляет дежурных о новом возврате в очереди
func (b *OpsBot) NotifyRefundCreated(refundID string, amountNano int64, reason string) {
	b.notifyAdmins(fmt.Sprintf(`↩️ <b>Новый возврат</b>

ID: <code>%s</code>
Сумма: %.4f TON
Причина: %s

/sendrefund %s`, refundID, ton.NanoToTON(amountNano), reason, refundID))
}

func (b *OpsBot) notifyAdmins(message string) {
	for _, adminID := range b.admins {
		b.reply(adminID, message)
	}
}

func (b *OpsBot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "HTML"
	if _, err := b.bot.Send(msg); err != nil {
		b.log.Error("не удалось отправить сообщение", "chat_id", chatID, "error", err)
	}
}
