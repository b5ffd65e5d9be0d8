package bot

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"giveaway_ref_bot/referral"
	"giveaway_ref_bot/store"
)

const (
	// callbackCheck — кнопка "Я підписався", данные "check:<payload>"
	callbackCheck = "check:"
	// callbackProgress — кнопка "Мої запрошення"
	callbackProgress = "progress"

	progressButton = "Мої запрошення"
)

const welcomeText = "🎉 Вітаю у розіграші Telegram Premium!\n\n" +
	"Підпишись на канал і запроси 3 друзів, щоб взяти участь.\n\n" +
	"Обери канал і отримай своє унікальне посилання:"

const retryLaterText = "⚠️ Сталася помилка. Спробуйте ще раз трохи пізніше."

// renderOutcome превращает решение движка в сообщение для чата
func renderOutcome(chatID int64, out referral.Outcome) tgbotapi.MessageConfig {
	switch out.Kind {
	case referral.OutcomeSubscribe:
		msg := tgbotapi.NewMessage(chatID, fmt.Sprintf(
			"❗ Спочатку підпишіться на %s, щоб бути зарахованим.", out.Channel.Handle))
		msg.ReplyMarkup = subscribeKeyboard(out.Channel, out.Payload)
		return msg

	case referral.OutcomeEntered:
		msg := tgbotapi.NewMessage(chatID, enteredText(out))
		msg.DisableWebPagePreview = true
		msg.ReplyMarkup = progressKeyboard()
		return msg

	case referral.OutcomeRetryLater:
		msg := tgbotapi.NewMessage(chatID, retryLaterText)
		if out.Payload != "" {
			msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🔄 Спробувати ще раз", callbackCheck+out.Payload),
			))
		}
		return msg

	default:
		msg := tgbotapi.NewMessage(chatID, welcomeText)
		msg.ReplyMarkup = menuKeyboard(out.Menu)
		return msg
	}
}

func enteredText(out referral.Outcome) string {
	var sb strings.Builder
	if out.Counted {
		sb.WriteString("✅ Ви підписались через реферальне посилання. Вашого друга зараховано!\n\n")
	}
	fmt.Fprintf(&sb, "🎁 Ви берете участь у розіграші каналу %s.\n\n", out.Channel.Handle)
	fmt.Fprintf(&sb, "Запросіть %d друзів за вашим посиланням:\n%s\n\n", store.QualifyThreshold, out.Link)
	fmt.Fprintf(&sb, "Вже запрошено: %d з %d", out.Invited, store.QualifyThreshold)
	return sb.String()
}

func menuKeyboard(items []referral.MenuItem) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(items)+1)
	for _, item := range items {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Запросити друзів у "+item.Channel.Handle, item.Link),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("📊 "+progressButton, callbackProgress),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func subscribeKeyboard(ch referral.Channel, payload string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Підписатися на "+ch.Handle, ch.URL()),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Я підписався", callbackCheck+payload),
		),
	)
}

func progressKeyboard() tgbotapi.ReplyKeyboardMarkup {
	keyboard := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(progressButton)),
	)
	keyboard.ResizeKeyboard = true
	return keyboard
}

// progressText — уведомление рефереру о новом друге
func progressText(ch referral.Channel, count, threshold int) string {
	if count >= threshold {
		return fmt.Sprintf("👥 Новий друг у %s! Запрошено: %d з %d.", ch.Handle, count, threshold)
	}
	return fmt.Sprintf("👥 Новий друг у %s! Запрошено: %d з %d. Залишилось ще %d.",
		ch.Handle, count, threshold, threshold-count)
}

func qualifiedText(ch referral.Channel) string {
	return fmt.Sprintf("🏆 Вітаємо! Ви запросили %d друзів у %s і берете участь у розіграші Telegram Premium. Бажаємо удачі!",
		store.QualifyThreshold, ch.Handle)
}

// progressReport — экран "Мої запрошення"
func progressReport(rows []*store.Row, channels *referral.Channels, link func(channelKey string) string) string {
	if len(rows) == 0 {
		return "Ви ще не берете участі в розіграші. Натисніть /start, щоб обрати канал."
	}

	var sb strings.Builder
	sb.WriteString("📊 Ваші запрошення\n")
	for _, row := range rows {
		handle := row.Channel
		if ch, ok := channels.Lookup(row.Channel); ok {
			handle = ch.Handle
		}
		fmt.Fprintf(&sb, "\n%s: %d з %d", handle, row.InvitedCount(), store.QualifyThreshold)
		switch row.Stage() {
		case store.StageQualified, store.StageNotified:
			sb.WriteString(" 🏆 ви в розіграші")
		}
		if row.Status == store.StatusLeft {
			sb.WriteString(" ⚠️ ви відписались від каналу")
		}
		fmt.Fprintf(&sb, "\n%s\n", link(row.Channel))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// parseCallback разбирает данные кнопки
func parseCallback(data string) (action, payload string) {
	if strings.HasPrefix(data, callbackCheck) {
		return callbackCheck, strings.TrimPrefix(data, callbackCheck)
	}
	return data, ""
}
