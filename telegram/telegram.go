package telegram

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var adminChatIds string = os.Getenv("TG_ADMIN_CHAT_IDS") //separated by comma from env

var botOnce sync.Once
var bot *tgbotapi.BotAPI

func EscapeMessage(message string) string {
	r := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"`", "\\`",
	)
	return r.Replace(message)
}

func getBot() *tgbotapi.BotAPI {
	botOnce.Do(func() {
		if os.Getenv("TG_TOKEN") == "" {
			log.Println("TG_TOKEN is not set, telegram alerts disabled")
			return
		}
		instance, err := tgbotapi.NewBotAPI(os.Getenv("TG_TOKEN"))
		if err != nil {
			println("Error tg bot init")
			log.Println(err)
			return
		}
		log.Printf("Authorized on account %s", instance.Self.UserName)
		bot = instance
	})
	return bot
}

// NotifyAdmins pushes an operational alert to the admin chat list. Failures
// are logged and swallowed, an alert must never take down the worker.
func NotifyAdmins(message string) {
	instance := getBot()
	if instance == nil || adminChatIds == "" {
		fmt.Printf("[TG Alert skipped] %s\n", message)
		return
	}
	for _, rawId := range strings.Split(adminChatIds, ",") {
		chatId, err := strconv.ParseInt(strings.TrimSpace(rawId), 10, 64)
		if err != nil {
			log.Printf("Invalid telegram chat id %q", rawId)
			continue
		}
		msg := tgbotapi.NewMessage(chatId, EscapeMessage(message))
		msg.ParseMode = "markdown"
		if _, err := instance.Send(msg); err != nil {
			log.Printf("Failed to send telegram alert to %v: %v", chatId, err)
		}
	}
}
