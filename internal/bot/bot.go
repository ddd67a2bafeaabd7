// Package bot is a Telegram front-end for a single writer. Messages are
// translated into engine calls and the results are rendered as text.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/inkquest/internal/achievement"
	"github.com/example/inkquest/internal/engine"
	"github.com/example/inkquest/internal/progression"
	"github.com/example/inkquest/internal/submission"
	"github.com/example/inkquest/internal/taskpool"
	"github.com/example/inkquest/pkg/logger"
	"github.com/example/inkquest/pkg/models"
)

// MenuButton represents a button in the menu
type MenuButton struct {
	Text         string
	CallbackData string
}

// createKeyboard creates a keyboard from menu buttons
func createKeyboard(buttons [][]MenuButton) tgbotapi.InlineKeyboardMarkup {
	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, row := range buttons {
		var keyboardRow []tgbotapi.InlineKeyboardButton
		for _, button := range row {
			keyboardRow = append(keyboardRow, tgbotapi.NewInlineKeyboardButtonData(button.Text, button.CallbackData))
		}
		keyboard = append(keyboard, keyboardRow)
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

// Engine is the part of the engine the bot drives
type Engine interface {
	GetProfile(ctx context.Context) (*progression.ProfileView, error)
	GetTodayTasks(ctx context.Context, tier models.Tier) ([]taskpool.TaskView, error)
	Start(ctx context.Context, taskID int64) (*submission.StartResult, error)
	SaveDraft(ctx context.Context, recordID int64, content string, timeSpent int) (*models.TaskRecord, error)
	Submit(ctx context.Context, recordID int64, content string, timeSpent int) (*submission.SubmitResult, error)
	GetDailyChallenge(ctx context.Context) (*models.DailyChallenge, error)
	GetWeeklyChallenge(ctx context.Context) (*models.WeeklyChallenge, error)
	ManualGenerate(ctx context.Context, opts engine.ManualOptions) (*engine.ManualResult, error)
	GetSchedulerStatus(ctx context.Context) (*engine.SchedulerStatus, error)
	AchievementStats(ctx context.Context) (*achievement.Stats, error)
	NextAchievements(ctx context.Context, limit int) ([]achievement.Pending, error)
	TodayXP(ctx context.Context) (*progression.DayStats, error)
}

// Sender delivers messages to Telegram
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// session is the attempt a chat is currently writing
type session struct {
	RecordID  int64
	TaskTitle string
	Content   string
	StartedAt time.Time
	Spent     int // seconds recorded before this session
}

// Bot represents the Telegram bot application
type Bot struct {
	api    *tgbotapi.BotAPI
	sender Sender
	engine Engine
	config *BotConfig
	log    *logger.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[int64]*session
}

// New creates a bot that answers through sender
func New(sender Sender, eng Engine, config *BotConfig, log *logger.Logger) *Bot {
	if config == nil {
		config = DefaultConfig()
	}
	return &Bot{
		sender:   sender,
		engine:   eng,
		config:   config,
		log:      log,
		now:      time.Now,
		sessions: make(map[int64]*session),
	}
}

// Connect authorizes against the Telegram API and returns a bot using it
func Connect(eng Engine, config *BotConfig, log *logger.Logger) (*Bot, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is not set")
	}
	api, err := tgbotapi.NewBotAPI(config.Token)
	if err != nil {
		return nil, fmt.Errorf("unable to create bot: %w", err)
	}
	log.Info("authorized on telegram", "account", api.Self.UserName)
	b := New(api, eng, config, log)
	b.api = api
	return b, nil
}

// Run handles updates until ctx is cancelled
func (b *Bot) Run(ctx context.Context) error {
	if b.api == nil {
		return fmt.Errorf("bot is not connected")
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = b.config.PollTimeout
	updates := b.api.GetUpdatesChan(updateConfig)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

// isOwner checks whether a user may use the bot
func (b *Bot) isOwner(userID int64) bool {
	return b.config.OwnerID == 0 || b.config.OwnerID == userID
}

// handleUpdate handles incoming updates from Telegram
func (b *Bot) handleUpdate(parent context.Context, update tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(parent, b.config.HandlerTimeout)
	defer cancel()

	switch {
	case update.Message != nil && update.Message.From != nil:
		msg := update.Message
		if !b.isOwner(msg.From.ID) {
			b.log.Warn("message from unknown user ignored", "user_id", msg.From.ID)
			return
		}
		if msg.IsCommand() {
			b.handleCommand(ctx, msg.Chat.ID, msg.Command(), msg.CommandArguments())
			return
		}
		b.handleText(ctx, msg.Chat.ID, msg.Text)
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if !b.isOwner(cb.From.ID) || cb.Message == nil {
			return
		}
		b.handleCallbackQuery(ctx, cb.Message.Chat.ID, cb.Data)
	}
}

// reply sends text with an optional keyboard
func (b *Bot) reply(chatID int64, text string, buttons [][]MenuButton) {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(buttons) > 0 {
		msg.ReplyMarkup = createKeyboard(buttons)
	}
	if _, err := b.sender.Send(msg); err != nil {
		b.log.Error("failed to send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) fail(chatID int64, action string, err error) {
	b.log.Error("command failed", "action", action, "error", err)
	b.reply(chatID, fmt.Sprintf("Could not %s: %v", action, err), nil)
}

func (b *Bot) current(chatID int64) *session {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[chatID]
	if !ok {
		return nil
	}
	c := *s
	return &c
}

func (b *Bot) setSession(chatID int64, s *session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s == nil {
		delete(b.sessions, chatID)
		return
	}
	b.sessions[chatID] = s
}

// elapsed is the writing time of a session in seconds
func (b *Bot) elapsed(s *session) int {
	return s.Spent + int(b.now().Sub(s.StartedAt).Seconds())
}

// MainMenuButtons returns the buttons for the main menu
func (b *Bot) MainMenuButtons() [][]MenuButton {
	return [][]MenuButton{
		{
			{Text: "Micro tasks", CallbackData: "tasks:micro"},
			{Text: "Short tasks", CallbackData: "tasks:short"},
		},
		{
			{Text: "Profile", CallbackData: "profile"},
			{Text: "Challenges", CallbackData: "challenge"},
		},
		{
			{Text: "Achievements", CallbackData: "achievements"},
		},
	}
}
