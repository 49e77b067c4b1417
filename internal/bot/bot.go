// Package bot is the Telegram front end of the study service.
package bot

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/dentalsrs/internal/study"
	"github.com/example/dentalsrs/pkg/models"
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

// Study is the part of study.Service the bot drives.
type Study interface {
	SubmitReviewWithID(ctx context.Context, userID, questionID string, quality int, reviewID string) (*study.ReviewSummary, error)
	NextQuestions(ctx context.Context, userID string, limit int) ([]models.Question, error)
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	GetDueQueue(ctx context.Context, userID string, limit int) ([]string, error)
	GetLeaderboard(ctx context.Context, metric models.Metric, n int) ([]models.RankingEntry, error)
	GetUserStanding(ctx context.Context, userID string, metric models.Metric) (models.RankingEntry, error)
	GetUserStats(ctx context.Context, userID string) (*models.UserRollup, error)
	SetLeaderboardVisibility(ctx context.Context, userID string, show bool) error
}

// Users links Telegram accounts to learners.
type Users interface {
	GetOrCreateByTelegramID(ctx context.Context, telegramID int64, newID, nickname string) (*models.User, error)
}

// sender is the subset of tgbotapi.BotAPI used to talk to Telegram.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot represents the Telegram bot application
type Bot struct {
	api    sender
	config *BotConfig
	study  Study
	users  Users
	log    *zap.Logger

	mu       sync.Mutex
	sessions map[int64][]models.Question
}

// New creates a new bot instance. The Telegram connection is made by Start.
func New(cfg *BotConfig, svc Study, users Users, logger *zap.Logger) (*Bot, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is not set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return newBot(nil, cfg, svc, users, logger), nil
}

func newBot(api sender, cfg *BotConfig, svc Study, users Users, logger *zap.Logger) *Bot {
	if cfg.SessionSize <= 0 {
		cfg.SessionSize = DefaultConfig().SessionSize
	}
	if cfg.LeaderboardSize <= 0 {
		cfg.LeaderboardSize = DefaultConfig().LeaderboardSize
	}
	return &Bot{
		api:      api,
		config:   cfg,
		study:    svc,
		users:    users,
		log:      logger,
		sessions: make(map[int64][]models.Question),
	}
}

// Start authorizes against Telegram and handles updates until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	botAPI, err := tgbotapi.NewBotAPI(b.config.Token)
	if err != nil {
		return fmt.Errorf("unable to create bot: %w", err)
	}
	botAPI.Debug = b.config.Debug
	b.api = botAPI
	b.log.Info("authorized on telegram", zap.String("account", botAPI.Self.UserName))

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := botAPI.GetUpdatesChan(updateConfig)

	for {
		select {
		case <-ctx.Done():
			botAPI.StopReceivingUpdates()
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

// SendReminders implements the scheduler.Notifier interface
func (b *Bot) SendReminders(_ context.Context, user models.User, count int) error {
	if user.TelegramID == nil {
		return fmt.Errorf("user %s has no telegram account", user.ID)
	}
	noun := "cards"
	if count == 1 {
		noun = "card"
	}
	msg := tgbotapi.NewMessage(*user.TelegramID, fmt.Sprintf("You have %d %s due for review. Keep your streak going!", count, noun))
	msg.ReplyMarkup = createKeyboard([][]MenuButton{{{Text: "🎯 Study now", CallbackData: callbackStudy}}})
	if err := b.send(msg); err != nil {
		return err
	}
	b.log.Debug("reminder sent", zap.String("user_id", user.ID), zap.Int("due", count))
	return nil
}

// handleUpdate handles incoming updates from Telegram
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	var err error
	switch {
	case update.Message != nil && update.Message.IsCommand():
		err = b.HandleCommand(ctx, update.Message)
	case update.Message != nil:
		msg := tgbotapi.NewMessage(update.Message.Chat.ID, "I don't understand. Use /menu to show the main menu.")
		msg.ReplyMarkup = createKeyboard(b.MainMenuButtons())
		err = b.send(msg)
	case update.CallbackQuery != nil:
		err = b.HandleCallback(ctx, update.CallbackQuery)
	}
	if err != nil {
		b.log.Warn("failed to handle update", zap.Int("update_id", update.UpdateID), zap.Error(err))
	}
}

// user resolves the learner behind a Telegram account, registering it on
// first contact.
func (b *Bot) user(ctx context.Context, from *tgbotapi.User) (*models.User, error) {
	if from == nil {
		return nil, fmt.Errorf("invalid message: sender is missing")
	}
	return b.users.GetOrCreateByTelegramID(ctx, from.ID, uuid.NewString(), from.UserName)
}

func (b *Bot) send(c tgbotapi.Chattable) error {
	if b.api == nil {
		return fmt.Errorf("bot is not started")
	}
	_, err := b.api.Send(c)
	return err
}

// MainMenuButtons returns the buttons for the main menu
func (b *Bot) MainMenuButtons() [][]MenuButton {
	return [][]MenuButton{
		{
			{Text: "🎯 Study", CallbackData: callbackStudy},
			{Text: "📊 Statistics", CallbackData: callbackStats},
		},
		{
			{Text: "🏆 Leaderboard", CallbackData: callbackTop},
		},
	}
}

func (b *Bot) showMainMenu(chatID int64) error {
	msg := tgbotapi.NewMessage(chatID, "Main Menu - choose an option:")
	msg.ReplyMarkup = createKeyboard(b.MainMenuButtons())
	return b.send(msg)
}

// nextQuestion pops the next question of the chat's session, refilling it
// from the study service when empty.
func (b *Bot) nextQuestion(ctx context.Context, chatID int64, userID string) (*models.Question, error) {
	b.mu.Lock()
	queue := b.sessions[chatID]
	b.mu.Unlock()

	if len(queue) == 0 {
		fresh, err := b.study.NextQuestions(ctx, userID, b.config.SessionSize)
		if err != nil {
			return nil, err
		}
		queue = fresh
	}
	if len(queue) == 0 {
		return nil, nil
	}

	b.mu.Lock()
	b.sessions[chatID] = queue[1:]
	b.mu.Unlock()
	q := queue[0]
	return &q, nil
}

func (b *Bot) resetSession(chatID int64) {
	b.mu.Lock()
	delete(b.sessions, chatID)
	b.mu.Unlock()
}
