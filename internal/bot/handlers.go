package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/example/dentalsrs/internal/errs"
	"github.com/example/dentalsrs/internal/ranking"
	"github.com/example/dentalsrs/internal/spaced_repetition"
	"github.com/example/dentalsrs/pkg/models"
)

// Constants for callback data
const (
	callbackMainMenu = "main_menu"
	callbackStudy    = "study"
	callbackStats    = "show_stats"
	callbackTop      = "show_top"
	prefixReveal     = "reveal:"
	prefixRate       = "rate:"
)

// HandleCommand handles bot commands
func (b *Bot) HandleCommand(ctx context.Context, message *tgbotapi.Message) error {
	switch message.Command() {
	case "start":
		return b.handleStart(ctx, message)
	case "help":
		return b.handleHelp(message)
	case "menu":
		return b.showMainMenu(message.Chat.ID)
	case "study":
		return b.handleStudy(ctx, message.Chat.ID, message.From)
	case "due":
		return b.handleDue(ctx, message)
	case "stats":
		return b.handleStats(ctx, message.Chat.ID, message.From)
	case "top":
		return b.handleTop(ctx, message.Chat.ID, message.CommandArguments())
	case "rank":
		return b.handleRank(ctx, message)
	case "hide":
		return b.handleVisibility(ctx, message, false)
	case "show":
		return b.handleVisibility(ctx, message, true)
	default:
		return b.handleUnknownCommand(message)
	}
}

func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) error {
	if message == nil || message.From == nil || message.Chat == nil {
		return fmt.Errorf("invalid message: required fields are missing")
	}
	if _, err := b.user(ctx, message.From); err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}

	text := "👋 Welcome to the dental exam trainer!\n\n" +
		"Questions come back on a spaced repetition schedule: the better you know one, the later you see it again.\n\n" +
		"Rate every answer honestly and earn points for the weekly leaderboard."
	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ReplyMarkup = createKeyboard(b.MainMenuButtons())
	return b.send(msg)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) error {
	text := "📖 Commands\n\n" +
		"/study - Answer the next question\n" +
		"/due - How many cards are due now\n" +
		"/stats - Your statistics\n" +
		"/top [weekly|total|mastery] - Leaderboard\n" +
		"/rank [weekly|total|mastery] - Your position\n" +
		"/hide - Hide me from leaderboards\n" +
		"/show - Show me on leaderboards\n\n" +
		"Ratings:\n" +
		"🔄 Again - forgot it, see it tomorrow\n" +
		"😅 Hard - remembered with effort\n" +
		"👍 Normal - remembered\n" +
		"🔥 Easy - knew it instantly"
	return b.send(tgbotapi.NewMessage(message.Chat.ID, text))
}

func (b *Bot) handleUnknownCommand(message *tgbotapi.Message) error {
	msg := tgbotapi.NewMessage(message.Chat.ID, "Unknown command. Use /help to list commands.")
	msg.ReplyMarkup = createKeyboard(b.MainMenuButtons())
	return b.send(msg)
}

// handleStudy shows the next question with a button revealing its answer.
func (b *Bot) handleStudy(ctx context.Context, chatID int64, from *tgbotapi.User) error {
	user, err := b.user(ctx, from)
	if err != nil {
		return err
	}
	q, err := b.nextQuestion(ctx, chatID, user.ID)
	if err != nil {
		return b.replyError(chatID, err)
	}
	if q == nil {
		msg := tgbotapi.NewMessage(chatID, "🎉 Nothing to study right now. Come back later!")
		msg.ReplyMarkup = createKeyboard(b.MainMenuButtons())
		return b.send(msg)
	}

	text := q.Body
	if q.Subject != "" {
		text = fmt.Sprintf("📚 %s\n\n%s", q.Subject, q.Body)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = createKeyboard([][]MenuButton{{{Text: "👀 Show answer", CallbackData: prefixReveal + q.ID}}})
	return b.send(msg)
}

// handleReveal shows the answer and the rating buttons.
func (b *Bot) handleReveal(ctx context.Context, chatID int64, questionID string) error {
	q, err := b.study.GetQuestion(ctx, questionID)
	if err != nil {
		return b.replyError(chatID, err)
	}
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("✅ %s\n\nHow well did you know it?", q.Answer))
	msg.ReplyMarkup = createKeyboard(ratingButtons(q.ID))
	return b.send(msg)
}

func ratingButtons(questionID string) [][]MenuButton {
	row := make([]MenuButton, 0, len(spaced_repetition.Ratings))
	for _, r := range spaced_repetition.Ratings {
		row = append(row, MenuButton{
			Text:         r.Label(),
			CallbackData: fmt.Sprintf("%s%s:%d", prefixRate, questionID, r.Quality()),
		})
	}
	return [][]MenuButton{row}
}

// handleRate submits a rating. The callback query id is the review id, so
// a redelivered button press is not counted twice.
func (b *Bot) handleRate(ctx context.Context, callback *tgbotapi.CallbackQuery, data string) error {
	chatID := callback.Message.Chat.ID
	sep := strings.LastIndex(data, ":")
	if sep <= 0 {
		return fmt.Errorf("malformed rating callback %q", data)
	}
	questionID := data[:sep]
	rating, err := spaced_repetition.ParseRating(data[sep+1:])
	if err != nil {
		return err
	}

	user, err := b.user(ctx, callback.From)
	if err != nil {
		return err
	}
	summary, err := b.study.SubmitReviewWithID(ctx, user.ID, questionID, rating.Quality(), "tg-"+callback.ID)
	if err != nil {
		return b.replyError(chatID, err)
	}

	var text string
	switch {
	case summary.Duplicate:
		text = "This answer was already recorded."
	case summary.Mastered:
		text = fmt.Sprintf("+%d points. Mastered! Next review in %d days.", summary.Points, summary.IntervalDays)
	default:
		text = fmt.Sprintf("+%d points. Next review in %d days.", summary.Points, summary.IntervalDays)
	}
	text += fmt.Sprintf("\nThis week: %d points, total: %d.", summary.WeeklyPoints, summary.TotalPoints)
	if summary.StatsStale {
		text += "\n(Statistics will catch up shortly.)"
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = createKeyboard([][]MenuButton{{
		{Text: "➡️ Next", CallbackData: callbackStudy},
		{Text: "🏠 Menu", CallbackData: callbackMainMenu},
	}})
	return b.send(msg)
}

func (b *Bot) handleDue(ctx context.Context, message *tgbotapi.Message) error {
	user, err := b.user(ctx, message.From)
	if err != nil {
		return err
	}
	ids, err := b.study.GetDueQueue(ctx, user.ID, 100)
	if err != nil {
		return b.replyError(message.Chat.ID, err)
	}
	text := fmt.Sprintf("You have %d cards due.", len(ids))
	if len(ids) == 100 {
		text = "You have 100+ cards due."
	}
	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ReplyMarkup = createKeyboard([][]MenuButton{{{Text: "🎯 Study", CallbackData: callbackStudy}}})
	return b.send(msg)
}

func (b *Bot) handleStats(ctx context.Context, chatID int64, from *tgbotapi.User) error {
	user, err := b.user(ctx, from)
	if err != nil {
		return err
	}
	stats, err := b.study.GetUserStats(ctx, user.ID)
	if err != nil {
		return b.replyError(chatID, err)
	}
	text := fmt.Sprintf("📊 Your statistics\n\n"+
		"Cards studied: %d\n"+
		"Mastered: %d (%.0f%%, %s)\n"+
		"Points this week: %d\n"+
		"Total points: %d",
		stats.TotalCards,
		stats.MasteredCards, stats.MasteryRate*100, ranking.MasteryLevel(stats.MasteryRate),
		stats.WeeklyPoints,
		stats.TotalPoints)
	return b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) handleTop(ctx context.Context, chatID int64, arg string) error {
	metric, err := parseMetricArg(arg)
	if err != nil {
		return b.replyError(chatID, err)
	}
	entries, err := b.study.GetLeaderboard(ctx, metric, b.config.LeaderboardSize)
	if err != nil {
		return b.replyError(chatID, err)
	}
	if len(entries) == 0 {
		return b.send(tgbotapi.NewMessage(chatID, "The leaderboard is empty so far."))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🏆 Top %d by %s\n\n", len(entries), metricTitle(metric))
	for _, e := range entries {
		fmt.Fprintf(&sb, "%d. %s - %s\n", e.Rank, e.DisplayName, metricValue(e, metric))
	}
	return b.send(tgbotapi.NewMessage(chatID, sb.String()))
}

func (b *Bot) handleRank(ctx context.Context, message *tgbotapi.Message) error {
	metric, err := parseMetricArg(message.CommandArguments())
	if err != nil {
		return b.replyError(message.Chat.ID, err)
	}
	user, err := b.user(ctx, message.From)
	if err != nil {
		return err
	}
	notRanked := "You are not ranked yet. Answer a few questions first!"
	e, err := b.study.GetUserStanding(ctx, user.ID, metric)
	if errs.IsNotFound(err) {
		return b.send(tgbotapi.NewMessage(message.Chat.ID, notRanked))
	}
	if err != nil {
		return b.replyError(message.Chat.ID, err)
	}
	text := fmt.Sprintf("You are #%d by %s with %s.", e.Rank, metricTitle(metric), metricValue(e, metric))
	if e.Rank == 0 {
		text = notRanked
	}
	return b.send(tgbotapi.NewMessage(message.Chat.ID, text))
}

func (b *Bot) handleVisibility(ctx context.Context, message *tgbotapi.Message, show bool) error {
	user, err := b.user(ctx, message.From)
	if err != nil {
		return err
	}
	if err := b.study.SetLeaderboardVisibility(ctx, user.ID, show); err != nil {
		return b.replyError(message.Chat.ID, err)
	}
	text := "You are hidden from public leaderboards. /rank still shows your position."
	if show {
		text = "You are visible on public leaderboards."
	}
	return b.send(tgbotapi.NewMessage(message.Chat.ID, text))
}

// HandleCallback handles callback queries from buttons
func (b *Bot) HandleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) error {
	if callback.Message == nil || callback.Message.Chat == nil {
		return fmt.Errorf("callback without message")
	}
	if b.api != nil {
		if _, err := b.api.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
			b.log.Debug("failed to answer callback", zap.Error(err))
		}
	}
	chatID := callback.Message.Chat.ID

	switch data := callback.Data; {
	case data == callbackMainMenu:
		return b.showMainMenu(chatID)
	case data == callbackStudy:
		return b.handleStudy(ctx, chatID, callback.From)
	case data == callbackStats:
		return b.handleStats(ctx, chatID, callback.From)
	case data == callbackTop:
		return b.handleTop(ctx, chatID, "")
	case strings.HasPrefix(data, prefixReveal):
		return b.handleReveal(ctx, chatID, strings.TrimPrefix(data, prefixReveal))
	case strings.HasPrefix(data, prefixRate):
		return b.handleRate(ctx, callback, strings.TrimPrefix(data, prefixRate))
	}
	return fmt.Errorf("unknown callback %q", callback.Data)
}

// replyError tells the user about a failure they can act on and reports
// the rest.
func (b *Bot) replyError(chatID int64, err error) error {
	var text string
	switch {
	case errs.IsInvalidInput(err):
		text = "⚠️ " + err.Error()
	case errs.IsNotFound(err):
		b.resetSession(chatID)
		text = "⚠️ That question no longer exists."
	case errs.IsTransient(err), errs.IsConflict(err):
		text = "⏳ The service is busy, please try again."
	default:
		text = "❌ Something went wrong."
	}
	if sendErr := b.send(tgbotapi.NewMessage(chatID, text)); sendErr != nil {
		return sendErr
	}
	if errs.IsInvalidInput(err) || errs.IsNotFound(err) {
		return nil
	}
	return err
}

func parseMetricArg(arg string) (models.Metric, error) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "", "week", "weekly":
		return models.MetricWeeklyPoints, nil
	case "total", "all":
		return models.MetricTotalPoints, nil
	case "mastery":
		return models.MetricMasteryRate, nil
	}
	m, err := models.ParseMetric(arg)
	if err != nil {
		return "", errs.InvalidInput("unknown leaderboard %q, use weekly, total or mastery", arg)
	}
	return m, nil
}

func metricTitle(m models.Metric) string {
	switch m {
	case models.MetricTotalPoints:
		return "total points"
	case models.MetricMasteryRate:
		return "mastery"
	}
	return "points this week"
}

func metricValue(e models.RankingEntry, m models.Metric) string {
	switch m {
	case models.MetricTotalPoints:
		return strconv.Itoa(e.TotalPoints) + " pts"
	case models.MetricMasteryRate:
		return fmt.Sprintf("%.0f%% (%s)", e.MasteryRate*100, e.MasteryLevel)
	}
	return strconv.Itoa(e.WeeklyPoints) + " pts"
}
