package bot

import (
	"context"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/dentalsrs/internal/errs"
	"github.com/example/dentalsrs/internal/study"
	"github.com/example/dentalsrs/pkg/models"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	require.NotEmpty(t, f.sent)
	msg, ok := f.sent[len(f.sent)-1].(tgbotapi.MessageConfig)
	require.True(t, ok)
	return msg
}

type submitted struct {
	userID, questionID, reviewID string
	quality                      int
}

type fakeStudy struct {
	questions  []models.Question
	submitted  []submitted
	board      []models.RankingEntry
	standing   models.RankingEntry
	standErr   error
	visibility map[string]bool
	nextErr    error
}

func (f *fakeStudy) SubmitReviewWithID(_ context.Context, userID, questionID string, quality int, reviewID string) (*study.ReviewSummary, error) {
	f.submitted = append(f.submitted, submitted{userID, questionID, reviewID, quality})
	return &study.ReviewSummary{QuestionID: questionID, Points: 5, IntervalDays: 1, WeeklyPoints: 5, TotalPoints: 5}, nil
}

func (f *fakeStudy) NextQuestions(context.Context, string, int) ([]models.Question, error) {
	return f.questions, f.nextErr
}

func (f *fakeStudy) GetQuestion(_ context.Context, id string) (*models.Question, error) {
	for _, q := range f.questions {
		if q.ID == id {
			return &q, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeStudy) GetDueQueue(context.Context, string, int) ([]string, error) {
	return []string{"q1", "q2"}, nil
}

func (f *fakeStudy) GetLeaderboard(context.Context, models.Metric, int) ([]models.RankingEntry, error) {
	return f.board, nil
}

func (f *fakeStudy) GetUserStanding(context.Context, string, models.Metric) (models.RankingEntry, error) {
	return f.standing, f.standErr
}

func (f *fakeStudy) GetUserStats(_ context.Context, userID string) (*models.UserRollup, error) {
	return &models.UserRollup{UserID: userID, TotalCards: 4, MasteredCards: 1, MasteryRate: 0.25, TotalPoints: 20}, nil
}

func (f *fakeStudy) SetLeaderboardVisibility(_ context.Context, userID string, show bool) error {
	if f.visibility == nil {
		f.visibility = map[string]bool{}
	}
	f.visibility[userID] = show
	return nil
}

type fakeUsers struct{ byTelegram map[int64]*models.User }

func (f *fakeUsers) GetOrCreateByTelegramID(_ context.Context, telegramID int64, newID, nickname string) (*models.User, error) {
	if u, ok := f.byTelegram[telegramID]; ok {
		return u, nil
	}
	u := &models.User{ID: newID, Nickname: nickname, TelegramID: &telegramID}
	f.byTelegram[telegramID] = u
	return u, nil
}

func newTestBot(svc *fakeStudy) (*Bot, *fakeSender, *fakeUsers) {
	api := &fakeSender{}
	users := &fakeUsers{byTelegram: map[int64]*models.User{}}
	return newBot(api, DefaultConfig(), svc, users, zap.NewNop()), api, users
}

func command(text string) *tgbotapi.Message {
	name := strings.Fields(text)[0]
	return &tgbotapi.Message{
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
		Chat:     &tgbotapi.Chat{ID: 7},
		From:     &tgbotapi.User{ID: 42, UserName: "ann"},
	}
}

func callback(id, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      id,
		Data:    data,
		From:    &tgbotapi.User{ID: 42, UserName: "ann"},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}},
	}
}

func buttons(t *testing.T, msg tgbotapi.MessageConfig) []tgbotapi.InlineKeyboardButton {
	t.Helper()
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	var out []tgbotapi.InlineKeyboardButton
	for _, row := range kb.InlineKeyboard {
		out = append(out, row...)
	}
	return out
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(&BotConfig{}, &fakeStudy{}, &fakeUsers{}, nil)
	assert.Error(t, err)
}

func TestHandleStart_RegistersUser(t *testing.T) {
	b, api, users := newTestBot(&fakeStudy{})
	require.NoError(t, b.HandleCommand(context.Background(), command("/start")))

	u, ok := users.byTelegram[42]
	require.True(t, ok)
	assert.Equal(t, "ann", u.Nickname)
	assert.NotEmpty(t, u.ID)
	assert.Contains(t, api.last(t).Text, "Welcome")
}

func TestStudyFlow(t *testing.T) {
	svc := &fakeStudy{questions: []models.Question{{ID: "q1", Subject: "Endo", Body: "Working length?", Answer: "Apex minus 1mm"}}}
	b, api, users := newTestBot(svc)
	ctx := context.Background()

	require.NoError(t, b.HandleCommand(ctx, command("/study")))
	msg := api.last(t)
	assert.Contains(t, msg.Text, "Working length?")
	assert.Equal(t, "reveal:q1", *buttons(t, msg)[0].CallbackData)

	require.NoError(t, b.HandleCallback(ctx, callback("cb0", "reveal:q1")))
	msg = api.last(t)
	assert.Contains(t, msg.Text, "Apex minus 1mm")
	rate := buttons(t, msg)
	require.Len(t, rate, 4)
	assert.Equal(t, "rate:q1:1", *rate[0].CallbackData)
	assert.Equal(t, "rate:q1:4", *rate[3].CallbackData)

	require.NoError(t, b.HandleCallback(ctx, callback("cb1", "rate:q1:3")))
	require.Len(t, svc.submitted, 1)
	assert.Equal(t, submitted{users.byTelegram[42].ID, "q1", "tg-cb1", 3}, svc.submitted[0])
	assert.Contains(t, api.last(t).Text, "+5 points")
}

func TestStudy_NothingDue(t *testing.T) {
	b, api, _ := newTestBot(&fakeStudy{})
	require.NoError(t, b.HandleCommand(context.Background(), command("/study")))
	assert.Contains(t, api.last(t).Text, "Nothing to study")
}

func TestReveal_MissingQuestion(t *testing.T) {
	b, api, _ := newTestBot(&fakeStudy{})
	require.NoError(t, b.HandleCallback(context.Background(), callback("cb", "reveal:gone")))
	assert.Contains(t, api.last(t).Text, "no longer exists")
}

func TestHandleTop(t *testing.T) {
	svc := &fakeStudy{board: []models.RankingEntry{
		{Rank: 1, DisplayName: "ann", TotalPoints: 50},
		{Rank: 2, DisplayName: "bob", TotalPoints: 30},
	}}
	b, api, _ := newTestBot(svc)
	require.NoError(t, b.HandleCommand(context.Background(), command("/top total")))

	text := api.last(t).Text
	assert.Contains(t, text, "total points")
	assert.Contains(t, text, "1. ann - 50 pts")
	assert.Contains(t, text, "2. bob - 30 pts")
}

func TestHandleTop_UnknownMetric(t *testing.T) {
	b, api, _ := newTestBot(&fakeStudy{})
	require.NoError(t, b.HandleCommand(context.Background(), command("/top speed")))
	assert.Contains(t, api.last(t).Text, "unknown leaderboard")
}

func TestHandleRank(t *testing.T) {
	svc := &fakeStudy{standErr: errs.ErrNotFound}
	b, api, _ := newTestBot(svc)
	require.NoError(t, b.HandleCommand(context.Background(), command("/rank")))
	assert.Contains(t, api.last(t).Text, "not ranked yet")

	svc.standErr = nil
	require.NoError(t, b.HandleCommand(context.Background(), command("/rank mastery")))
	assert.Contains(t, api.last(t).Text, "not ranked yet")

	svc.standing = models.RankingEntry{Rank: 3, WeeklyPoints: 15}
	require.NoError(t, b.HandleCommand(context.Background(), command("/rank weekly")))
	assert.Equal(t, "You are #3 by points this week with 15 pts.", api.last(t).Text)
}

func TestHandleVisibility(t *testing.T) {
	svc := &fakeStudy{}
	b, _, users := newTestBot(svc)
	ctx := context.Background()

	require.NoError(t, b.HandleCommand(ctx, command("/hide")))
	id := users.byTelegram[42].ID
	assert.False(t, svc.visibility[id])

	require.NoError(t, b.HandleCommand(ctx, command("/show")))
	assert.True(t, svc.visibility[id])
}

func TestHandleStats(t *testing.T) {
	b, api, _ := newTestBot(&fakeStudy{})
	require.NoError(t, b.HandleCommand(context.Background(), command("/stats")))
	text := api.last(t).Text
	assert.Contains(t, text, "Cards studied: 4")
	assert.Contains(t, text, "Total points: 20")
}

func TestSendReminders(t *testing.T) {
	b, api, _ := newTestBot(&fakeStudy{})
	ctx := context.Background()

	assert.Error(t, b.SendReminders(ctx, models.User{ID: "u1"}, 3))

	chat := int64(99)
	require.NoError(t, b.SendReminders(ctx, models.User{ID: "u1", TelegramID: &chat}, 3))
	msg := api.last(t)
	assert.Equal(t, chat, msg.ChatID)
	assert.Contains(t, msg.Text, "3 cards")
}

func TestHandleCallback_Unknown(t *testing.T) {
	b, _, _ := newTestBot(&fakeStudy{})
	assert.Error(t, b.HandleCallback(context.Background(), callback("cb", "bogus")))
}
