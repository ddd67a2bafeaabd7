package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/inkquest/internal/engine"
	"github.com/example/inkquest/internal/submission"
	"github.com/example/inkquest/pkg/models"
)

// Callback data prefixes
const (
	callbackTasks = "tasks:"
	callbackTake  = "take:"
)

const helpText = `Daily writing practice.

/tasks [micro|short|epic] - today's tasks
/take <id> - start or resume a task
/draft - show what you have written so far
/submit - hand in the current text
/cancel - put the current task aside
/profile - level, XP and attributes
/challenge - today's and this week's challenge
/achievements - unlock progress
/generate [preset|ai|challenge] - fill today's pool now
/status - background jobs

While a task is open every message you send is added to its draft.`

// handleCommand handles bot commands
func (b *Bot) handleCommand(ctx context.Context, chatID int64, command, args string) {
	switch command {
	case "start", "help", "menu":
		b.reply(chatID, helpText, b.MainMenuButtons())
	case "profile":
		b.handleProfile(ctx, chatID)
	case "tasks":
		b.handleTasks(ctx, chatID, args)
	case "take":
		id, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
		if err != nil {
			b.reply(chatID, "Usage: /take <task id>", nil)
			return
		}
		b.handleTake(ctx, chatID, id)
	case "draft":
		b.handleDraft(chatID)
	case "submit":
		b.handleSubmit(ctx, chatID)
	case "cancel":
		b.handleCancel(chatID)
	case "challenge", "weekly":
		b.handleChallenges(ctx, chatID)
	case "achievements":
		b.handleAchievements(ctx, chatID)
	case "generate":
		b.handleGenerate(ctx, chatID, args)
	case "status":
		b.handleStatus(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help to see what I can do.", b.MainMenuButtons())
	}
}

// handleCallbackQuery handles callback queries from buttons
func (b *Bot) handleCallbackQuery(ctx context.Context, chatID int64, data string) {
	switch {
	case data == "main_menu":
		b.reply(chatID, "Main menu:", b.MainMenuButtons())
	case data == "profile":
		b.handleProfile(ctx, chatID)
	case data == "challenge":
		b.handleChallenges(ctx, chatID)
	case data == "achievements":
		b.handleAchievements(ctx, chatID)
	case data == "submit":
		b.handleSubmit(ctx, chatID)
	case strings.HasPrefix(data, callbackTasks):
		b.handleTasks(ctx, chatID, strings.TrimPrefix(data, callbackTasks))
	case strings.HasPrefix(data, callbackTake):
		id, err := strconv.ParseInt(strings.TrimPrefix(data, callbackTake), 10, 64)
		if err != nil {
			b.log.Warn("invalid callback data", "data", data)
			return
		}
		b.handleTake(ctx, chatID, id)
	default:
		b.log.Warn("unknown callback", "data", data)
	}
}

// handleText appends a message to the open draft
func (b *Bot) handleText(ctx context.Context, chatID int64, text string) {
	s := b.current(chatID)
	if s == nil {
		b.reply(chatID, "No task is open. Pick one with /tasks.", b.MainMenuButtons())
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	content := text
	if s.Content != "" {
		content = s.Content + "\n\n" + text
	}
	rec, err := b.engine.SaveDraft(ctx, s.RecordID, content, b.elapsed(s))
	if err != nil {
		b.fail(chatID, "save the draft", err)
		return
	}
	s.Content = rec.Content
	b.setSession(chatID, s)
	b.reply(chatID, fmt.Sprintf("Draft saved, %d words so far.", rec.WordCount),
		[][]MenuButton{{{Text: "Submit", CallbackData: "submit"}}})
}

func (b *Bot) handleProfile(ctx context.Context, chatID int64) {
	profile, err := b.engine.GetProfile(ctx)
	if err != nil {
		b.fail(chatID, "load the profile", err)
		return
	}
	today, err := b.engine.TodayXP(ctx)
	if err != nil {
		b.fail(chatID, "load today's XP", err)
		return
	}
	b.reply(chatID, formatProfile(profile, today), nil)
}

func (b *Bot) handleTasks(ctx context.Context, chatID int64, args string) {
	var tier models.Tier
	if args = strings.ToLower(strings.TrimSpace(args)); args != "" {
		t, err := models.ParseTier(args)
		if err != nil {
			b.reply(chatID, "Tiers are micro, short and epic.", nil)
			return
		}
		tier = t
	}
	tasks, err := b.engine.GetTodayTasks(ctx, tier)
	if err != nil {
		b.fail(chatID, "load today's tasks", err)
		return
	}
	if len(tasks) > b.config.TasksPerTier && tier != "" {
		tasks = tasks[:b.config.TasksPerTier]
	}
	var buttons [][]MenuButton
	for _, t := range tasks {
		if t.Completed {
			continue
		}
		buttons = append(buttons, []MenuButton{{
			Text:         truncate(fmt.Sprintf("#%d %s", t.ID, t.Title), 40),
			CallbackData: fmt.Sprintf("%s%d", callbackTake, t.ID),
		}})
	}
	b.reply(chatID, formatTasks(tasks), buttons)
}

func (b *Bot) handleTake(ctx context.Context, chatID int64, taskID int64) {
	res, err := b.engine.Start(ctx, taskID)
	if errors.Is(err, submission.ErrTaskNotFound) {
		b.reply(chatID, fmt.Sprintf("Task #%d does not exist.", taskID), nil)
		return
	}
	if err != nil {
		b.fail(chatID, "start the task", err)
		return
	}
	if res.Completed {
		b.reply(chatID, fmt.Sprintf("You already finished %q.", res.Task.Title), nil)
		return
	}
	b.setSession(chatID, &session{
		RecordID:  res.Record.ID,
		TaskTitle: res.Task.Title,
		Content:   res.Record.Content,
		StartedAt: b.now(),
		Spent:     res.Record.TimeSpent,
	})
	b.reply(chatID, formatStart(res), [][]MenuButton{{{Text: "Submit", CallbackData: "submit"}}})
}

func (b *Bot) handleDraft(chatID int64) {
	s := b.current(chatID)
	if s == nil {
		b.reply(chatID, "No task is open.", nil)
		return
	}
	if s.Content == "" {
		b.reply(chatID, fmt.Sprintf("%s\n\nNothing written yet.", s.TaskTitle), nil)
		return
	}
	b.reply(chatID, fmt.Sprintf("%s (%d words)\n\n%s", s.TaskTitle, submission.CountWords(s.Content), s.Content), nil)
}

func (b *Bot) handleSubmit(ctx context.Context, chatID int64) {
	s := b.current(chatID)
	if s == nil {
		b.reply(chatID, "No task is open.", nil)
		return
	}
	if strings.TrimSpace(s.Content) == "" {
		b.reply(chatID, "Write something first, then /submit.", nil)
		return
	}
	b.reply(chatID, "Scoring your text...", nil)
	res, err := b.engine.Submit(ctx, s.RecordID, s.Content, b.elapsed(s))
	if errors.Is(err, submission.ErrInvalidState) {
		b.setSession(chatID, nil)
		b.reply(chatID, "This task was already completed.", nil)
		return
	}
	if errors.Is(err, submission.ErrInProgress) {
		b.reply(chatID, "Still scoring an earlier submit of this text, try /submit again in a moment.", nil)
		return
	}
	if err != nil {
		b.fail(chatID, "submit", err)
		return
	}
	b.setSession(chatID, nil)
	b.reply(chatID, formatSubmit(res), b.MainMenuButtons())
}

func (b *Bot) handleCancel(chatID int64) {
	if b.current(chatID) == nil {
		b.reply(chatID, "No task is open.", nil)
		return
	}
	b.setSession(chatID, nil)
	b.reply(chatID, "Task put aside. Your draft is kept; /take it again to continue.", nil)
}

func (b *Bot) handleChallenges(ctx context.Context, chatID int64) {
	daily, err := b.engine.GetDailyChallenge(ctx)
	if err != nil {
		b.fail(chatID, "load the daily challenge", err)
		return
	}
	weekly, err := b.engine.GetWeeklyChallenge(ctx)
	if err != nil {
		b.fail(chatID, "load the weekly challenge", err)
		return
	}
	b.reply(chatID, formatChallenges(daily, weekly), nil)
}

func (b *Bot) handleAchievements(ctx context.Context, chatID int64) {
	stats, err := b.engine.AchievementStats(ctx)
	if err != nil {
		b.fail(chatID, "load achievements", err)
		return
	}
	next, err := b.engine.NextAchievements(ctx, b.config.NextAchievements)
	if err != nil {
		b.fail(chatID, "load achievements", err)
		return
	}
	b.reply(chatID, formatAchievements(stats, next), nil)
}

func (b *Bot) handleGenerate(ctx context.Context, chatID int64, args string) {
	opts := engine.ManualOptions{}
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "preset":
		opts.Preset = true
	case "ai":
		opts.Generated = true
	case "challenge":
		opts.Challenge = true
	case "", "all":
		opts = engine.ManualOptions{Preset: true, Generated: true, Challenge: true}
	default:
		b.reply(chatID, "Usage: /generate [preset|ai|challenge]", nil)
		return
	}
	res, err := b.engine.ManualGenerate(ctx, opts)
	if err != nil {
		b.fail(chatID, "generate tasks", err)
		return
	}
	b.reply(chatID, formatGenerate(res), nil)
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	st, err := b.engine.GetSchedulerStatus(ctx)
	if err != nil {
		b.fail(chatID, "load the status", err)
		return
	}
	b.reply(chatID, formatStatus(st), nil)
}
