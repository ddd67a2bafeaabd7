package bot

import (
	"fmt"
	"strings"

	"github.com/example/inkquest/internal/achievement"
	"github.com/example/inkquest/internal/engine"
	"github.com/example/inkquest/internal/progression"
	"github.com/example/inkquest/internal/submission"
	"github.com/example/inkquest/internal/taskpool"
	"github.com/example/inkquest/pkg/models"
)

const barWidth = 10

// progressBar renders percent as a fixed width bar
func progressBar(percent int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * barWidth / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", barWidth-filled) + "]"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func percentOf(current, target int) int {
	if target <= 0 {
		return 100
	}
	return current * 100 / target
}

func formatProfile(p *progression.ProfileView, today *progression.DayStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Level %d, %s\n", p.CurrentLevel, p.CurrentTitle)
	if p.Progress.MaxLevel {
		fmt.Fprintf(&sb, "%d XP, max level reached\n", p.TotalXP)
	} else {
		fmt.Fprintf(&sb, "%s %d%%  %d/%d XP to level %d\n",
			progressBar(p.Progress.Percent), p.Progress.Percent, p.Progress.InLevel, p.Progress.Needed, p.Progress.Next.Level)
	}
	fmt.Fprintf(&sb, "Total %d XP, today +%d XP\n", p.TotalXP, today.XP)
	fmt.Fprintf(&sb, "Streak %d days (best %d)\n", p.CurrentStreak, p.LongestStreak)
	fmt.Fprintf(&sb, "%d pieces, %d words\n", p.TotalPractices, p.TotalWords)
	fmt.Fprintf(&sb, "Achievements %d/%d\n\n", p.AchievementsUnlocked, p.AchievementsTotal)
	for _, a := range models.Attributes() {
		v := p.Attributes[a]
		fmt.Fprintf(&sb, "%-9s %s %d\n", a, progressBar(v*100/models.MaxAttributeValue), v)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatLimits(lo, hi, minutes *int) string {
	var parts []string
	switch {
	case lo != nil && hi != nil:
		parts = append(parts, fmt.Sprintf("%d-%d words", *lo, *hi))
	case hi != nil:
		parts = append(parts, fmt.Sprintf("up to %d words", *hi))
	case lo != nil:
		parts = append(parts, fmt.Sprintf("at least %d words", *lo))
	}
	if minutes != nil {
		parts = append(parts, fmt.Sprintf("%d min", *minutes))
	}
	return strings.Join(parts, ", ")
}

func formatTasks(tasks []taskpool.TaskView) string {
	if len(tasks) == 0 {
		return "No tasks for today yet. Try /generate."
	}
	var sb strings.Builder
	var tier models.Tier
	for _, t := range tasks {
		if t.Tier != tier {
			tier = t.Tier
			fmt.Fprintf(&sb, "\n%s\n", strings.ToUpper(string(tier)))
		}
		mark := " "
		switch {
		case t.Completed:
			mark = "✓"
		case t.Started:
			mark = "…"
		}
		fmt.Fprintf(&sb, "%s #%d %s (+%d XP, %s)", mark, t.ID, t.Title, t.XPReward, t.AttrType)
		if t.Source == models.SourceGenerated {
			sb.WriteString(" *")
		}
		if limits := formatLimits(t.WordLimitMin, t.WordLimitMax, t.TimeLimit); limits != "" {
			fmt.Fprintf(&sb, "\n    %s", limits)
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func formatStart(res *submission.StartResult) string {
	var sb strings.Builder
	t := res.Task
	if res.Resumed {
		fmt.Fprintf(&sb, "Resuming #%d %s\n\n", t.ID, t.Title)
	} else {
		fmt.Fprintf(&sb, "#%d %s\n\n", t.ID, t.Title)
	}
	sb.WriteString(t.Description)
	if t.Requirements != nil && *t.Requirements != "" {
		fmt.Fprintf(&sb, "\n\nRequirements: %s", *t.Requirements)
	}
	if limits := formatLimits(t.WordLimitMin, t.WordLimitMax, t.TimeLimit); limits != "" {
		fmt.Fprintf(&sb, "\nLimits: %s", limits)
	}
	if res.Record.Content != "" {
		fmt.Fprintf(&sb, "\n\nDraft so far: %d words", res.Record.WordCount)
	}
	sb.WriteString("\n\nSend your text as messages, then /submit.")
	return sb.String()
}

func formatSubmit(res *submission.SubmitResult) string {
	var sb strings.Builder
	eval := res.Evaluation
	fmt.Fprintf(&sb, "%s: %d words, score %d", res.Task.Title, res.Record.WordCount, eval.Score)
	if eval.Fallback {
		sb.WriteString(" (default, the scorer was unavailable)")
	}
	sb.WriteString("\n")
	for _, d := range eval.Dimensions {
		fmt.Fprintf(&sb, "  %s %d\n", d.Name, d.Score)
	}
	if eval.Overall != "" {
		fmt.Fprintf(&sb, "\n%s\n", eval.Overall)
	}
	for _, h := range eval.Highlights {
		fmt.Fprintf(&sb, "+ %s\n", h)
	}
	for _, i := range eval.Improvements {
		fmt.Fprintf(&sb, "- %s\n", i)
	}

	sb.WriteString("\n")
	if g := res.Grant; g != nil && !g.AlreadyGranted {
		fmt.Fprintf(&sb, "+%d XP", g.XPAwarded)
		if g.AttrAmount > 0 {
			fmt.Fprintf(&sb, ", %s +%d", g.Attribute, g.AttrAmount)
		}
		sb.WriteString("\n")
	}
	if s := res.Streak; s != nil && s.Updated {
		fmt.Fprintf(&sb, "Streak: %d days", s.StreakDays)
		if s.BonusXP > 0 {
			fmt.Fprintf(&sb, " (+%d XP bonus)", s.BonusXP)
		}
		sb.WriteString("\n")
	}
	if c := res.Challenges; c != nil {
		if c.DailyCompleted {
			fmt.Fprintf(&sb, "Daily challenge complete: %s\n", c.Daily.Title)
		}
		if c.WeeklyCompleted {
			fmt.Fprintf(&sb, "Weekly challenge complete: %s\n", c.Weekly.Title)
		}
	}
	for _, u := range res.Unlocked {
		fmt.Fprintf(&sb, "Achievement unlocked: %s (+%d XP)\n", u.Name, u.XPAwarded)
	}
	if res.LeveledUp && res.Profile != nil {
		fmt.Fprintf(&sb, "Level up! You are now level %d, %s\n", res.Profile.CurrentLevel, res.Profile.CurrentTitle)
	}
	if len(res.FailedSteps) > 0 {
		fmt.Fprintf(&sb, "Some rewards are delayed: %s\n", strings.Join(res.FailedSteps, ", "))
	}
	return strings.TrimSpace(sb.String())
}

func formatChallenges(daily *models.DailyChallenge, weekly *models.WeeklyChallenge) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Today: %s\n%s\n", daily.Title, daily.Description)
	if daily.IsCompleted {
		fmt.Fprintf(&sb, "Completed, +%d XP\n", daily.XPReward)
	} else {
		fmt.Fprintf(&sb, "%s %d/%d, +%d XP\n",
			progressBar(percentOf(daily.CurrentValue, daily.TargetValue)), daily.CurrentValue, daily.TargetValue, daily.XPReward)
	}
	sb.WriteString("\n")
	if weekly == nil {
		sb.WriteString("No weekly challenge this week.")
		return sb.String()
	}
	fmt.Fprintf(&sb, "This week (%s to %s): %s\n", weekly.WeekStart, weekly.WeekEnd, weekly.Title)
	if weekly.Theme != "" {
		fmt.Fprintf(&sb, "Theme: %s\n", weekly.Theme)
	}
	if weekly.IsCompleted {
		fmt.Fprintf(&sb, "Completed, +%d XP", weekly.XPReward)
	} else {
		fmt.Fprintf(&sb, "%s %d/%d words, +%d XP",
			progressBar(percentOf(weekly.CurrentValue, weekly.TargetValue)), weekly.CurrentValue, weekly.TargetValue, weekly.XPReward)
	}
	if weekly.TaskID != nil && !weekly.IsCompleted {
		fmt.Fprintf(&sb, "\nWrite it with /take %d", *weekly.TaskID)
	}
	return sb.String()
}

func formatAchievements(stats *achievement.Stats, next []achievement.Pending) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d/%d unlocked (%d%%)\n", stats.Unlocked, stats.Total, stats.Percent)
	if len(next) > 0 {
		sb.WriteString("\nClosest:\n")
	}
	for _, p := range next {
		fmt.Fprintf(&sb, "%s %s %d/%d\n", progressBar(p.Percent), p.Name, p.Current, p.RequirementValue)
	}
	return strings.TrimSpace(sb.String())
}

func formatGenerate(res *engine.ManualResult) string {
	var lines []string
	if p := res.Preset; p != nil {
		if p.Existing {
			lines = append(lines, fmt.Sprintf("Preset tasks for %s already exist.", p.Date))
		} else {
			lines = append(lines, fmt.Sprintf("Preset tasks for %s: %d micro, %d short.", p.Date, p.Micro, p.Short))
		}
	}
	for _, batch := range res.Generated {
		line := fmt.Sprintf("Generated %s: %d new, %d duplicates.", batch.Tier, len(batch.Inserted), batch.Duplicates)
		if batch.Error != "" {
			line += " " + batch.Error
		}
		lines = append(lines, line)
	}
	if res.Daily != nil {
		lines = append(lines, "Daily challenge: "+res.Daily.Title)
	}
	if res.Weekly != nil {
		lines = append(lines, "Weekly challenge: "+res.Weekly.Title)
	}
	if len(lines) == 0 {
		return "Nothing to do."
	}
	return strings.Join(lines, "\n")
}

func formatStatus(st *engine.SchedulerStatus) string {
	var sb strings.Builder
	switch {
	case !st.Enabled:
		sb.WriteString("Scheduler disabled\n")
	case st.Scheduler.Running:
		sb.WriteString("Scheduler running\n")
	default:
		sb.WriteString("Scheduler stopped\n")
	}
	for _, job := range st.Scheduler.Jobs {
		fmt.Fprintf(&sb, "%s: %d runs, %d failed", job.Tag, job.Runs, job.Failures)
		if job.LastRun != nil {
			fmt.Fprintf(&sb, ", last %s", job.LastRun.StartedAt.Format("15:04"))
			if job.LastRun.Error != "" {
				fmt.Fprintf(&sb, " (%s)", job.LastRun.Error)
			}
		}
		if job.NextRun != nil {
			fmt.Fprintf(&sb, ", next %s", job.NextRun.Format("15:04"))
		}
		sb.WriteString("\n")
	}
	if p := st.Pool; p != nil {
		fmt.Fprintf(&sb, "\nPool %s: %d tasks\n", p.Date, p.Total)
		for _, c := range p.Counts {
			fmt.Fprintf(&sb, "  %s %s: %d\n", c.Source, c.Tier, c.Count)
		}
		if p.GeneratorEnabled {
			sb.WriteString("Generator enabled")
		} else {
			sb.WriteString("Generator disabled")
		}
	}
	return strings.TrimSpace(sb.String())
}
