package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/inkquest/internal/engine"
	"github.com/example/inkquest/pkg/models"
)

func newProfileCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show level, XP, streak and attributes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, *envFile, false)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.engine.GetProfile(ctx)
			if err != nil {
				return err
			}
			today, err := a.engine.TodayXP(ctx)
			if err != nil {
				return err
			}
			next, err := a.engine.NextAchievements(ctx, 3)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, heading(iconQuill, p.Nickname))
			fmt.Fprintln(out, labelValue("Level", fmt.Sprintf("%d, %s", p.CurrentLevel, p.CurrentTitle)))
			if p.Progress.MaxLevel {
				fmt.Fprintln(out, labelValue("Total XP", fmt.Sprintf("%d %s", p.TotalXP, gold.Render("max level"))))
			} else {
				fmt.Fprintln(out, labelValue("Total XP", fmt.Sprintf("%d (%d/%d to level %d)",
					p.TotalXP, p.Progress.InLevel, p.Progress.Needed, p.Progress.Next.Level)))
				fmt.Fprintf(out, "%s %d%%\n", meter(p.Progress.Percent, 100, 20), p.Progress.Percent)
			}
			fmt.Fprintln(out, labelValue("Today", fmt.Sprintf("+%d XP", today.XP)))
			fmt.Fprintln(out, labelValue("Streak", fmt.Sprintf("%d days (best %d)", p.CurrentStreak, p.LongestStreak)))
			fmt.Fprintln(out, labelValue("Written", fmt.Sprintf("%d pieces, %d words", p.TotalPractices, p.TotalWords)))
			fmt.Fprintln(out, "")

			fmt.Fprintln(out, h2.Render("Attributes"))
			for _, attr := range models.Attributes() {
				v := p.Attributes[attr]
				fmt.Fprintf(out, "  %-9s %s %d\n", attr, meter(v, models.MaxAttributeValue, 20), v)
			}
			fmt.Fprintln(out, "")

			fmt.Fprintln(out, h2.Render(fmt.Sprintf("%s Achievements %d/%d", iconTrophy, p.AchievementsUnlocked, p.AchievementsTotal)))
			for _, n := range next {
				fmt.Fprintf(out, "  %s %s %s\n", meter(n.Percent, 100, 10), n.Name, muted.Render(fmt.Sprintf("%d/%d", n.Current, n.RequirementValue)))
			}
			return nil
		},
	}
}

func newTasksCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks [micro|short|epic]",
		Short: "List today's tasks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var tier models.Tier
			if len(args) == 1 {
				t, err := models.ParseTier(args[0])
				if err != nil {
					return err
				}
				tier = t
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, *envFile, false)
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.engine.GetTodayTasks(ctx, tier)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, muted.Render("No tasks for today."))
				return nil
			}
			var current models.Tier
			for _, t := range tasks {
				if t.Tier != current {
					current = t.Tier
					fmt.Fprintln(out, h2.Render(strings.ToUpper(string(current))))
				}
				status := muted.Render("open")
				switch {
				case t.Completed:
					status = good.Render("done")
				case t.Started:
					status = key.Render("draft")
				}
				fmt.Fprintf(out, "  #%-4d %s  %s %s\n", t.ID, t.Title, muted.Render(fmt.Sprintf("+%d XP %s", t.XPReward, t.AttrType)), status)
			}
			return nil
		},
	}
}

func newGenerateCmd(envFile *string) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:       "generate [preset|ai|challenge|all]",
		Short:     "Fill today's pool and challenges now",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"preset", "ai", "challenge", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			what := "all"
			if len(args) == 1 {
				what = args[0]
			}
			opts := engine.ManualOptions{GeneratedCount: count}
			switch what {
			case "preset":
				opts.Preset = true
			case "ai":
				opts.Generated = true
			case "challenge":
				opts.Challenge = true
			default:
				opts.Preset, opts.Generated, opts.Challenge = true, true, true
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, *envFile, false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.ManualGenerate(ctx, opts)
			if err != nil {
				return err
			}
			printGenerate(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "generated tasks per tier (default: the augmentation batch size)")
	return cmd
}

func printGenerate(out io.Writer, res *engine.ManualResult) {
	if p := res.Preset; p != nil {
		if p.Existing {
			fmt.Fprintln(out, labelValue("Preset", fmt.Sprintf("%s already filled", p.Date)))
		} else {
			fmt.Fprintln(out, labelValue("Preset", fmt.Sprintf("%s: %d micro, %d short", p.Date, p.Micro, p.Short)))
		}
	}
	for _, b := range res.Generated {
		line := fmt.Sprintf("%d new, %d duplicates", len(b.Inserted), b.Duplicates)
		if b.Error != "" {
			line += " " + bad.Render(b.Error)
		}
		fmt.Fprintln(out, labelValue("Generated "+string(b.Tier), line))
	}
	if res.Daily != nil {
		fmt.Fprintln(out, labelValue("Daily challenge", res.Daily.Title))
	}
	if res.Weekly != nil {
		fmt.Fprintln(out, labelValue("Weekly challenge", res.Weekly.Title))
	}
}

func newImportCmd(envFile *string) *cobra.Command {
	var sheet string
	cmd := &cobra.Command{
		Use:   "import <file.xlsx|file.csv>",
		Short: "Add or update task templates from a spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, *envFile, false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := importTemplates(ctx, a, args[0], sheet)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, labelValue("Processed", res.TotalProcessed))
			fmt.Fprintln(out, labelValue("Created", res.Created))
			fmt.Fprintln(out, labelValue("Updated", res.Updated))
			fmt.Fprintln(out, labelValue("Skipped", res.Skipped))
			for _, e := range res.Errors {
				fmt.Fprintln(out, "  "+bad.Render(e))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sheet, "sheet", "", "sheet name (default: the first sheet)")
	return cmd
}

func newStatusCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show today's pool and the generator state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, *envFile, false)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.engine.GetSchedulerStatus(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, heading(iconClock, "Pool "+st.Pool.Date))
			for _, c := range st.Pool.Counts {
				fmt.Fprintf(out, "  %-9s %-5s %d\n", c.Source, c.Tier, c.Count)
			}
			fmt.Fprintln(out, labelValue("Total", st.Pool.Total))
			if st.Pool.LastGeneratedAt != nil {
				fmt.Fprintln(out, labelValue("Last generated", st.Pool.LastGeneratedAt.Format("2006-01-02 15:04")))
			}
			if st.Pool.GeneratorEnabled {
				fmt.Fprintln(out, labelValue("Generator", good.Render("enabled")))
			} else {
				fmt.Fprintln(out, labelValue("Generator", bad.Render("disabled")))
			}
			fmt.Fprintln(out, muted.Render("The scheduler runs inside `inkquest serve`; use /status in the chat for its job history."))
			return nil
		},
	}
}
