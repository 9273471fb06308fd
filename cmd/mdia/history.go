package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/kkk0312/mdia/internal/db"
	"github.com/kkk0312/mdia/internal/tui"
	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and manage past analyses",
	}
	cmd.AddCommand(historyListCmd(), historyShowCmd(), historySearchCmd(), historyPruneCmd(), historyDeleteCmd())
	return cmd
}

func historyListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List analyses, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			storeDB, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			items, err := db.NewStore(storeDB).List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "暂无分析记录")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tTYPE\tSTAGE\tSTEPS\tTITLE")
			for _, it := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
					shortID(it.ID), it.CreatedAt.Local().Format("2006-01-02 15:04"), it.DocType,
					it.Stage.Label(), it.CurrentStep, it.TotalSteps, it.Title)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of analyses to list (0 for all)")
	return cmd
}

func historyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [analysis-id]",
		Short: "Show the progress and event log of an analysis",
		Args:  maxOneID,
		RunE: func(cmd *cobra.Command, args []string) error {
			storeDB, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()
			store := db.NewStore(storeDB)

			s, err := store.Resolve(cmd.Context(), idArg(args))
			if err != nil {
				return err
			}
			events, err := store.Events(cmd.Context(), s.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n来源: %s\n", s.Title(), s.Source)
			fmt.Fprintf(out, "阶段: %s\n", strings.Join(tui.StageRow(&s.Progress), "  "))
			fmt.Fprintf(out, "进度: %d/%d\n", s.Progress.CompletedSteps, s.Progress.TotalSteps)
			printPlan(cmd, s)
			if len(events) > 0 {
				fmt.Fprintln(out, "\n事件:")
				for _, ev := range events {
					line := fmt.Sprintf("  %3d %s %-20s", ev.Seq, ev.At.Local().Format("15:04:05"), ev.Type)
					if ev.Step > 0 {
						line += fmt.Sprintf(" #%d", ev.Step)
					}
					fmt.Fprintln(out, line+" "+firstLine(ev.Message))
				}
			}
			return nil
		},
	}
}

func historySearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over stored reports",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, err := searchIndex().Search(strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hits) == 0 {
				fmt.Fprintln(out, "没有匹配的报告")
				return nil
			}
			for _, h := range hits {
				label := h.Kind
				if h.Step > 0 {
					label = fmt.Sprintf("%s #%d", h.Kind, h.Step)
				}
				fmt.Fprintf(out, "%s  %-10s %.2f  %s\n", shortID(h.AnalysisID), label, h.Score, h.Title)
				for _, f := range h.Fragments {
					fmt.Fprintf(out, "    %s\n", stripMarks(firstLine(f)))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of hits")
	return cmd
}

func historyPruneCmd() *cobra.Command {
	var (
		keepLast int
		keepDays int
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete analyses outside the retention policy",
		Long:  "Delete analyses that are neither among the newest --keep-last nor younger than --keep-days. Defaults come from the retention section of the config.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			policy := db.RetentionPolicy{KeepLast: cfg.Retention.KeepLast, KeepDays: cfg.Retention.KeepDays}
			if cmd.Flags().Changed("keep-last") {
				policy.KeepLast = keepLast
			}
			if cmd.Flags().Changed("keep-days") {
				policy.KeepDays = keepDays
			}

			storeDB, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := db.NewStore(storeDB).Prune(cmd.Context(), policy, dryRun)
			if err != nil {
				return err
			}
			if !dryRun {
				idx := searchIndex()
				for _, id := range res.IDs {
					if err := idx.Remove(id); err != nil {
						return err
					}
				}
			}
			verb := "已删除"
			if dryRun {
				verb = "将删除"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "共 %d 条分析，保留 %d 条，%s %d 条\n", res.Considered, res.Kept, verb, res.Deleted)
			return nil
		},
	}
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "keep this many newest analyses")
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "keep analyses younger than this many days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting")
	return cmd
}

func historyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <analysis-id>",
		Short: "Delete one analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storeDB, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()
			store := db.NewStore(storeDB)

			s, err := store.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := locked(cmd.Context(), s, func() error { return store.Delete(cmd.Context(), s.ID) }); err != nil {
				return err
			}
			if err := searchIndex().Remove(s.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已删除分析 %s\n", s.ID)
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

func stripMarks(s string) string {
	return strings.NewReplacer("<mark>", "", "</mark>", "").Replace(s)
}
