package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"engram/internal/memory"
)

var (
	rememberTitle  string
	rememberGroup  string
	rememberTags   []string
	rememberManual bool

	recallLimit int

	consolidateStrategy string
)

var rememberCmd = &cobra.Command{
	Use:   "remember <content>",
	Short: "Store a memory (merges into near-duplicates)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _ := loadConfig()
		db, eng, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		source := memory.SourceAuto
		if rememberManual {
			source = memory.SourceManual
		}

		m, err := eng.Create(memory.CreateInput{
			Title:   rememberTitle,
			Content: strings.Join(args, " "),
			Group:   rememberGroup,
			Tags:    rememberTags,
			Source:  source,
		})
		if err != nil {
			return err
		}

		fmt.Printf("stored %s [%s] %s\n", m.ID, m.Group, m.Content)
		return nil
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Retrieve the memories most relevant to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _ := loadConfig()
		db, eng, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		query := strings.Join(args, " ")
		scored, err := eng.GetRelevantMemories(query, recallLimit)
		if err != nil {
			return err
		}
		if len(scored) == 0 {
			fmt.Println("no relevant memories")
			return nil
		}

		for _, s := range scored {
			pin := " "
			if s.Pinned {
				pin = "*"
			}
			fmt.Printf("%.3f %s [%s] %s\n", s.RelevanceScore, pin, s.Group, s.Content)
		}
		return nil
	},
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Merge redundant memories and decay stale ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _ := loadConfig()
		db, eng, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := eng.ConsolidateMemory(context.Background(), &memory.ConsolidationPolicy{
			Strategy: consolidateStrategy,
		})
		if err != nil {
			return err
		}

		fmt.Printf("run %s (%s)\n", result.RunID, result.Strategy)
		fmt.Printf("  atoms:   %d -> %d\n", result.BeforeCount, result.AfterCount)
		fmt.Printf("  merged:  %d\n", result.MergedCount)
		fmt.Printf("  decayed: %d\n", result.DecayedCount)
		fmt.Printf("  pinned preserved: %d\n", result.PreservedPinnedCount)
		fmt.Printf("  recall retention: %.3f\n", result.RecallRetention)
		return nil
	},
}

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List memory groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _ := loadConfig()
		db, eng, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		groups, err := eng.ListGroups()
		if err != nil {
			return err
		}
		for _, g := range groups {
			memories, err := eng.GetMemoriesByGroup(g)
			if err != nil {
				return err
			}
			fmt.Printf("%-16s %d\n", g, len(memories))
		}
		return nil
	},
}

func init() {
	rememberCmd.Flags().StringVarP(&rememberTitle, "title", "t", "", "Short title for the memory")
	rememberCmd.Flags().StringVarP(&rememberGroup, "group", "g", "learnings", "Memory group")
	rememberCmd.Flags().StringSliceVar(&rememberTags, "tag", nil, "Tags (repeatable)")
	rememberCmd.Flags().BoolVar(&rememberManual, "manual", false, "Mark as a manually confirmed memory")

	recallCmd.Flags().IntVarP(&recallLimit, "limit", "n", 8, "Maximum number of results")

	consolidateCmd.Flags().StringVar(&consolidateStrategy, "strategy", "balanced", "Consolidation strategy (aggressive, balanced, conservative)")
}
