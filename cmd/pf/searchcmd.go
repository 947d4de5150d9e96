package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/permitflow/permitflow/internal/index"
	"github.com/permitflow/permitflow/internal/search"
	"github.com/permitflow/permitflow/internal/storage"
	"github.com/permitflow/permitflow/internal/types"
)

var (
	searchMode   string
	searchTopK   int
	searchCity   []string
	searchType   []string
	searchClass  []string
	searchStatus []string
	searchSince  string
	searchUntil  string
	searchScores bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the permit catalog",
	Long: `Search combines structured filters with keyword or semantic retrieval.

Modes:
  keyword   substring match on descriptions, newest first
  semantic  vector ranking over the filtered pool (default)
  dual      both, reported separately

Date flags accept YYYY-MM-DD or natural phrases like "2 weeks ago".`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}

		query := ""
		if len(args) == 1 {
			query = args[0]
		}
		filters, err := buildSearchFilters()
		if err != nil {
			return err
		}

		mgr := index.NewManager(cfg.RAGIndexDir, nil, cfg.BatchSize, logger)
		if _, err := mgr.Load(cmd.Context()); err != nil {
			logger.Warn("index unavailable, semantic search will fall back", "error", err)
		}
		searcher := search.New(st, mgr, logger)

		res, err := searcher.Unified(cmd.Context(), search.Request{
			Query:        query,
			Mode:         search.Mode(searchMode),
			Filters:      filters,
			TopK:         searchTopK,
			Oversample:   cfg.Oversample,
			ReturnScores: searchScores,
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(res)
			return nil
		}
		if len(res.Keyword) > 0 {
			fmt.Printf("keyword matches (%d):\n", len(res.Keyword))
			printScored(res.Keyword)
		}
		if len(res.Semantic) > 0 {
			note := ""
			if res.UsedFallback {
				note = " (text fallback)"
			}
			fmt.Printf("semantic matches (%d)%s:\n", len(res.Semantic), note)
			printScored(res.Semantic)
		}
		if len(res.Keyword) == 0 && len(res.Semantic) == 0 {
			fmt.Println("no matches")
		}
		return nil
	},
}

func buildSearchFilters() (*storage.Filters, error) {
	f := &storage.Filters{
		City:              searchCity,
		PermitType:        searchType,
		PermitClassMapped: searchClass,
		CurrentStatus:     searchStatus,
	}
	if searchSince != "" || searchUntil != "" {
		from, err := parseDateFlag(searchSince)
		if err != nil {
			return nil, err
		}
		to, err := parseDateFlag(searchUntil)
		if err != nil {
			return nil, err
		}
		f.IssuedDate = &storage.DateRange{From: from, To: to}
	}
	return f, nil
}

func printScored(rows []types.ScoredPermit) {
	for _, sp := range rows {
		p := sp.Permit
		desc := p.Description
		if len(desc) > 70 {
			desc = desc[:67] + "..."
		}
		desc = strings.ReplaceAll(desc, "\n", " ")
		if sp.Score != 0 {
			fmt.Printf("  %6.3f  %-10s %-12s %s\n", sp.Score, p.PermitNumber, p.IssuedDate, desc)
		} else {
			fmt.Printf("          %-10s %-12s %s\n", p.PermitNumber, p.IssuedDate, desc)
		}
	}
}

func init() {
	searchCmd.Flags().StringVar(&searchMode, "mode", "semantic", "keyword, semantic, or dual")
	searchCmd.Flags().IntVar(&searchTopK, "top", search.DefaultTopK, "maximum results per set")
	searchCmd.Flags().StringSliceVar(&searchCity, "city", nil, "filter by city (repeatable, OR)")
	searchCmd.Flags().StringSliceVar(&searchType, "type", nil, "filter by permit type")
	searchCmd.Flags().StringSliceVar(&searchClass, "class", nil, "filter by mapped permit class")
	searchCmd.Flags().StringSliceVar(&searchStatus, "status", nil, "filter by current status")
	searchCmd.Flags().StringVar(&searchSince, "since", "", "issued on or after this date")
	searchCmd.Flags().StringVar(&searchUntil, "until", "", "issued on or before this date")
	searchCmd.Flags().BoolVar(&searchScores, "scores", false, "include similarity scores")
	rootCmd.AddCommand(searchCmd)
}
