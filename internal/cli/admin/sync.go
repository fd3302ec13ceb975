package admin

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/ethos-works/ethosgraph/internal/config"
	"github.com/ethos-works/ethosgraph/internal/database"
	"github.com/ethos-works/ethosgraph/internal/domain"
	"github.com/ethos-works/ethosgraph/internal/match"
	"github.com/ethos-works/ethosgraph/internal/ontology"
	"github.com/ethos-works/ethosgraph/internal/openai"
	"github.com/ethos-works/ethosgraph/internal/repository"
)

// SyncHierarchyCmd returns the sync-hierarchy command
func SyncHierarchyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync-hierarchy [category...]",
		Short: "Sync the local ontology cache",
		Long:  "Pull the entity hierarchy under each category root into the local cache and embed new definitions. With no arguments all categories are synced.",
		RunE:  runSyncHierarchy,
	}
	return cmd
}

func runSyncHierarchy(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.HasOpenAI() {
		return fmt.Errorf("OPENAI_API_KEY is required to embed entity definitions")
	}
	if !cfg.HasOntology() {
		return fmt.Errorf("ONTOLOGY_BASE_URL is required")
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	categories := domain.Categories()
	if len(args) > 0 {
		categories = categories[:0]
		for _, arg := range args {
			category := domain.ConceptCategory(arg)
			if !domain.IsValidCategory(category) {
				return fmt.Errorf("unrecognized category: %s", arg)
			}
			categories = append(categories, category)
		}
	}

	ontologyClient := ontology.NewClient(ontology.ClientConfig{
		BaseURL: cfg.OntologyBaseURL,
		APIKey:  cfg.OntologyAPIKey,
		Timeout: cfg.OntologyTimeout,
	})

	matcher, err := match.NewMatcher(
		ontologyClient,
		openai.NewClient(cfg.OpenAIAPIKey),
		repository.NewEntityCacheRepository(pool),
		match.Config{Default: match.Thresholds{
			High: cfg.MatchHighThreshold,
			Low:  cfg.MatchLowThreshold,
			TopK: cfg.MatchTopK,
		}},
	)
	if err != nil {
		return fmt.Errorf("invalid matcher configuration: %w", err)
	}

	for _, category := range categories {
		if err := matcher.SyncHierarchy(ctx, category); err != nil {
			return fmt.Errorf("sync failed for category %s: %w", category, err)
		}
		log.Printf("synced category %s", category)
	}
	return nil
}
