package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// Annotation represents one annotation version from the API.
type Annotation struct {
	ID            string  `json:"id"`
	LineageID     string  `json:"lineage_id"`
	VersionNumber int64   `json:"version_number"`
	DocumentID    string  `json:"document_id"`
	TextSegment   string  `json:"text_segment"`
	SpanStart     int     `json:"span_start"`
	SpanEnd       int     `json:"span_end"`
	Category      string  `json:"category"`
	ConceptURI    string  `json:"concept_uri,omitempty"`
	Confidence    float64 `json:"confidence"`
	Stage         string  `json:"stage"`
	Reasoning     string  `json:"reasoning,omitempty"`
	Actor         string  `json:"actor,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// QueuePage represents one page of the review queue.
type QueuePage struct {
	Items   []Annotation `json:"items"`
	Cursor  string       `json:"cursor,omitempty"`
	HasMore bool         `json:"has_more"`
}

// QueueCmd creates the queue command.
func QueueCmd() *cobra.Command {
	var (
		stage      string
		category   string
		documentID string
		cursor     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List the annotation review queue",
		Long:  "Lists the current version of each annotation lineage, filtered by stage, category, or document.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runQueue(cmd, stage, category, documentID, cursor, limit, outputJSON)
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "Filter by approval stage (llm_extracted, llm_approved, user_approved, rejected)")
	cmd.Flags().StringVar(&category, "category", "", "Filter by concept category")
	cmd.Flags().StringVar(&documentID, "document", "", "Filter by document ID")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from a previous page")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size (1-100)")

	return cmd
}

func runQueue(cmd *cobra.Command, stage, category, documentID, cursor string, limit int, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	params := url.Values{}
	if stage != "" {
		params.Set("stage", stage)
	}
	if category != "" {
		params.Set("category", category)
	}
	if documentID != "" {
		params.Set("document_id", documentID)
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	path := "/annotations"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	resp, err := api.Get(path)
	if err != nil {
		return fmt.Errorf("failed to list queue: %w", err)
	}

	var page QueuePage
	if err := json.Unmarshal(resp.Data, &page); err != nil {
		return fmt.Errorf("failed to parse queue: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(page, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(page.Items) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}
	for _, a := range page.Items {
		fmt.Printf("%s  v%d  %-14s %-22s %.2f  %q\n",
			a.LineageID, a.VersionNumber, a.Stage, a.Category, a.Confidence, a.TextSegment)
	}
	if page.HasMore {
		fmt.Printf("\nMore results: --cursor %s\n", page.Cursor)
	}
	return nil
}

// VersionsCmd creates the versions command.
func VersionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions <lineage_id>",
		Short: "Show the full version history of an annotation lineage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runVersions(cmd, args[0], outputJSON)
		},
	}
	return cmd
}

func runVersions(cmd *cobra.Command, lineageID string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Get(fmt.Sprintf("/annotations/%s/versions", lineageID))
	if err != nil {
		return fmt.Errorf("failed to get versions: %w", err)
	}

	var versions []Annotation
	if err := json.Unmarshal(resp.Data, &versions); err != nil {
		return fmt.Errorf("failed to parse versions: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(versions, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	for _, a := range versions {
		actor := a.Actor
		if actor == "" {
			actor = "-"
		}
		fmt.Printf("v%d  %-14s %-12s %s  %q\n", a.VersionNumber, a.Stage, actor, a.CreatedAt, a.TextSegment)
	}
	return nil
}
