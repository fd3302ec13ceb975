package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// RunJob represents a queued extraction job from the API.
type RunJob struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	Status      string `json:"status"`
	Retries     int    `json:"retries"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

// RunReport summarizes a synchronous extraction run.
type RunReport struct {
	DocumentID       string   `json:"document_id"`
	Candidates       int      `json:"candidates"`
	Annotations      int      `json:"annotations"`
	Skipped          int      `json:"skipped"`
	LowContext       bool     `json:"low_context"`
	FailedCategories []string `json:"failed_categories,omitempty"`
}

// Candidate represents a surfaced concept candidate from a slice run.
type Candidate struct {
	ID         string  `json:"id"`
	SpanStart  int     `json:"span_start"`
	SpanEnd    int     `json:"span_end"`
	Category   string  `json:"category"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Pass       int     `json:"pass"`
}

// SliceReport lists the candidates from a single-pass or single-category run.
type SliceReport struct {
	DocumentID string      `json:"document_id"`
	Candidates []Candidate `json:"candidates"`
}

// ExtractCmd creates the extract command.
func ExtractCmd() *cobra.Command {
	var (
		synchronous bool
		pass        int
		category    string
	)

	cmd := &cobra.Command{
		Use:   "extract <document_id>",
		Short: "Run concept extraction on a document",
		Long:  "Queues an extraction job for the document, runs it inline with --sync, or runs a single pass or category with --pass / --category.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			if pass != 0 || category != "" {
				return runExtractSlice(cmd, args[0], pass, category, outputJSON)
			}
			return runExtract(cmd, args[0], synchronous, outputJSON)
		},
	}

	cmd.Flags().BoolVar(&synchronous, "sync", false, "Run the pipeline inline and wait for the report")
	cmd.Flags().IntVar(&pass, "pass", 0, "Run only this extraction pass (1-3) and print the candidates")
	cmd.Flags().StringVar(&category, "category", "", "Run only this concept category and print the candidates")

	cmd.AddCommand(extractStatusCmd())

	return cmd
}

func extractStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job_id>",
		Short: "Show the status of a queued extraction job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runExtractStatus(cmd, args[0], outputJSON)
		},
	}
}

func runExtractStatus(cmd *cobra.Command, jobID string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Get(fmt.Sprintf("/extract/jobs/%s", jobID))
	if err != nil {
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	var job RunJob
	if err := json.Unmarshal(resp.Data, &job); err != nil {
		return fmt.Errorf("failed to parse run job: %w", err)
	}
	if outputJSON {
		output, _ := json.MarshalIndent(job, "", "  ")
		fmt.Println(string(output))
		return nil
	}
	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("Document: %s\n", job.DocumentID)
	fmt.Printf("Status: %s\n", job.Status)
	if job.Retries > 0 {
		fmt.Printf("Retries: %d\n", job.Retries)
	}
	if job.Error != "" {
		fmt.Printf("Error: %s\n", job.Error)
	}
	if job.ProcessedAt != "" {
		fmt.Printf("Processed: %s\n", job.ProcessedAt)
	}
	return nil
}

func runExtractSlice(cmd *cobra.Command, documentID string, pass int, category string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	payload := map[string]interface{}{"document_id": documentID}
	if pass != 0 {
		payload["pass"] = pass
	}
	if category != "" {
		payload["category"] = category
	}

	resp, err := api.Post("/extract", payload)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	var report SliceReport
	if err := json.Unmarshal(resp.Data, &report); err != nil {
		return fmt.Errorf("failed to parse slice report: %w", err)
	}
	if outputJSON {
		output, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(output))
		return nil
	}
	fmt.Printf("Document: %s\n", report.DocumentID)
	for _, c := range report.Candidates {
		fmt.Printf("  [%s] %q (%d-%d, confidence %.2f)\n", c.Category, c.Label, c.SpanStart, c.SpanEnd, c.Confidence)
	}
	if len(report.Candidates) == 0 {
		fmt.Println("  no candidates")
	}
	return nil
}

func runExtract(cmd *cobra.Command, documentID string, synchronous, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Post("/extract", map[string]interface{}{
		"document_id": documentID,
		"synchronous": synchronous,
	})
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	if synchronous {
		var report RunReport
		if err := json.Unmarshal(resp.Data, &report); err != nil {
			return fmt.Errorf("failed to parse run report: %w", err)
		}
		if outputJSON {
			output, _ := json.MarshalIndent(report, "", "  ")
			fmt.Println(string(output))
			return nil
		}
		fmt.Printf("Document: %s\n", report.DocumentID)
		fmt.Printf("Candidates: %d\n", report.Candidates)
		fmt.Printf("Annotations: %d\n", report.Annotations)
		fmt.Printf("Skipped: %d\n", report.Skipped)
		if report.LowContext {
			fmt.Println("Low context: confidence penalty applied")
		}
		if len(report.FailedCategories) > 0 {
			fmt.Printf("Failed categories: %s\n", strings.Join(report.FailedCategories, ", "))
		}
		return nil
	}

	var job RunJob
	if err := json.Unmarshal(resp.Data, &job); err != nil {
		return fmt.Errorf("failed to parse run job: %w", err)
	}
	if outputJSON {
		output, _ := json.MarshalIndent(job, "", "  ")
		fmt.Println(string(output))
		return nil
	}
	fmt.Printf("Queued job %s for document %s (status: %s)\n", job.ID, job.DocumentID, job.Status)
	return nil
}
