package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// CommitRecord represents a committed annotation's upstream binding.
type CommitRecord struct {
	LineageID       string `json:"lineage_id"`
	ExternalURI     string `json:"external_uri"`
	Kind            string `json:"kind"`
	LastSyncedAt    string `json:"last_synced_at"`
	MissingUpstream bool   `json:"missing_upstream"`
}

// SyncReport summarizes a refresh run over all committed annotations.
type SyncReport struct {
	Checked   int      `json:"checked"`
	Unchanged int      `json:"unchanged"`
	Modified  int      `json:"modified"`
	Missing   int      `json:"missing"`
	Drifted   []string `json:"drifted,omitempty"`
}

// CommitCmd creates the commit command.
func CommitCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "commit <lineage_id>",
		Short: "Commit a user-approved annotation to the ontology",
		Long:  "Pushes the annotation's concept to the upstream ontology service and records the binding.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runCommit(cmd, args[0], kind, outputJSON)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Entity kind: class or individual (derived from the annotation when omitted)")

	return cmd
}

func runCommit(cmd *cobra.Command, lineageID, kind string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	var body interface{}
	if kind != "" {
		body = map[string]string{"kind": kind}
	}

	resp, err := api.Post(fmt.Sprintf("/commits/%s", lineageID), body)
	if err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	var rec CommitRecord
	if err := json.Unmarshal(resp.Data, &rec); err != nil {
		return fmt.Errorf("failed to parse commit record: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Println(string(output))
		return nil
	}
	fmt.Printf("Committed %s as %s (%s)\n", rec.LineageID, rec.ExternalURI, rec.Kind)
	return nil
}

// RefreshCmd creates the refresh command.
func RefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Check committed annotations against the upstream ontology",
		Long:  "Re-reads every committed entity from the ontology service and reports drift and missing entities.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runRefresh(cmd, outputJSON)
		},
	}
}

func runRefresh(cmd *cobra.Command, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Post("/sync/refresh", nil)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	var report SyncReport
	if err := json.Unmarshal(resp.Data, &report); err != nil {
		return fmt.Errorf("failed to parse sync report: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Checked: %d\n", report.Checked)
	fmt.Printf("Unchanged: %d\n", report.Unchanged)
	fmt.Printf("Modified: %d\n", report.Modified)
	fmt.Printf("Missing: %d\n", report.Missing)
	for _, uri := range report.Drifted {
		fmt.Printf("  drifted: %s\n", uri)
	}
	return nil
}
