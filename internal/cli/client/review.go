package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// ApproveCmd creates the approve command.
func ApproveCmd() *cobra.Command {
	var expectedVersion int64

	cmd := &cobra.Command{
		Use:   "approve <lineage_id>",
		Short: "Advance an annotation to its next approval stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runTransition(cmd, args[0], "approve", expectedVersion, "", outputJSON)
		},
	}

	cmd.Flags().Int64Var(&expectedVersion, "expected-version", 0, "Current version number of the lineage (required)")
	cmd.MarkFlagRequired("expected-version")

	return cmd
}

// RejectCmd creates the reject command.
func RejectCmd() *cobra.Command {
	var expectedVersion int64
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <lineage_id>",
		Short: "Reject an annotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runTransition(cmd, args[0], "reject", expectedVersion, reason, outputJSON)
		},
	}

	cmd.Flags().Int64Var(&expectedVersion, "expected-version", 0, "Current version number of the lineage (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "Rejection reason recorded on the new version")
	cmd.MarkFlagRequired("expected-version")

	return cmd
}

// ReopenCmd creates the reopen command.
func ReopenCmd() *cobra.Command {
	var expectedVersion int64

	cmd := &cobra.Command{
		Use:   "reopen <lineage_id>",
		Short: "Reopen a terminal annotation for further review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runTransition(cmd, args[0], "reopen", expectedVersion, "", outputJSON)
		},
	}

	cmd.Flags().Int64Var(&expectedVersion, "expected-version", 0, "Current version number of the lineage (required)")
	cmd.MarkFlagRequired("expected-version")

	return cmd
}

func runTransition(cmd *cobra.Command, lineageID, action string, expectedVersion int64, reason string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	body := map[string]interface{}{"expected_version": expectedVersion}
	if reason != "" {
		body["reason"] = reason
	}

	resp, err := api.Post(fmt.Sprintf("/annotations/%s/%s", lineageID, action), body)
	if err != nil {
		return fmt.Errorf("%s failed: %w", action, err)
	}

	return printAnnotation(resp.Data, outputJSON)
}

// EditCmd creates the edit command.
func EditCmd() *cobra.Command {
	var (
		expectedVersion int64
		textSegment     string
		spanStart       int
		spanEnd         int
		category        string
		conceptURI      string
		confidence      float64
		reasoning       string
	)

	cmd := &cobra.Command{
		Use:   "edit <lineage_id>",
		Short: "Edit fields of an annotation, creating a new version",
		Long:  "Appends a new version with the given field changes. The approval stage is unchanged.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")

			body := map[string]interface{}{"expected_version": expectedVersion}
			if cmd.Flags().Changed("text") {
				body["text_segment"] = textSegment
			}
			if cmd.Flags().Changed("span-start") {
				body["span_start"] = spanStart
			}
			if cmd.Flags().Changed("span-end") {
				body["span_end"] = spanEnd
			}
			if cmd.Flags().Changed("category") {
				body["category"] = category
			}
			if cmd.Flags().Changed("concept-uri") {
				body["concept_uri"] = conceptURI
			}
			if cmd.Flags().Changed("confidence") {
				body["confidence"] = confidence
			}
			if cmd.Flags().Changed("reasoning") {
				body["reasoning"] = reasoning
			}

			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			resp, err := api.Patch(fmt.Sprintf("/annotations/%s", args[0]), body)
			if err != nil {
				return fmt.Errorf("edit failed: %w", err)
			}
			return printAnnotation(resp.Data, outputJSON)
		},
	}

	cmd.Flags().Int64Var(&expectedVersion, "expected-version", 0, "Current version number of the lineage (required)")
	cmd.Flags().StringVar(&textSegment, "text", "", "Replacement text segment")
	cmd.Flags().IntVar(&spanStart, "span-start", 0, "Replacement span start (rune offset)")
	cmd.Flags().IntVar(&spanEnd, "span-end", 0, "Replacement span end (rune offset)")
	cmd.Flags().StringVar(&category, "category", "", "Replacement concept category")
	cmd.Flags().StringVar(&conceptURI, "concept-uri", "", "Replacement ontology concept URI")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "Replacement confidence score")
	cmd.Flags().StringVar(&reasoning, "reasoning", "", "Replacement reasoning text")
	cmd.MarkFlagRequired("expected-version")

	return cmd
}

func printAnnotation(data json.RawMessage, outputJSON bool) error {
	var a Annotation
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("failed to parse annotation: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(a, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Lineage: %s\n", a.LineageID)
	fmt.Printf("Version: %d\n", a.VersionNumber)
	fmt.Printf("Stage: %s\n", a.Stage)
	fmt.Printf("Category: %s\n", a.Category)
	fmt.Printf("Text: %q\n", a.TextSegment)
	if a.ConceptURI != "" {
		fmt.Printf("Concept: %s\n", a.ConceptURI)
	}
	fmt.Printf("Confidence: %.2f\n", a.Confidence)
	if a.Reasoning != "" {
		fmt.Printf("Reasoning: %s\n", a.Reasoning)
	}
	return nil
}
