package client

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Document represents a case document from the API.
type Document struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Body       string `json:"body,omitempty"`
	StorageKey string `json:"storage_key,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// DocumentCmd creates the document command group.
func DocumentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "document",
		Short:   "Manage case documents",
		Aliases: []string{"doc"},
	}

	cmd.AddCommand(documentCreateCmd())
	cmd.AddCommand(documentGetCmd())
	cmd.AddCommand(documentListCmd())

	return cmd
}

func documentCreateCmd() *cobra.Command {
	var title string
	var file string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Ingest a case document",
		Long:  "Ingests a case narrative from a file (or stdin with --file -) for concept extraction.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runDocumentCreate(cmd, title, file, outputJSON)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Document title (required)")
	cmd.Flags().StringVar(&file, "file", "", "Path to the narrative text, or - for stdin (required)")
	cmd.MarkFlagRequired("title")
	cmd.MarkFlagRequired("file")

	return cmd
}

func runDocumentCreate(cmd *cobra.Command, title, file string, outputJSON bool) error {
	var body []byte
	var err error
	if file == "-" {
		body, err = io.ReadAll(os.Stdin)
	} else {
		body, err = os.ReadFile(file)
	}
	if err != nil {
		return fmt.Errorf("failed to read document body: %w", err)
	}

	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Post("/documents", map[string]string{
		"title": title,
		"body":  string(body),
	})
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(resp.Data, &doc); err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(doc, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("Created document %s (%s)\n", doc.ID, doc.Title)
	}
	return nil
}

func documentGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <document_id>",
		Short: "Get a document by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runDocumentGet(cmd, args[0], outputJSON)
		},
	}
	return cmd
}

func runDocumentGet(cmd *cobra.Command, documentID string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Get(fmt.Sprintf("/documents/%s", documentID))
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(resp.Data, &doc); err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(doc, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("ID: %s\n", doc.ID)
		fmt.Printf("Title: %s\n", doc.Title)
		fmt.Printf("Created: %s\n", doc.CreatedAt)
		if doc.Body != "" {
			fmt.Printf("\n%s\n", doc.Body)
		}
	}
	return nil
}

func documentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runDocumentList(cmd, outputJSON)
		},
	}
	return cmd
}

func runDocumentList(cmd *cobra.Command, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Get("/documents")
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	var docs []Document
	if err := json.Unmarshal(resp.Data, &docs); err != nil {
		return fmt.Errorf("failed to parse documents: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(docs, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(docs) == 0 {
		fmt.Println("No documents found")
		return nil
	}
	for _, doc := range docs {
		fmt.Printf("%s  %s  %s\n", doc.ID, doc.CreatedAt, doc.Title)
	}
	return nil
}
