package client

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// AuthCmd creates the auth command group.
func AuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication credentials",
		Long:  "Login, logout, and inspect the stored API credentials.",
	}

	cmd.AddCommand(authLoginCmd())
	cmd.AddCommand(authLogoutCmd())
	cmd.AddCommand(authStatusCmd())

	return cmd
}

func authLoginCmd() *cobra.Command {
	var apiKey string
	var apiURL string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store API credentials in the user config directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runAuthLogin(apiKey, apiURL, outputJSON)
		},
	}

	cmd.Flags().StringVar(&apiKey, "key", "", "API key to store (required)")
	cmd.Flags().StringVar(&apiURL, "url", "", "API base URL (default: http://localhost:8080)")
	cmd.MarkFlagRequired("key")

	return cmd
}

func runAuthLogin(apiKey, apiURL string, outputJSON bool) error {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	// Verify the credentials before persisting them.
	api, err := NewAPIClientWithConfig(apiKey, apiURL)
	if err != nil {
		return err
	}
	if _, err := api.Get("/health"); err != nil {
		return fmt.Errorf("failed to reach server at %s: %w", apiURL, err)
	}

	if err := SaveGlobalConfig(&GlobalConfig{APIKey: apiKey, APIURL: apiURL}); err != nil {
		return err
	}

	configPath, _ := GetConfigPath()
	if outputJSON {
		output, _ := json.MarshalIndent(map[string]string{
			"status":      "logged_in",
			"api_url":     apiURL,
			"config_path": configPath,
		}, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("Credentials saved to %s\n", configPath)
	}
	return nil
}

func authLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored API credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := DeleteGlobalConfig(); err != nil {
				return err
			}
			fmt.Println("Credentials removed")
			return nil
		},
	}
}

func authStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where credentials are coming from",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runAuthStatus(outputJSON)
		},
	}
}

func runAuthStatus(outputJSON bool) error {
	source := "none"
	apiURL := defaultAPIURL

	if os.Getenv(envAPIKey) != "" {
		source = "environment"
		if u := os.Getenv(envAPIURL); u != "" {
			apiURL = u
		}
	} else if cfg, err := LoadGlobalConfig(); err == nil && cfg != nil && cfg.APIKey != "" {
		source = "config"
		if cfg.APIURL != "" {
			apiURL = cfg.APIURL
		}
	}

	if outputJSON {
		output, _ := json.MarshalIndent(map[string]string{
			"source":  source,
			"api_url": apiURL,
		}, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if source == "none" {
		fmt.Println("Not logged in (set ETHOSGRAPH_API_KEY or run 'ethosgraph auth login')")
		return nil
	}
	fmt.Printf("Credentials: %s\nAPI URL: %s\n", source, apiURL)
	return nil
}
