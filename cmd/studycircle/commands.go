package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/studycircle/studycircle/internal/config"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a study material for the assistant to search",
	Long: `Ingest a study material for the assistant to search.

Examples:
  studycircle ingest --user alice --text "Week 3 covers B-trees" --title "DB notes"
  studycircle ingest --user alice --url https://example.com/syllabus
  studycircle ingest --user alice --pdf ./lecture-04.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		url, _ := cmd.Flags().GetString("url")
		pdfPath, _ := cmd.Flags().GetString("pdf")
		title, _ := cmd.Flags().GetString("title")

		if text == "" && url == "" && pdfPath == "" {
			return fmt.Errorf("one of --text, --url, or --pdf is required")
		}

		req := map[string]any{}
		if title != "" {
			req["title"] = title
		}

		switch {
		case text != "":
			req["type"] = "text"
			req["content"] = text
		case url != "":
			req["type"] = "url"
			req["url"] = url
		case pdfPath != "":
			data, err := os.ReadFile(pdfPath)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			req["type"] = "pdf"
			req["content"] = base64.StdEncoding.EncodeToString(data)
			if title == "" {
				req["title"] = pdfPath
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/materials", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Ingested material %s", result["id"])
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("url", "", "URL to fetch and ingest")
	ingestCmd.Flags().String("pdf", "", "PDF file path to ingest")
	ingestCmd.Flags().String("title", "", "title for the material")
}

// --- matches ---

var matchesCmd = &cobra.Command{
	Use:   "matches",
	Short: "Show top study-partner matches for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/matches?limit=%d", limit))
		if err != nil {
			return err
		}

		var result struct {
			Matches []struct {
				UserID          string   `json:"user_id"`
				FirstName       string   `json:"first_name"`
				LastName        string   `json:"last_name"`
				University      string   `json:"university"`
				Major           string   `json:"major"`
				Score           int      `json:"score"`
				Reasoning       string   `json:"reasoning"`
				MatchedCriteria []string `json:"matched_criteria"`
			} `json:"matches"`
			TotalAvailable int `json:"total_available"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Matches) == 0 {
			fmt.Println("No matches found.")
			return nil
		}

		for i, m := range result.Matches {
			name := strings.TrimSpace(m.FirstName + " " + m.LastName)
			fmt.Printf("\n%s  %s [score: %d]\n", colorize(colorBold, fmt.Sprintf("%d.", i+1)), name, m.Score)
			fmt.Printf("  %s, %s\n", m.University, m.Major)
			if m.Reasoning != "" {
				fmt.Printf("  %s\n", m.Reasoning)
			}
			if len(m.MatchedCriteria) > 0 {
				fmt.Printf("  Matched: %s\n", colorize(colorCyan, strings.Join(m.MatchedCriteria, ", ")))
			}
		}
		fmt.Printf("\n%d candidates available\n", result.TotalAvailable)
		return nil
	},
}

func init() {
	matchesCmd.Flags().Int("limit", 5, "maximum number of matches")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
