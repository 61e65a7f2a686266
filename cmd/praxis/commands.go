package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// --- process ---

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Trigger one job processing pass on the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/cron/process-jobs", nil)
		if err != nil {
			return err
		}

		var result struct {
			Processed int `json:"processed"`
			Failed    int `json:"failed"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Processed %d job(s), %d failed", result.Processed, result.Failed)
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show praxis system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd)
	},
}

func showStatus(cmd *cobra.Command) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.get(cmd.Context(), "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode == 200 {
		printStatus("Server", "running at %s", client.baseURL)
	} else {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	}
	return nil
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over ingested interactions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		userID, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"user_id": userID,
			"query":   query,
			"limit":   limit,
		}
		resp, err := client.post(cmd.Context(), "/search", req)
		if err != nil {
			return err
		}

		var result struct {
			Results []struct {
				OwnerType  string          `json:"owner_type"`
				OwnerID    string          `json:"owner_id"`
				ChunkIndex int             `json:"chunk_index"`
				Meta       json.RawMessage `json:"meta"`
				Similarity float64         `json:"similarity"`
			} `json:"results"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range result.Results {
			fmt.Printf("\n%s [similarity: %.4f]\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.Similarity)
			fmt.Printf("  %s %s (chunk %d)\n", r.OwnerType, colorize(colorCyan, r.OwnerID[:min(8, len(r.OwnerID))]), r.ChunkIndex)
			if len(r.Meta) > 0 {
				var meta struct {
					Kind    string `json:"kind"`
					Title   string `json:"title"`
					Snippet string `json:"snippet"`
				}
				if json.Unmarshal(r.Meta, &meta) == nil && meta.Snippet != "" {
					fmt.Printf("  %s\n", meta.Snippet)
				}
			}
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().String("user", "", "user ID to search for (required)")
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a document into the pipeline",
	Long: `Ingest a document into the pipeline.

Examples:
  praxis ingest --user u1 --text "Met with Dana about the Q3 renewal"
  praxis ingest --user u1 --file ./notes.txt --title "Meeting notes"
  praxis ingest --user u1 --file ./contract.pdf --type pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		docType, _ := cmd.Flags().GetString("type")

		if userID == "" {
			return fmt.Errorf("--user is required")
		}
		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		req := map[string]any{
			"user_id": userID,
		}
		if title != "" {
			req["title"] = title
		}

		switch {
		case text != "":
			req["type"] = "text"
			req["content"] = text
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			if docType == "pdf" {
				req["type"] = "pdf"
				req["content"] = encodeBase64(data)
			} else {
				req["type"] = "text"
				req["content"] = string(data)
			}
			if title == "" {
				req["title"] = file
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/ingest/documents", req)
		if err != nil {
			return err
		}

		var result struct {
			BatchID string `json:"batch_id"`
			JobID   string `json:"job_id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued batch %s (job %s)", result.BatchID, result.JobID)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("user", "", "user ID the document belongs to (required)")
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest")
	ingestCmd.Flags().String("title", "", "title for the document")
	ingestCmd.Flags().String("type", "text", "document type: text or pdf")
}
