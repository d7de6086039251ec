package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"spl-copilot/internal/api"
	"spl-copilot/internal/pipeline"
)

var (
	serverAddr    string
	apiKey        string
	maxResults    int
	timeoutSec    int
	rawOutput     bool
	historyFailed bool
	historyKind   string
)

func main() {
	root := &cobra.Command{
		Use:          "splq",
		Short:        "Query Splunk in plain English",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverAddr, "addr", envOr("SPLQ_ADDR", "http://localhost:8080"), "server address")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("SPLQ_API_KEY"), "API key")
	root.PersistentFlags().BoolVar(&rawOutput, "json", false, "print raw JSON responses")

	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Translate a question to SPL and run it",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
	askCmd.Flags().IntVar(&maxResults, "max-results", 0, "result ceiling (0 uses the server default)")
	askCmd.Flags().IntVar(&timeoutSec, "timeout", 0, "search timeout in seconds (0 uses the server default)")

	searchCmd := &cobra.Command{
		Use:   "search [spl]",
		Short: "Validate and run an SPL query as-is",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}
	searchCmd.Flags().IntVar(&maxResults, "max-results", 0, "result ceiling (0 uses the server default)")
	searchCmd.Flags().IntVar(&timeoutSec, "timeout", 0, "search timeout in seconds (0 uses the server default)")

	enhanceCmd := &cobra.Command{
		Use:   "enhance [spl] [instruction]",
		Short: "Improve an existing SPL query",
		Args:  cobra.ExactArgs(2),
		RunE:  runEnhance,
	}

	suggestCmd := &cobra.Command{
		Use:   "suggest [partial]",
		Short: "Suggest example questions",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSuggest,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent query outcomes",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&maxResults, "limit", 20, "number of entries")
	historyCmd.Flags().BoolVar(&historyFailed, "failed", false, "only failed outcomes (needs the audit database)")
	historyCmd.Flags().StringVar(&historyKind, "error-kind", "", "filter by error kind (needs the audit database)")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check server and dependency health",
		RunE:  runHealth,
	}

	root.AddCommand(askCmd, searchCmd, enhanceCmd, suggestCmd, historyCmd, healthCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := joinArgs(args)
	var resp pipeline.Response
	err := call(http.MethodPost, "/api/v1/ask", api.AskRequest{
		Question:   question,
		MaxResults: maxResults,
		TimeoutSec: timeoutSec,
	}, &resp)
	if err != nil {
		return err
	}
	printResponse(&resp)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	var resp pipeline.Response
	err := call(http.MethodPost, "/api/v1/search", api.SearchRequest{
		Query:      joinArgs(args),
		MaxResults: maxResults,
		TimeoutSec: timeoutSec,
	}, &resp)
	if err != nil {
		return err
	}
	printResponse(&resp)
	return nil
}

func runEnhance(cmd *cobra.Command, args []string) error {
	var resp api.EnhanceResponse
	err := call(http.MethodPost, "/api/v1/enhance", api.EnhanceRequest{
		Query:       args[0],
		Instruction: args[1],
	}, &resp)
	if err != nil {
		return err
	}
	if rawOutput {
		return printJSON(resp)
	}
	fmt.Println(resp.Query.SPL)
	if resp.Changes != "" {
		fmt.Println("\nChanges:", resp.Changes)
	}
	return nil
}

func runSuggest(cmd *cobra.Command, args []string) error {
	path := "/api/v1/suggestions"
	if len(args) > 0 {
		path += "?partial=" + url.QueryEscape(args[0])
	}
	var resp api.SuggestionsResponse
	if err := call(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	if rawOutput {
		return printJSON(resp)
	}
	for _, s := range resp.Suggestions {
		fmt.Println("-", s)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	query := url.Values{"limit": []string{strconv.Itoa(maxResults)}}
	if historyFailed {
		query.Set("success", "false")
	}
	if historyKind != "" {
		query.Set("error_kind", historyKind)
	}
	path := "/api/v1/history?" + query.Encode()

	if historyFailed || historyKind != "" {
		var resp api.AuditHistoryResponse
		if err := call(http.MethodGet, path, nil, &resp); err != nil {
			return err
		}
		if rawOutput {
			return printJSON(resp)
		}
		for _, e := range resp.Entries {
			fmt.Printf("%s  [%s]  %s\n", e.CreatedAt.Format(time.RFC3339), e.ErrorKind, firstNonEmpty(e.Question, e.SPL))
		}
		return nil
	}

	var resp api.HistoryResponse
	if err := call(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	if rawOutput {
		return printJSON(resp)
	}
	for _, e := range resp.Entries {
		status := "ok"
		if !e.Success {
			status = e.ErrorKind
		} else if e.ErrorKind != "" {
			status = "ok (" + e.ErrorKind + ")"
		}
		fmt.Printf("%s  [%s]  %s\n", e.Timestamp.Format(time.RFC3339), status, firstNonEmpty(e.Question, e.SPL))
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	var resp api.HealthResponse
	if err := call(http.MethodGet, "/healthz", nil, &resp); err != nil {
		return err
	}
	if rawOutput {
		return printJSON(resp)
	}
	fmt.Println("status:", resp.Status)
	for name, state := range resp.Checks {
		fmt.Printf("  %-8s %s\n", name, state)
	}
	if resp.Status != "ok" {
		os.Exit(1)
	}
	return nil
}

// call sends one request to the server and decodes the reply into out.
// Error replies are surfaced as readable messages.
func call(method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverAddr+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach server at %s: %w", serverAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr api.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Code)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printResponse(resp *pipeline.Response) {
	if rawOutput {
		_ = printJSON(resp)
		return
	}

	if resp.Query.Source == pipeline.SourceGenerated {
		fmt.Println("SPL:       ", resp.Query.SPL)
		fmt.Println("Confidence:", resp.Query.Confidence)
		if resp.Query.Explanation != "" {
			fmt.Println("Why:       ", resp.Query.Explanation)
		}
		fmt.Println()
	}
	if resp.Warning != "" {
		fmt.Println("Warning:", resp.Warning)
	}
	fmt.Printf("%d results in %.2fs\n", resp.Result.ResultCount, resp.ProcessingTimeSeconds)
	for _, rec := range resp.Result.Records {
		line, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		fmt.Println(string(line))
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
