package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tourflow/internal/services"
	"tourflow/internal/steps"
)

var (
	// Global flags
	serverAddr string
	authToken  string

	// export flags
	exportJSON bool
	exportOut  string

	// import flags
	importName        string
	importDescription string
	importSiteID      uint
	importStartURL    string
	importViewportID  uint
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tourctl",
	Short: "Operator CLI for tourflow tours",
	Long: `tourctl moves tours in and out of a running tourflow server and
lints step files locally.

Tours travel in the pipe text form: one step per line as
action|selector|value|description, trailing empty fields omitted,
sub-steps of a composite on following lines prefixed with ">".
Lines starting with "#" are comments.

export and import need a server and an access token; lint works
entirely offline.`,
}

// exportCmd downloads a tour's steps as pipe text
var exportCmd = &cobra.Command{
	Use:   "export <tour-id>",
	Short: "Export a tour's steps as pipe text",
	Long: `Export downloads the steps of one tour from the server.

The default output is the pipe text form, suitable for editing and
re-importing. With --json the server returns the full step objects
including the recorded uniqueness metadata.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

// importCmd creates a tour on the server from a pipe text file
var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create a tour on the server from a pipe text file",
	Long: `Import parses a pipe text file and creates a new tour from it.

The tour name defaults to the file name without its extension; the
target site is required. Start URL and viewport fall back to the
site's start URL and the default viewport when not given.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

// lintCmd checks a pipe text file without contacting the server
var lintCmd = &cobra.Command{
	Use:   "lint <file>",
	Short: "Lint a pipe text file offline",
	Long: `Lint parses a pipe text file and reports steps that are likely to
break during replay, the same checks the server runs on stored tours.

Pipe text carries no recorded uniqueness metadata, so only the
structural checks apply here. Exits non-zero when any finding is
reported.`,
	Args: cobra.ExactArgs(1),
	RunE: runLint,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "tourflow server base URL (or set TOURFLOW_SERVER)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "API access token (or set TOURFLOW_TOKEN)")

	exportCmd.Flags().BoolVar(&exportJSON, "json", false, "Export full step objects instead of pipe text")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Write to file instead of stdout")

	importCmd.Flags().StringVar(&importName, "name", "", "Tour name (default: file name without extension)")
	importCmd.Flags().StringVar(&importDescription, "description", "", "Tour description")
	importCmd.Flags().UintVar(&importSiteID, "site", 0, "Site ID the tour belongs to (required)")
	importCmd.Flags().StringVar(&importStartURL, "start-url", "", "Start URL (default: the site's start URL)")
	importCmd.Flags().UintVar(&importViewportID, "viewport", 0, "Viewport ID (default: the default viewport)")
	importCmd.MarkFlagRequired("site")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(lintCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// envelope is the response body every API endpoint wraps its payload in.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func resolveServer() string {
	addr := serverAddr
	if addr == "" {
		addr = os.Getenv("TOURFLOW_SERVER")
	}
	if addr == "" {
		addr = "http://localhost:8080"
	}
	return strings.TrimRight(addr, "/")
}

func resolveToken() (string, error) {
	token := authToken
	if token == "" {
		token = os.Getenv("TOURFLOW_TOKEN")
	}
	if token == "" {
		return "", fmt.Errorf("no access token: pass --token or set TOURFLOW_TOKEN")
	}
	return token, nil
}

// callAPI performs one authenticated request and returns the raw body.
// The server reports errors as a code in the body envelope rather than an
// HTTP status, so both are checked; export success bodies are not
// enveloped and pass through untouched.
func callAPI(method, url string, body io.Reader) ([]byte, error) {
	token, err := resolveToken()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server: %s", resp.Status)
	}
	var env envelope
	if json.Unmarshal(data, &env) == nil && env.Code != 0 && env.Code != 200 {
		return nil, fmt.Errorf("server: %s", env.Message)
	}
	return data, nil
}

func runExport(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid tour ID %q", args[0])
	}

	url := fmt.Sprintf("%s/api/v1/tours/%d/export", resolveServer(), id)
	if exportJSON {
		url += "?format=json"
	}
	data, err := callAPI(http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	if exportOut == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(exportOut, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", exportOut, err)
	}
	fmt.Printf("Wrote tour %d to %s\n", id, exportOut)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	path := args[0]
	text, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	// Parse locally first so a broken file fails before it hits the server.
	list, err := steps.ParsePipe(string(text))
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if len(list) == 0 {
		return fmt.Errorf("%s contains no steps", path)
	}

	name := importName
	if name == "" {
		base := filepath.Base(path)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	payload, err := json.Marshal(map[string]interface{}{
		"name":        name,
		"description": importDescription,
		"site_id":     importSiteID,
		"start_url":   importStartURL,
		"viewport_id": importViewportID,
		"text":        string(text),
	})
	if err != nil {
		return err
	}

	url := resolveServer() + "/api/v1/tours/import"
	data, err := callAPI(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	var tour struct {
		ID        uint   `json:"id"`
		Name      string `json:"name"`
		StepCount int    `json:"step_count"`
	}
	if err := json.Unmarshal(env.Data, &tour); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	fmt.Printf("Imported tour %d (%s) with %d steps\n", tour.ID, tour.Name, tour.StepCount)
	return nil
}

func runLint(cmd *cobra.Command, args []string) error {
	path := args[0]
	text, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	list, err := steps.ParsePipe(string(text))
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for i, st := range list {
		if err := st.Validate(); err != nil {
			fmt.Printf("step %d: invalid: %v\n", i+1, err)
			os.Exit(1)
		}
	}

	findings := services.LintSteps(list)
	if len(findings) == 0 {
		fmt.Printf("OK: %d steps, no findings\n", len(list))
		return nil
	}
	for _, f := range findings {
		fmt.Printf("step %s: %s\n", f.Position, f.Issue)
	}
	fmt.Printf("%d finding(s) in %d steps\n", len(findings), len(list))
	os.Exit(1)
	return nil
}
