// Package main はCLIツールのエントリポイント。
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// version はビルド時に -ldflags で設定する。
var version = "dev"

var (
	apiURL  string
	token   string
	output  string
	timeout time.Duration
)

var (
	okFmt   = color.New(color.FgGreen).SprintFunc()
	warnFmt = color.New(color.FgYellow).SprintFunc()
	errFmt  = color.New(color.FgRed, color.Bold).SprintFunc()
	dimFmt  = color.New(color.Faint).SprintFunc()
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errFmt("Error:"), err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "msgctl",
		Short:         "Secure Message Service CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("MSGCTL_API_URL")
			}
			if token == "" {
				token = os.Getenv("MSGCTL_TOKEN")
			}
			httpClient = &http.Client{Timeout: timeout}
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set MSGCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token (or set MSGCTL_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(composeCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(transitionCmd("accept", "Accept a sent message (ROUTER)"))
	rootCmd.AddCommand(certifyCmd())
	rootCmd.AddCommand(transitionCmd("deliver", "Mark a certified message as delivered (AUTHORITY or ROUTER)"))
	rootCmd.AddCommand(transitionCmd("reject", "Reject a message in flight (ROUTER or AUTHORITY)"))
	rootCmd.AddCommand(readCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(certCmd())
	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(mailboxCmd("inbox", "List received messages"))
	rootCmd.AddCommand(mailboxCmd("outbox", "List sent messages"))
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "msgctl version %s\n", version)
		},
	}
}

// callAPI はAPIを呼び出し、期待したステータスであればレスポンスボディを返す。
func callAPI(ctx context.Context, method, path string, body any, wantStatus int) ([]byte, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("--api-url is required (or set MSGCTL_API_URL)")
	}
	if token == "" {
		return nil, fmt.Errorf("--token is required (or set MSGCTL_TOKEN)")
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(apiURL, "/")+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != wantStatus {
		return nil, handleErrorResponse(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// render は --output に応じてレスポンスを表示する。text の場合は v にデコードして format を呼ぶ。
func render[T any](cmd *cobra.Command, body []byte, format func(v T)) error {
	if output == "json" {
		fmt.Fprintln(cmd.OutOrStdout(), string(body))
		return nil
	}
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	format(v)
	return nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil && errResp.Message != "" {
		if statusCode == http.StatusServiceUnavailable {
			return fmt.Errorf("%s (%s, retryable)", errResp.Message, errResp.Code)
		}
		return fmt.Errorf("%s (%s)", errResp.Message, errResp.Code)
	}
	return fmt.Errorf("server returned status %d", statusCode)
}
