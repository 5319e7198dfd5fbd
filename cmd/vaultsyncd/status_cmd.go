package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch the local status endpoint once",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetBool("raw")

			cfg, err := loadClientConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.ClientURL == "" || cfg.ClientToken == "" {
				return fmt.Errorf("client status endpoint not configured; set client_url/client_token in the config file or VAULTSYNC_CLIENT_URL/VAULTSYNC_CLIENT_TOKEN")
			}

			body, err := fetchStatus(cmd, cfg.ClientURL, cfg.ClientToken)
			if err != nil {
				return err
			}

			printStatusBody(cmd.OutOrStdout(), body, raw)
			return nil
		},
	}
	cmd.Flags().Bool("raw", false, "print raw json without pretty formatting")
	rootCmd.AddCommand(cmd)
}

func fetchStatus(cmd *cobra.Command, clientURL, clientToken string) ([]byte, error) {
	statusURL := fmt.Sprintf("%s/v1/status", clientURL)
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+clientToken)

	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

func printStatusBody(w io.Writer, body []byte, raw bool) {
	if raw {
		fmt.Fprintf(w, "%s\n", body)
		return
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		fmt.Fprintf(w, "%s\n", body)
		return
	}
	pretty, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintf(w, "%s\n", pretty)
}
