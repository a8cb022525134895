package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"hotswap/internal/config"
	"hotswap/internal/server"

	"github.com/google/go-github/v57/github"
	"github.com/spf13/cobra"
)

const triggerTimeout = 5 * time.Minute

var (
	triggerURL      string
	triggerSecret   string
	triggerToken    string
	triggerRef      string
	triggerRevision string
	triggerAlgo     string
	triggerRestart  bool
	triggerCommand  string
	triggerRebuild  bool
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Trigger an upgrade on a running instance",
	Long: `Send a signed push webhook to a running hotswap instance.

With --restart a pull and rebuild is requested through /restart, and with
--command (or --rebuild alone) an admin command is sent to /command. Both
use the access token.`,
	Example: `  hotswap trigger --ref refs/heads/main
  hotswap trigger --restart
  hotswap trigger --command "npm install" --rebuild`,
	Args: cobra.NoArgs,
	RunE: runTrigger,
}

func init() {
	triggerCmd.Flags().StringVarP(&triggerURL, "url", "u", getEnvOrDefault("HOTSWAP_URL", "http://127.0.0.1:3000"), "Base URL of the running instance")
	triggerCmd.Flags().StringVar(&triggerSecret, "secret", os.Getenv(config.EnvWebhookSecret), "Webhook secret used to sign the payload")
	triggerCmd.Flags().StringVar(&triggerToken, "token", os.Getenv(config.EnvAccessToken), "Access token for --restart and --command")
	triggerCmd.Flags().StringVar(&triggerRef, "ref", "refs/heads/main", "Pushed ref")
	triggerCmd.Flags().StringVar(&triggerRevision, "revision", "", "Pushed commit SHA")
	triggerCmd.Flags().StringVar(&triggerAlgo, "algo", server.AlgoSHA256, "Signature algorithm (sha1, sha256, sha512)")
	triggerCmd.Flags().BoolVar(&triggerRestart, "restart", false, "Request a pull and rebuild through /restart")
	triggerCmd.Flags().StringVar(&triggerCommand, "command", "", "Admin command to run through /command")
	triggerCmd.Flags().BoolVar(&triggerRebuild, "rebuild", false, "Rebuild after the admin command")
	triggerCmd.MarkFlagsMutuallyExclusive("restart", "command")
}

func runTrigger(cmd *cobra.Command, args []string) error {
	base := strings.TrimRight(triggerURL, "/")

	var (
		req *http.Request
		err error
	)
	switch {
	case triggerRestart:
		req, err = newRestartRequest(base, triggerToken)
	case triggerCommand != "" || triggerRebuild:
		req, err = newCommandRequest(base, triggerToken, triggerCommand, triggerRebuild)
	default:
		req, err = newWebhookRequest(base, triggerSecret, triggerAlgo, triggerRef, triggerRevision)
	}
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: triggerTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, server.MaxPayloadBytes))
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", resp.Status, strings.TrimSpace(string(body)))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s returned %s", req.URL.Path, resp.Status)
	}
	return nil
}

func newWebhookRequest(base, secret, algo, ref, revision string) (*http.Request, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required (--secret or %s)", config.EnvWebhookSecret)
	}

	event := &github.PushEvent{Ref: github.String(ref)}
	if revision != "" {
		event.After = github.String(revision)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode push payload: %w", err)
	}

	signature, err := server.Sign(payload, secret, algo)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, base+"/webhooks", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(server.EventHeader, "push")
	req.Header.Set(server.HeaderFor(algo), signature)
	return req, nil
}

func newRestartRequest(base, token string) (*http.Request, error) {
	if token == "" {
		return nil, fmt.Errorf("access token is required (--token or %s)", config.EnvAccessToken)
	}
	req, err := http.NewRequest(http.MethodPost, base+"/restart", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(server.AccessTokenHeader, token)
	return req, nil
}

func newCommandRequest(base, token, command string, rebuild bool) (*http.Request, error) {
	if token == "" {
		return nil, fmt.Errorf("access token is required (--token or %s)", config.EnvAccessToken)
	}
	payload, err := json.Marshal(server.CommandRequest{Command: command, ReBuild: rebuild})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, base+"/command", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(server.AccessTokenHeader, token)
	return req, nil
}
