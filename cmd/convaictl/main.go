// Package main provides convaictl, an operator CLI for signing and checking
// provider webhooks and minting API tokens for local testing.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"alara-platform/internal/auth"
	"alara-platform/internal/config"
	"alara-platform/internal/convai"
	"alara-platform/internal/rbac"
	"alara-platform/internal/transcript"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convaictl",
		Short: "Webhook and token tooling for the alara API",
		Long: `Webhook and token tooling for the alara API.

Examples:
  convaictl sign --body-file payload.json
  convaictl verify --body-file payload.json --header "t=1700000000,v0=..."
  convaictl inspect --body-file payload.json
  convaictl token --user u_42 --role admin
`,
		SilenceUsage: true,
	}
	cmd.AddCommand(signCmd(), verifyCmd(), inspectCmd(), tokenCmd())
	return cmd
}

// readBody reads path, or stdin when path is "-" or empty.
func readBody(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func secretFlag(cmd *cobra.Command, secret *string) {
	cmd.Flags().StringVar(secret, "secret", os.Getenv("CONVAI_WEBHOOK_SECRET"), "Webhook secret (default $CONVAI_WEBHOOK_SECRET)")
}

func signCmd() *cobra.Command {
	var (
		secret    string
		bodyFile  string
		timestamp int64
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the signature header for a payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := convai.ValidateSecret(secret); err != nil {
				return err
			}
			body, err := readBody(cmd, bodyFile)
			if err != nil {
				return err
			}
			ts := time.Now()
			if timestamp > 0 {
				ts = time.Unix(timestamp, 0)
			}
			fmt.Fprintln(cmd.OutOrStdout(), convai.Sign(secret, body, ts))
			return nil
		},
	}
	secretFlag(cmd, &secret)
	cmd.Flags().StringVar(&bodyFile, "body-file", "-", "Payload file, - for stdin")
	cmd.Flags().Int64Var(&timestamp, "timestamp", 0, "Unix timestamp to sign at (default now)")
	return cmd
}

func verifyCmd() *cobra.Command {
	var (
		secret    string
		bodyFile  string
		header    string
		tolerance time.Duration
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a signature header against a payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(cmd, bodyFile)
			if err != nil {
				return err
			}
			res := convai.NewVerifier(secret, tolerance).Verify(body, header)
			if !res.Valid {
				return res.Err()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "valid (t=%d)\n", res.Timestamp)
			return nil
		},
	}
	secretFlag(cmd, &secret)
	cmd.Flags().StringVar(&bodyFile, "body-file", "-", "Payload file, - for stdin")
	cmd.Flags().StringVar(&header, "header", "", "Signature header value")
	cmd.Flags().DurationVar(&tolerance, "tolerance", convai.DefaultTolerance, "Accepted timestamp age")
	_ = cmd.MarkFlagRequired("header")
	return cmd
}

type inspection struct {
	Type                   convai.EventType        `json:"type"`
	ExternalCallID         string                  `json:"external_call_id"`
	ExternalConversationID string                  `json:"external_conversation_id,omitempty"`
	Status                 string                  `json:"status"`
	DurationSecs           int                     `json:"duration_secs"`
	Cost                   *float64                `json:"cost,omitempty"`
	UserID                 string                  `json:"user_id,omitempty"`
	Messages               int                     `json:"messages"`
	Tasks                  []transcript.ParsedTask `json:"tasks"`
	Warnings               []string                `json:"warnings,omitempty"`
}

func inspectCmd() *cobra.Command {
	var bodyFile string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Parse a webhook payload and show what ingestion would record",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(cmd, bodyFile)
			if err != nil {
				return err
			}
			ev, err := convai.DecodeWebhook(body)
			if err != nil {
				return err
			}
			tasks, warnings := transcript.ExtractTasks(ev.Transcript)
			out := inspection{
				Type:                   ev.Type,
				ExternalCallID:         ev.ExternalCallID,
				ExternalConversationID: ev.ExternalConversationID,
				Status:                 string(ev.Status),
				DurationSecs:           ev.DurationSecs,
				Cost:                   ev.Cost,
				UserID:                 ev.UserID,
				Messages:               len(ev.Transcript),
				Tasks:                  tasks,
			}
			if out.Tasks == nil {
				out.Tasks = []transcript.ParsedTask{}
			}
			for _, w := range warnings {
				out.Warnings = append(out.Warnings, w.Error())
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&bodyFile, "body-file", "-", "Payload file, - for stdin")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		secret   string
		issuer   string
		audience string
		userID   string
		role     string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			role = strings.TrimSpace(role)
			if !rbac.IsKnownRole(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			if ttl <= 0 {
				return errors.New("ttl must be positive")
			}
			m, err := auth.NewManager(config.AuthConfig{
				Secret:     secret,
				Issuer:     issuer,
				Audience:   audience,
				AccessTTL:  ttl,
				RefreshTTL: 2 * ttl,
			})
			if err != nil {
				return err
			}
			pair, err := m.IssuePair(time.Now(), userID, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pair.AccessToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "Signing secret (default $JWT_SECRET)")
	cmd.Flags().StringVar(&issuer, "issuer", os.Getenv("JWT_ISSUER"), "Issuer claim")
	cmd.Flags().StringVar(&audience, "audience", os.Getenv("JWT_AUDIENCE"), "Audience claim")
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	cmd.Flags().StringVar(&role, "role", rbac.RoleUser, "Role: user or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
