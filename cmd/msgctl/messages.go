package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"secure-message-service/internal/handler"
)

// readContent は --content または --file から本文を取得する。
func readContent(content, file string) (string, error) {
	if content != "" && file != "" {
		return "", fmt.Errorf("use either --content or --file, not both")
	}
	if file == "" {
		return content, nil
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", file, err)
	}
	return string(b), nil
}

func printMessage(cmd *cobra.Command, verb string, m handler.MessageResponse) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s message %s [%s]\n", verb, m.ID, okFmt(m.State))
	fmt.Fprintf(cmd.OutOrStdout(), "  from: %s  to: %s  subject: %q\n", m.SenderID, m.ReceiverID, m.Subject)
	if m.CertificateRef != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "  certificate: %s\n", *m.CertificateRef)
	}
}

func printMessageTable(cmd *cobra.Command, msgs []handler.MessageResponse) {
	if len(msgs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), dimFmt("no messages"))
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%-36s %-20s %-16s %-16s %s\n", "ID", "STATE", "SENDER", "RECEIVER", "SUBJECT")
	for _, m := range msgs {
		fmt.Fprintf(cmd.OutOrStdout(), "%-36s %-20s %-16s %-16s %s\n", m.ID, m.State, m.SenderID, m.ReceiverID, m.Subject)
	}
}

// composeCmd は下書きの作成コマンド。本文を指定すると続けて送信する。
func composeCmd() *cobra.Command {
	var to, subject, content, file string
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Create a draft message (and send it when content is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := handler.CreateMessageRequest{ReceiverID: to, Subject: subject}
			if content != "" || file != "" {
				body, err := readContent(content, file)
				if err != nil {
					return err
				}
				req.Content = &body
			}

			resp, err := callAPI(cmd.Context(), http.MethodPost, "/v1/messages", req, http.StatusCreated)
			if err != nil {
				return err
			}
			return render(cmd, resp, func(m handler.MessageResponse) {
				printMessage(cmd, "Created", m)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Receiver ID (required)")
	cmd.Flags().StringVar(&subject, "subject", "", "Subject (required)")
	cmd.Flags().StringVar(&content, "content", "", "Message content")
	cmd.Flags().StringVar(&file, "file", "", "Read message content from file")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("subject")
	return cmd
}

func requestTransition(cmd *cobra.Command, messageID string, req handler.TransitionRequest) error {
	resp, err := callAPI(cmd.Context(), http.MethodPost, "/v1/messages/"+url.PathEscape(messageID)+"/transitions", req, http.StatusOK)
	if err != nil {
		return err
	}
	return render(cmd, resp, func(m handler.MessageResponse) {
		printMessage(cmd, "Updated", m)
	})
}

// sendCmd は下書きの送信コマンド。
func sendCmd() *cobra.Command {
	var content, file string
	cmd := &cobra.Command{
		Use:   "send <message-id>",
		Short: "Seal and send a draft message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readContent(content, file)
			if err != nil {
				return err
			}
			if body == "" {
				return fmt.Errorf("--content or --file is required")
			}
			return requestTransition(cmd, args[0], handler.TransitionRequest{Action: "send", Content: body})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "Message content")
	cmd.Flags().StringVar(&file, "file", "", "Read message content from file")
	return cmd
}

// transitionCmd は本文や証明書を伴わない遷移コマンドを生成する。
func transitionCmd(action, short string) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   action + " <message-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return requestTransition(cmd, args[0], handler.TransitionRequest{Action: action, Notes: notes})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Notes recorded in the audit log")
	return cmd
}

// certifyCmd は証明書の発行コマンド。
func certifyCmd() *cobra.Command {
	var data, signKey, notes string
	cmd := &cobra.Command{
		Use:   "certify <message-id>",
		Short: "Certify an accepted message (AUTHORITY)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			messageID := args[0]

			var certData []byte
			switch {
			case data != "" && signKey != "":
				return fmt.Errorf("use either --data or --sign-key, not both")
			case data != "":
				certData = []byte(data)
			case signKey != "":
				priv, err := loadPrivateKey(signKey)
				if err != nil {
					return err
				}
				certData = signCertificate(priv, messageID)
			default:
				return fmt.Errorf("--data or --sign-key is required")
			}

			return requestTransition(cmd, messageID, handler.TransitionRequest{
				Action:          "certify",
				CertificateData: base64.StdEncoding.EncodeToString(certData),
				Notes:           notes,
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "Certificate data supplied as-is")
	cmd.Flags().StringVar(&signKey, "sign-key", "", "ML-DSA-65 private key file; signs the message ID")
	cmd.Flags().StringVar(&notes, "notes", "", "Notes recorded in the audit log")
	return cmd
}

// readCmd は本文の閲覧コマンド。
func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <message-id>",
		Short: "Decrypt and print message content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callAPI(cmd.Context(), http.MethodGet, "/v1/messages/"+url.PathEscape(args[0])+"/content", nil, http.StatusOK)
			if err != nil {
				return err
			}
			return render(cmd, resp, func(c handler.ContentResponse) {
				fmt.Fprintln(cmd.OutOrStdout(), c.Content)
			})
		},
	}
}

// statusCmd は状態の照会コマンド。
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <message-id>",
		Short: "Show message state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callAPI(cmd.Context(), http.MethodGet, "/v1/messages/"+url.PathEscape(args[0])+"/status", nil, http.StatusOK)
			if err != nil {
				return err
			}
			return render(cmd, resp, func(s handler.StatusResponse) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", s.ID, okFmt(s.State), dimFmt("updated "+s.UpdatedAt))
			})
		},
	}
}

// certCmd は証明書の取得コマンド。公開鍵を指定すると署名を検証する。
func certCmd() *cobra.Command {
	var verifyKey string
	cmd := &cobra.Command{
		Use:   "cert <message-id>",
		Short: "Show the certificate of a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callAPI(cmd.Context(), http.MethodGet, "/v1/messages/"+url.PathEscape(args[0])+"/certificate", nil, http.StatusOK)
			if err != nil {
				return err
			}
			if err := render(cmd, resp, func(c handler.CertificateResponse) {
				fmt.Fprintf(cmd.OutOrStdout(), "certificate %s for message %s\n", c.ID, c.MessageID)
				fmt.Fprintf(cmd.OutOrStdout(), "  issuer: %s  issued: %s  valid until: %s\n", c.IssuerID, c.IssuedAt, c.ValidUntil)
			}); err != nil {
				return err
			}
			if verifyKey == "" {
				return nil
			}

			pub, err := loadPublicKey(verifyKey)
			if err != nil {
				return err
			}
			var c handler.CertificateResponse
			if err := json.Unmarshal(resp, &c); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			sig, err := base64.StdEncoding.DecodeString(c.CertificateData)
			if err != nil {
				return fmt.Errorf("decoding certificate data: %w", err)
			}
			if !verifyCertificate(pub, c.MessageID, sig) {
				return fmt.Errorf("certificate signature does not verify")
			}
			fmt.Fprintln(cmd.ErrOrStderr(), okFmt("signature verified"))
			return nil
		},
	}
	cmd.Flags().StringVar(&verifyKey, "verify-key", "", "ML-DSA-65 public key file to verify the certificate data")
	return cmd
}

// pendingCmd は処理待ち一覧の取得コマンド。
func pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List messages awaiting your role (ROUTER or AUTHORITY)",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callAPI(cmd.Context(), http.MethodGet, "/v1/messages/pending", nil, http.StatusOK)
			if err != nil {
				return err
			}
			return render(cmd, resp, func(l handler.MessageListResponse) {
				printMessageTable(cmd, l.Messages)
			})
		},
	}
}

// mailboxCmd は受信箱・送信箱の一覧コマンドを生成する。
func mailboxCmd(box, short string) *cobra.Command {
	var state, counterparty, since, until string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   box,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for k, v := range map[string]string{"state": state, "counterparty": counterparty, "since": since, "until": until} {
				if v != "" {
					q.Set(k, v)
				}
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}
			path := "/v1/messages/" + box
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			resp, err := callAPI(cmd.Context(), http.MethodGet, path, nil, http.StatusOK)
			if err != nil {
				return err
			}
			return render(cmd, resp, func(l handler.MessageListResponse) {
				printMessageTable(cmd, l.Messages)
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Filter by state")
	cmd.Flags().StringVar(&counterparty, "counterparty", "", "Filter by sender (inbox) or receiver (outbox)")
	cmd.Flags().StringVar(&since, "since", "", "Created at or after (RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "Created before (RFC3339)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of messages (default 10, max 100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of messages to skip")
	return cmd
}

// auditCmd は監査ログの取得コマンド。
func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <message-id>",
		Short: "Show the audit trail of a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callAPI(cmd.Context(), http.MethodGet, "/v1/messages/"+url.PathEscape(args[0])+"/audit", nil, http.StatusOK)
			if err != nil {
				return err
			}
			return render(cmd, resp, func(t handler.AuditTrailResponse) {
				fmt.Fprintf(cmd.OutOrStdout(), "%-32s %-12s %-16s %s\n", "TIMESTAMP", "KIND", "ACTOR", "NOTES")
				for _, e := range t.Entries {
					actor := "-"
					if e.ActorID != nil {
						actor = *e.ActorID
					}
					kind := e.Kind
					if kind == "DENY" {
						kind = warnFmt(kind)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-32s %-12s %-16s %s\n", e.Timestamp, kind, actor, e.Notes)
				}
			})
		},
	}
}

// statsCmd は集計値の取得コマンド。
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show message counts for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := callAPI(cmd.Context(), http.MethodGet, "/v1/stats", nil, http.StatusOK)
			if err != nil {
				return err
			}
			return render(cmd, resp, func(s handler.StatsResponse) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", s.ActorID, s.Role)
				fmt.Fprintf(cmd.OutOrStdout(), "  sent: %d  received: %d  pending: %d\n", s.SentCount, s.ReceivedCount, s.PendingActions)
			})
		},
	}
}
