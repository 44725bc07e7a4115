package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"secure-message-service/config"
	"secure-message-service/internal/domain"
	"secure-message-service/internal/middleware"
)

// certificateContext は証明書署名を他の用途の署名と区別する。
var certificateContext = []byte("secure-message-service/certificate/v1")

// signCertificate はメッセージIDに対するML-DSA-65署名を返す。
func signCertificate(priv *mldsa65.PrivateKey, messageID string) []byte {
	sig := make([]byte, mldsa65.SignatureSize)
	mldsa65.SignTo(priv, []byte(messageID), certificateContext, false, sig)
	return sig
}

// verifyCertificate は signCertificate の署名を検証する。
func verifyCertificate(pub *mldsa65.PublicKey, messageID string, sig []byte) bool {
	return mldsa65.Verify(pub, []byte(messageID), certificateContext, sig)
}

func readKeyFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, fmt.Errorf("decoding key file %s: %w", path, err)
	}
	return raw, nil
}

func loadPrivateKey(path string) (*mldsa65.PrivateKey, error) {
	raw, err := readKeyFile(path)
	if err != nil {
		return nil, err
	}
	var priv mldsa65.PrivateKey
	if err := priv.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return &priv, nil
}

func loadPublicKey(path string) (*mldsa65.PublicKey, error) {
	raw, err := readKeyFile(path)
	if err != nil {
		return nil, err
	}
	var pub mldsa65.PublicKey
	if err := pub.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	return &pub, nil
}

// writeKeyPair は鍵ペアを <prefix>.key と <prefix>.pub に書き出す。
func writeKeyPair(prefix string, pub *mldsa65.PublicKey, priv *mldsa65.PrivateKey) error {
	privRaw, err := priv.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encoding private key: %w", err)
	}
	pubRaw, err := pub.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encoding public key: %w", err)
	}

	if err := os.WriteFile(prefix+".key", []byte(base64.StdEncoding.EncodeToString(privRaw)+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(prefix+".pub", []byte(base64.StdEncoding.EncodeToString(pubRaw)+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

// keygenCmd は認証局用のML-DSA-65鍵ペアを生成するコマンド。
func keygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ML-DSA-65 key pair for signing certificate data",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := mldsa65.GenerateKey(nil)
			if err != nil {
				return fmt.Errorf("generating key pair: %w", err)
			}
			if err := writeKeyPair(out, pub, priv); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s and %s\n", okFmt(out+".key"), okFmt(out+".pub"))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "authority", "Output file prefix")
	return cmd
}

// tokenCmd は開発用のアクセストークンを発行するコマンド。
func tokenCmd() *cobra.Command {
	var actorID, roleName, secret string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token from JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			// 既存の環境変数は上書きしない
			_ = godotenv.Load()
			cfg := config.Load()
			if secret == "" {
				secret = cfg.JWTSecret
			}
			if secret == "" {
				return fmt.Errorf("--secret is required (or set JWT_SECRET)")
			}

			role, err := domain.ParseRole(roleName)
			if err != nil {
				return fmt.Errorf("invalid role %q: %w", roleName, err)
			}

			signed, err := middleware.NewTokenService(secret, cfg.JWTIssuer).IssueToken(actorID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "Actor ID (required)")
	cmd.Flags().StringVar(&roleName, "role", "USER", "Role: USER, PUBLISHER, ROUTER, AUTHORITY")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (defaults to JWT_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	cmd.MarkFlagRequired("actor")
	return cmd
}
