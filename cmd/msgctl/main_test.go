package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secure-message-service/internal/handler"
)

func TestCertificateSignature(t *testing.T) {
	pub, priv, err := mldsa65.GenerateKey(nil)
	require.NoError(t, err)

	sig := signCertificate(priv, "message-1")
	assert.Len(t, sig, mldsa65.SignatureSize)
	assert.True(t, verifyCertificate(pub, "message-1", sig))
	assert.False(t, verifyCertificate(pub, "message-2", sig))

	sig[0] ^= 0xff
	assert.False(t, verifyCertificate(pub, "message-1", sig))
}

func TestKeyPairFiles(t *testing.T) {
	pub, priv, err := mldsa65.GenerateKey(nil)
	require.NoError(t, err)

	prefix := filepath.Join(t.TempDir(), "authority")
	require.NoError(t, writeKeyPair(prefix, pub, priv))

	loadedPriv, err := loadPrivateKey(prefix + ".key")
	require.NoError(t, err)
	loadedPub, err := loadPublicKey(prefix + ".pub")
	require.NoError(t, err)

	sig := signCertificate(loadedPriv, "message-1")
	assert.True(t, verifyCertificate(loadedPub, "message-1", sig))
	assert.True(t, verifyCertificate(pub, "message-1", sig))

	_, err = loadPublicKey(prefix + ".missing")
	assert.Error(t, err)
}

// runCLI はフラグを指定してコマンドを実行し、標準出力を返す。
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	apiURL, token, output = "", "", "text"

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCompose(t *testing.T) {
	var gotAuth string
	var gotBody handler.CreateMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.Method != http.MethodPost || r.URL.Path != "/v1/messages" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(handler.MessageResponse{
			ID: "message-1", SenderID: "alice", ReceiverID: gotBody.ReceiverID, Subject: gotBody.Subject, State: "SENT",
		})
	}))
	defer srv.Close()

	out, err := runCLI(t, "compose", "--api-url", srv.URL, "--token", "tok", "--to", "bob", "--subject", "hi", "--content", "body")
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "bob", gotBody.ReceiverID)
	require.NotNil(t, gotBody.Content)
	assert.Equal(t, "body", *gotBody.Content)
	assert.Contains(t, out, "message-1")
	assert.Contains(t, out, "SENT")
}

func TestCertify_WithSignKey(t *testing.T) {
	pub, priv, err := mldsa65.GenerateKey(nil)
	require.NoError(t, err)
	prefix := filepath.Join(t.TempDir(), "ca")
	require.NoError(t, writeKeyPair(prefix, pub, priv))

	var got handler.TransitionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(handler.MessageResponse{ID: "message-1", State: "CERTIFICATE_CREATED"})
	}))
	defer srv.Close()

	_, err = runCLI(t, "certify", "message-1", "--api-url", srv.URL, "--token", "tok", "--sign-key", prefix+".key")
	require.NoError(t, err)

	assert.Equal(t, "certify", got.Action)
	sig, err := base64.StdEncoding.DecodeString(got.CertificateData)
	require.NoError(t, err)
	assert.True(t, verifyCertificate(pub, "message-1", sig))
}

func TestInbox_Counterparty(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(handler.MessageListResponse{Messages: []handler.MessageResponse{
			{ID: "message-1", SenderID: "alice", ReceiverID: "bob", State: "SENT"},
		}})
	}))
	defer srv.Close()

	out, err := runCLI(t, "inbox", "--api-url", srv.URL, "--token", "tok", "--counterparty", "alice", "--limit", "5")
	require.NoError(t, err)

	assert.Equal(t, "/v1/messages/inbox", gotPath)
	assert.Equal(t, "counterparty=alice&limit=5", gotQuery)
	assert.Contains(t, out, "message-1")
}

func TestErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"INVALID_STATE","message":"message is not in the required state"}`))
	}))
	defer srv.Close()

	_, err := runCLI(t, "accept", "message-1", "--api-url", srv.URL, "--token", "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_STATE")
}

func TestMissingToken(t *testing.T) {
	t.Setenv("MSGCTL_TOKEN", "")
	_, err := runCLI(t, "stats", "--api-url", "http://localhost:1")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "--token"))
}

func TestToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-test-secret-cli-test-secret-xx")
	out, err := runCLI(t, "token", "--actor", "router-1", "--role", "ROUTER")
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(strings.TrimSpace(out), ".")))
}
