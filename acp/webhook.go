package acp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/agentflow/acpctl/domain"
)

// WebhookProvider identifies the external provider a webhook signature is
// validated against (original spec §4.5, "Webhook validation").
type WebhookProvider string

const (
	ProviderGitHub WebhookProvider = "GITHUB"
	ProviderSlack  WebhookProvider = "SLACK"
)

// Header names the two providers use for their signature (and, for Slack,
// timestamp) headers.
const (
	HeaderGitHubSignature = "X-Hub-Signature-256"
	HeaderSlackSignature  = "X-Slack-Signature"
	HeaderSlackTimestamp  = "X-Slack-Request-Timestamp"
)

// SlackMaxSkew bounds how stale a Slack request timestamp may be before
// the signature is rejected as a replay (original spec §4.5, §8 scenario
// 6).
const SlackMaxSkew = 5 * time.Minute

// WebhookKeys resolves the signing key for a provider-scoped webhook
// (original spec §4.5: "an API key looked up by (agent_id,
// repository.full_name, type=GITHUB)" or "(agent_id, api_app_id,
// type=SLACK)").
type WebhookKeys interface {
	WebhookKey(ctx context.Context, agentID, scope string, provider WebhookProvider) (string, error)
}

// githubPayload is the subset of a GitHub webhook body needed to resolve
// the signing key scope.
type githubPayload struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// slackPayload is the subset of a Slack webhook body needed to resolve the
// signing key scope.
type slackPayload struct {
	APIAppID string `json:"api_app_id"`
}

// ValidateWebhook inspects req's provider-specific signature header and
// validates body against the signing key resolved through keys. It returns
// nil when no recognized provider header is present (the caller proceeds
// without webhook validation), or a *domain.Error (Kind ClientError for a
// malformed/missing body or a stale Slack timestamp, Kind AuthError for a
// bad or missing signature) when a provider header is present but
// validation fails (original spec §4.5, §8 "Empty body GitHub/Slack
// webhook -> HTTP 400", "Slack timestamp skew > 5 min -> 400").
func ValidateWebhook(ctx context.Context, req *http.Request, body []byte, agentID string, keys WebhookKeys) error {
	switch {
	case req.Header.Get(HeaderGitHubSignature) != "":
		return validateGitHub(ctx, req, body, agentID, keys)
	case req.Header.Get(HeaderSlackSignature) != "":
		return validateSlack(ctx, req, body, agentID, keys)
	default:
		return nil
	}
}

func validateGitHub(ctx context.Context, req *http.Request, body []byte, agentID string, keys WebhookKeys) error {
	if len(body) == 0 {
		return domain.ClientError("github webhook: empty body")
	}
	var payload githubPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.ClientError("github webhook: malformed JSON body")
	}
	if payload.Repository.FullName == "" {
		return domain.ClientError("github webhook: missing repository.full_name")
	}
	sig := req.Header.Get(HeaderGitHubSignature)
	const prefix = "sha256="
	if len(sig) <= len(prefix) || sig[:len(prefix)] != prefix {
		return domain.AuthError("github webhook: malformed signature header")
	}
	key, err := keys.WebhookKey(ctx, agentID, payload.Repository.FullName, ProviderGitHub)
	if err != nil || key == "" {
		return domain.AuthError("github webhook: no signing key for %s", payload.Repository.FullName)
	}
	expected := hmacHex(key, body)
	if !hmac.Equal([]byte(sig[len(prefix):]), []byte(expected)) {
		return domain.AuthError("github webhook: signature mismatch")
	}
	return nil
}

func validateSlack(ctx context.Context, req *http.Request, body []byte, agentID string, keys WebhookKeys) error {
	if len(body) == 0 {
		return domain.ClientError("slack webhook: empty body")
	}
	var payload slackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.ClientError("slack webhook: malformed JSON body")
	}
	if payload.APIAppID == "" {
		return domain.ClientError("slack webhook: missing api_app_id")
	}
	tsHeader := req.Header.Get(HeaderSlackTimestamp)
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return domain.ClientError("slack webhook: missing or malformed timestamp header")
	}
	skew := time.Since(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > SlackMaxSkew {
		return domain.ClientError("slack webhook: timestamp skew %s exceeds %s", skew, SlackMaxSkew)
	}
	sig := req.Header.Get(HeaderSlackSignature)
	const prefix = "v0="
	if len(sig) <= len(prefix) || sig[:len(prefix)] != prefix {
		return domain.AuthError("slack webhook: malformed signature header")
	}
	key, err := keys.WebhookKey(ctx, agentID, payload.APIAppID, ProviderSlack)
	if err != nil || key == "" {
		return domain.AuthError("slack webhook: no signing key for %s", payload.APIAppID)
	}
	base := fmt.Sprintf("v0:%s:%s", tsHeader, body)
	expected := hmacHex(key, []byte(base))
	if !hmac.Equal([]byte(sig[len(prefix):]), []byte(expected)) {
		return domain.AuthError("slack webhook: signature mismatch")
	}
	return nil
}

// hmacHex computes hex(HMAC-SHA256(key, body)), the shared primitive
// behind both provider checks. Callers compare the result with
// hmac.Equal, never ==, for constant-time comparison (original spec
// §4.5: "All comparisons must use a constant-time check").
func hmacHex(key string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
