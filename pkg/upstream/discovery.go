package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"mercator-hq/ganymede/pkg/account"
	"mercator-hq/ganymede/pkg/translator"
)

// Quota and tier discovery. Both endpoints are metadata lookups the core
// refreshes lazily and caches on the Account record.

// codeAssistInfo is the interesting subset of the loadCodeAssist response.
type codeAssistInfo struct {
	Project string
	Tier    string
}

// loadCodeAssist fetches the account's project id and subscription tier.
func (c *Client) loadCodeAssist(ctx context.Context, token, baseURL string) (*codeAssistInfo, error) {
	body, err := c.postJSON(ctx, token, baseURL, loadCodeAssistPath, map[string]any{
		"metadata": map[string]string{"pluginType": "GEMINI"},
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		CloudAICompanionProject string `json:"cloudaicompanionProject"`
		CurrentTier             struct {
			ID string `json:"id"`
		} `json:"currentTier"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("loadCodeAssist parse failed: %w", err)
	}

	return &codeAssistInfo{
		Project: parsed.CloudAICompanionProject,
		Tier:    tierFromID(parsed.CurrentTier.ID),
	}, nil
}

func tierFromID(id string) string {
	switch {
	case id == "":
		return ""
	case strings.Contains(id, "free"):
		return account.TierFree
	case strings.Contains(id, "ultra"):
		return account.TierUltra
	case strings.Contains(id, "standard"), strings.Contains(id, "pro"):
		return account.TierPro
	default:
		return account.TierUnknown
	}
}

// modelQuotaInfo is one model's entry in the fetchAvailableModels response.
type modelQuotaInfo struct {
	QuotaInfo *struct {
		RemainingFraction float64 `json:"remainingFraction"`
		ResetTime         string  `json:"resetTime"`
	} `json:"quotaInfo"`
}

// FetchQuota harvests a quota snapshot for the account.
func (c *Client) FetchQuota(ctx context.Context, acct *account.Account) (*account.QuotaSnapshot, error) {
	token, err := c.tokens.Token(ctx, acct)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, baseURL := range c.BaseURLs() {
		body, err := c.postJSON(ctx, token, baseURL, fetchModelsPath, map[string]any{})
		if err != nil {
			lastErr = err
			continue
		}

		var parsed struct {
			Models map[string]modelQuotaInfo `json:"models"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("fetchAvailableModels parse failed: %w", err)
		}

		snapshot := &account.QuotaSnapshot{
			Models:          make(map[string]account.ModelQuota, len(parsed.Models)),
			FetchedAtMillis: time.Now().UnixMilli(),
		}
		for internalID, info := range parsed.Models {
			publicID := translator.FromUpstreamModel(internalID)
			if publicID == "" || info.QuotaInfo == nil {
				continue
			}
			mq := account.ModelQuota{RemainingFraction: info.QuotaInfo.RemainingFraction}
			if info.QuotaInfo.ResetTime != "" {
				if t, err := time.Parse(time.RFC3339, info.QuotaInfo.ResetTime); err == nil {
					mq.ResetTime = t
				}
			}
			snapshot.Models[publicID] = mq
		}
		acct.SetQuota(snapshot)
		return snapshot, nil
	}
	return nil, fmt.Errorf("quota discovery failed on every endpoint: %w", lastErr)
}

// ListModels returns the public model ids the upstream offers the account,
// filtered to supported families and sorted.
func (c *Client) ListModels(ctx context.Context, acct *account.Account) ([]string, error) {
	token, err := c.tokens.Token(ctx, acct)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, baseURL := range c.BaseURLs() {
		body, err := c.postJSON(ctx, token, baseURL, fetchModelsPath, map[string]any{})
		if err != nil {
			lastErr = err
			continue
		}

		var parsed struct {
			Models map[string]json.RawMessage `json:"models"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("fetchAvailableModels parse failed: %w", err)
		}

		models := make([]string, 0, len(parsed.Models))
		for internalID := range parsed.Models {
			if publicID := translator.FromUpstreamModel(internalID); publicID != "" {
				models = append(models, publicID)
			}
		}
		sort.Strings(models)
		return models, nil
	}
	return nil, fmt.Errorf("model discovery failed on every endpoint: %w", lastErr)
}

// postJSON posts a small JSON body and returns the response bytes.
func (c *Client) postJSON(ctx context.Context, token, baseURL, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(baseURL, "/")+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(resp, body)
	}
	return body, nil
}
