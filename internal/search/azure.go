package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/user/multichat/internal/types"
)

const azureAPIVersion = "2023-11-01"

type azureVectorQuery struct {
	Kind   string    `json:"kind"`
	Vector []float32 `json:"vector"`
	Fields string    `json:"fields"`
	K      int       `json:"k"`
}

type azureRequest struct {
	Search        string             `json:"search"`
	VectorQueries []azureVectorQuery `json:"vectorQueries,omitempty"`
	Select        string             `json:"select"`
	Top           int                `json:"top"`
}

// searchAzure runs a hybrid keyword and vector query against an Azure AI
// Search index.
func (s *Service) searchAzure(ctx context.Context, src *types.DatabaseSource, query string) ([]Record, error) {
	body := azureRequest{Search: query, Top: s.top}

	if src.VectorField != "" && src.EmbeddingModel != "" {
		if s.embed == nil {
			return nil, fmt.Errorf("no embedding backend configured for %s", src.Name)
		}
		vec, err := s.embed.Embed(ctx, strings.TrimPrefix(src.EmbeddingModel, "azure-"), query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		body.VectorQueries = []azureVectorQuery{{Kind: "vector", Vector: vec, Fields: src.VectorField, K: s.top}}
	}

	fields := []string{src.ContentField}
	if src.TitleField != "" {
		fields = append(fields, src.TitleField)
	}
	body.Select = strings.Join(fields, ",")

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search: %w", err)
	}

	url := fmt.Sprintf("%s/indexes/%s/docs/search?api-version=%s", strings.TrimRight(src.Endpoint, "/"), src.IndexName, azureAPIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", src.SearchKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("%s", apiErr.Error.Message)
		}
		return nil, fmt.Errorf("Azure AI Search Error: %s", resp.Status)
	}

	var result struct {
		Value []map[string]any `json:"value"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	records := make([]Record, 0, len(result.Value))
	for _, item := range result.Value {
		r := Record{Content: field(item, src.ContentField)}
		if src.TitleField != "" {
			r.Title = field(item, src.TitleField)
		}
		records = append(records, r)
	}
	return records, nil
}

func field(item map[string]any, name string) string {
	switch v := item[name].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
