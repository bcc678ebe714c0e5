package corpus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	chromem "github.com/philippgille/chromem-go"

	"github.com/praetor-ai/rampart/pkg/httputil"
)

// NewOllamaEmbeddingFunc builds an embedding function against Ollama's
// /api/embeddings endpoint. The returned func is safe for concurrent use;
// all calls share the pooled HTTP client.
func NewOllamaEmbeddingFunc(baseURL, model string) chromem.EmbeddingFunc {
	client := httputil.MediumClient()

	return func(ctx context.Context, text string) ([]float32, error) {
		payload, err := json.Marshal(map[string]string{
			"model":  model,
			"prompt": text,
		})
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/embeddings", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("corpus: embedding request: %w", err)
		}
		defer httputil.DrainAndClose(resp.Body)

		if resp.StatusCode != http.StatusOK {
			body, _ := httputil.ReadErrorBody(resp.Body)
			return nil, fmt.Errorf("corpus: embedding API error %d: %s", resp.StatusCode, body)
		}

		var result struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("corpus: decode embedding: %w", err)
		}
		if len(result.Embedding) == 0 {
			return nil, fmt.Errorf("corpus: empty embedding for %d-byte text", len(text))
		}
		return result.Embedding, nil
	}
}
