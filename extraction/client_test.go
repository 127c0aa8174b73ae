package extraction_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/renewalhq/crt/extraction"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCompletionServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestClientComplete(t *testing.T) {
	t.Parallel()

	t.Run("ReturnsFirstChoice", func(t *testing.T) {
		t.Parallel()
		server := newCompletionServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

			var req map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "gpt-4o-mini", req["model"])
			assert.Zero(t, req["temperature"])

			json.NewEncoder(w).Encode(map[string]interface{}{
				"choices": []interface{}{
					map[string]interface{}{
						"message": map[string]interface{}{
							"role":    "assistant",
							"content": `{"vendor": "Acme Cloud"}`,
						},
					},
				},
			})
		})

		c, err := extraction.NewClient(extraction.ClientOptions{
			BaseURL: server.URL,
			APIKey:  "sk-test",
			Model:   "gpt-4o-mini",
		})
		require.NoError(t, err)

		reply, err := c.Complete(context.Background(), "system", "prompt")
		require.NoError(t, err)
		assert.Equal(t, `{"vendor": "Acme Cloud"}`, reply)
	})

	t.Run("SurfacesAPIError", func(t *testing.T) {
		t.Parallel()
		server := newCompletionServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{
					"message": "rate limit exceeded",
				},
			})
		})

		c, err := extraction.NewClient(extraction.ClientOptions{
			BaseURL: server.URL,
			APIKey:  "sk-test",
			Model:   "gpt-4o-mini",
		})
		require.NoError(t, err)

		_, err = c.Complete(context.Background(), "system", "prompt")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limit exceeded")
	})

	t.Run("EmptyChoicesIsError", func(t *testing.T) {
		t.Parallel()
		server := newCompletionServer(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"choices": []interface{}{},
			})
		})

		c, err := extraction.NewClient(extraction.ClientOptions{
			BaseURL: server.URL,
			APIKey:  "sk-test",
			Model:   "gpt-4o-mini",
		})
		require.NoError(t, err)

		_, err = c.Complete(context.Background(), "system", "prompt")
		assert.Error(t, err)
	})
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := extraction.NewClient(extraction.ClientOptions{
		APIKey: "sk-test",
		Model:  "gpt-4o-mini",
	})
	assert.Error(t, err)

	_, err = extraction.NewClient(extraction.ClientOptions{
		BaseURL: "http://localhost",
		Model:   "gpt-4o-mini",
	})
	assert.Error(t, err)
}
