package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePrometheus answers instant queries from a table keyed by query substring.
func fakePrometheus(t *testing.T, answers map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		query := r.Form.Get("query")
		result := "[]"
		for needle, body := range answers {
			if strings.Contains(query, needle) {
				result = body
				break
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"status":"success","data":{"resultType":"vector","result":%s}}`, result)
	}))
}

func sample(labels, value string) string {
	return fmt.Sprintf(`[{"metric":{%s},"value":[1700000000,%q]}]`, labels, value)
}

func TestGetUsage(t *testing.T) {
	srv := fakePrometheus(t, map[string]string{
		`type="prompt"`:      sample("", "1200"),
		`type="completion"`:  sample("", "300"),
		"llm_requests_total": sample("", "15"),
	})
	defer srv.Close()

	q, err := NewQueryService(srv.URL, "civagent")
	require.NoError(t, err)

	u, err := q.GetUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1200), u.PromptTokens)
	assert.Equal(t, int64(300), u.CompletionTokens)
	assert.Equal(t, int64(1500), u.TotalTokens)
	assert.Equal(t, int64(15), u.Requests)
}

func TestGetUsageByModel(t *testing.T) {
	srv := fakePrometheus(t, map[string]string{
		"group by (model)":             `[{"metric":{"model":"gpt-4"},"value":[1700000000,"1"]},{"metric":{"model":"gpt-35-turbo-16k"},"value":[1700000000,"1"]}]`,
		`type="prompt", model="gpt-4"`: sample("", "80"),
	})
	defer srv.Close()

	q, err := NewQueryService(srv.URL, "civagent")
	require.NoError(t, err)

	usage, err := q.GetUsageByModel(context.Background())
	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.Equal(t, "gpt-35-turbo-16k", usage[0].Model)
	assert.Equal(t, "gpt-4", usage[1].Model)
	assert.Equal(t, int64(80), usage[1].PromptTokens)
	assert.Equal(t, int64(0), usage[0].PromptTokens)
}

func TestGetDecisionOutcomes(t *testing.T) {
	srv := fakePrometheus(t, map[string]string{
		"civagent_decisions_total": `[{"metric":{"outcome":"decided"},"value":[1700000000,"40"]},{"metric":{"outcome":"timeout_fallback"},"value":[1700000000,"3"]}]`,
	})
	defer srv.Close()

	q, err := NewQueryService(srv.URL, "civagent")
	require.NoError(t, err)

	outcomes, err := q.GetDecisionOutcomes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"decided": 40, "timeout_fallback": 3}, outcomes)
}

func TestQueryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","errorType":"bad_data","error":"parse error"}`))
	}))
	defer srv.Close()

	q, err := NewQueryService(srv.URL, "")
	require.NoError(t, err)
	_, err = q.GetUsage(context.Background())
	assert.Error(t, err)
}
