package wa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanderlynx/whatsapp-inbox/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *CloudClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewCloudClient(Config{
		AccessToken:   "token",
		PhoneNumberID: "12345",
		BaseURL:       srv.URL,
		Timeout:       2 * time.Second,
	}, logger.NewNop())
}

func TestSendText_ReturnsProviderID(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v19.0/12345/messages", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.ABC"}},
		})
	})

	id, err := client.SendText(context.Background(), "+5215512345678", "hola")
	require.NoError(t, err)
	assert.Equal(t, "wamid.ABC", id)
	assert.Equal(t, "whatsapp", got["messaging_product"])
	assert.Equal(t, "text", got["type"])
}

func TestSendTemplate_BuildsBodyParameters(t *testing.T) {
	var got templatePayload
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.DEF"}},
		})
	})

	id, err := client.SendTemplate(context.Background(), "+5215512345678",
		"booking_confirmed", []string{"Patagonia Trek", "2025-09-01"})
	require.NoError(t, err)
	assert.Equal(t, "wamid.DEF", id)
	assert.Equal(t, "booking_confirmed", got.Template.Name)
	require.Len(t, got.Template.Components, 1)
	require.Len(t, got.Template.Components[0].Parameters, 2)
	assert.Equal(t, "Patagonia Trek", got.Template.Components[0].Parameters[0].Text)
}

func TestSend_ClassifiesAPIErrors(t *testing.T) {
	tests := []struct {
		name string
		code int
		want error
	}{
		{"expired token", 190, ErrTokenExpired},
		{"rate limited", 130429, ErrRateLimited},
		{"unknown template", 132001, ErrInvalidTemplate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"message": tt.name, "code": tt.code},
				})
			})

			_, err := client.SendText(context.Background(), "+52155", "x")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
