package handlers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/require"
)

const testUser = "admin-1"

type registrar interface {
	Register(app *fiber.App)
}

func newTestApp(handlers ...registrar) *fiber.App {
	app := fiber.New()
	for _, h := range handlers {
		h.Register(app)
	}
	return app
}

// apiResponse is the decoded envelope of every handler response.
type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    struct {
		Total *int `json:"total"`
	} `json:"meta"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Fields  []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"fields"`
	} `json:"error"`
}

func call(t *testing.T, app *fiber.App, method, path, body string, user string) (int, apiResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, "/"+apiPrefix+path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded apiResponse
	require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	return resp.StatusCode, decoded
}

func decodeData(t *testing.T, resp apiResponse, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Data, into))
}

