package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type TestResponse struct {
	StatusCode int
	Status     string                 `json:"status"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Data       map[string]interface{} `json:"-"`
	RawData    json.RawMessage        `json:"data"`
}

func (r TestResponse) IsSuccess() bool {
	return r.Status == "success"
}

func (r TestResponse) GetString(key string) string {
	if val, ok := r.Data[key].(string); ok {
		return val
	}
	return ""
}

func (r TestResponse) GetNumber(key string) float64 {
	if val, ok := r.Data[key].(float64); ok {
		return val
	}
	return 0
}

func (r TestResponse) GetMap(key string) map[string]interface{} {
	if val, ok := r.Data[key].(map[string]interface{}); ok {
		return val
	}
	return nil
}

// List decodes an array payload such as the audit log.
func (r TestResponse) List() []map[string]interface{} {
	var out []map[string]interface{}
	_ = json.Unmarshal(r.RawData, &out)
	return out
}

var client = &http.Client{Timeout: 10 * time.Second}

func makeRequest(method, path string, body interface{}, token string) TestResponse {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return TestResponse{Status: "error", Message: fmt.Sprintf("Failed to marshal request body: %v", err)}
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, baseURL+path, reqBody)
	if err != nil {
		return TestResponse{Status: "error", Message: fmt.Sprintf("Failed to create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "api-test")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return TestResponse{Status: "error", Message: fmt.Sprintf("Request failed: %v", err)}
	}
	defer resp.Body.Close()

	response := TestResponse{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		response.Status = "error"
		response.Message = fmt.Sprintf("Failed to decode response: %v", err)
		return response
	}
	_ = json.Unmarshal(response.RawData, &response.Data)
	return response
}
