package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPInput defines the input parameters for the HTTP executor
type HTTPInput struct {
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body"`
	JSONPayload     map[string]any    `json:"json_payload"`
	FollowRedirects *bool             `json:"follow_redirects"`
}

// HTTPOutput defines the output of the HTTP executor
type HTTPOutput struct {
	StatusCode    int               `json:"status_code"`
	Status        string            `json:"status"`
	Headers       map[string]string `json:"headers"`
	Body          string            `json:"body"`
	JSONResponse  map[string]any    `json:"json_response,omitempty"`
	Success       bool              `json:"success"`
	ContentLength int64             `json:"content_length"`
}

// HTTPExecutor makes HTTP requests
type HTTPExecutor struct {
	client *http.Client
}

func NewHTTPExecutor() *HTTPExecutor {
	return &HTTPExecutor{client: &http.Client{}}
}

func (e *HTTPExecutor) Name() string {
	return "http"
}

func (e *HTTPExecutor) Execute(ctx context.Context, params map[string]any) (any, error) {
	var input HTTPInput
	if err := decodeParams(params, &input); err != nil {
		return nil, err
	}
	if input.URL == "" {
		return nil, fmt.Errorf("url cannot be empty")
	}
	if input.Method == "" {
		input.Method = "GET"
	}

	var bodyReader io.Reader
	if input.JSONPayload != nil {
		jsonData, err := json.Marshal(input.JSONPayload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	} else if input.Body != "" {
		bodyReader = strings.NewReader(input.Body)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(input.Method), input.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range input.Headers {
		req.Header.Set(key, value)
	}
	if input.JSONPayload != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := e.client
	if input.FollowRedirects != nil && !*input.FollowRedirects {
		client = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	output := HTTPOutput{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Body:          string(respBody),
		Success:       resp.StatusCode >= 200 && resp.StatusCode < 300,
		ContentLength: resp.ContentLength,
		Headers:       make(map[string]string),
	}
	for key, values := range resp.Header {
		if len(values) > 0 {
			output.Headers[key] = values[0]
		}
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var jsonResp map[string]any
		if err := json.Unmarshal(respBody, &jsonResp); err == nil {
			output.JSONResponse = jsonResp
		}
	}

	// Return as a map so workflow expressions can index into the result
	var result map[string]any
	data, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return result, nil
}
