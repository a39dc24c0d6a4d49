package tracking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// REST write endpoints, relative to the API root.
const (
	endpointCreate      = "/write/experiment/create"
	endpointParameter   = "/write/experiment/parameter"
	endpointMetric      = "/write/experiment/metric"
	endpointUploadAsset = "/write/experiment/upload-asset"
	endpointLogOther    = "/write/experiment/log-other"
)

// APIKeyHeader carries the Comet API key.
const APIKeyHeader = "Authorization"

type restSink struct {
	client  *http.Client
	baseURL string
	apiKey  string
	key     string
}

func newRESTSink(opts Options) (*restSink, error) {
	s := &restSink{
		client:  opts.HTTPClient,
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
	}

	var created struct {
		ExperimentKey string `json:"experimentKey"`
	}
	body := map[string]any{
		"projectName":    opts.ProjectName,
		"experimentName": opts.ExperimentName,
	}
	if err := s.postJSON(endpointCreate, body, &created); err != nil {
		return nil, err
	}
	if created.ExperimentKey == "" {
		return nil, fmt.Errorf("%s returned no experiment key", endpointCreate)
	}
	s.key = created.ExperimentKey
	return s, nil
}

func (s *restSink) parameters(params map[string]any) error {
	flat := make(map[string]any)
	flatten("", params, flat)
	for name, value := range flat {
		body := map[string]any{
			"experimentKey":  s.key,
			"parameterName":  name,
			"parameterValue": fmt.Sprint(value),
		}
		if err := s.postJSON(endpointParameter, body, nil); err != nil {
			return fmt.Errorf("failed to log parameter %s: %w", name, err)
		}
	}
	return nil
}

func (s *restSink) code(archive []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", CodeFile)
	if err != nil {
		return err
	}
	if _, err := part.Write(archive); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	q := url.Values{}
	q.Set("experimentKey", s.key)
	q.Set("fileName", CodeFile)
	q.Set("type", "source_code")
	req, err := http.NewRequest(http.MethodPost, s.baseURL+endpointUploadAsset+"?"+q.Encode(), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(req, nil)
}

func (s *restSink) metrics(step int, metrics map[string]float64) error {
	now := time.Now().UnixMilli()
	for name, value := range metrics {
		body := map[string]any{
			"experimentKey": s.key,
			"metricName":    name,
			"metricValue":   Value(value),
			"step":          step,
			"epoch":         step,
			"timestamp":     now,
		}
		if err := s.postJSON(endpointMetric, body, nil); err != nil {
			return fmt.Errorf("failed to log metric %s: %w", name, err)
		}
	}
	return nil
}

func (s *restSink) status(status string) error {
	body := map[string]any{
		"experimentKey": s.key,
		"key":           "status",
		"value":         status,
	}
	return s.postJSON(endpointLogOther, body, nil)
}

func (s *restSink) postJSON(endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, s.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, out)
}

func (s *restSink) do(req *http.Request, out any) error {
	req.Header.Set(APIKeyHeader, s.apiKey)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
