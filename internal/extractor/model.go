package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	gojson "github.com/goccy/go-json"
)

// Model maps a preprocessed tensor to an embedding.
type Model interface {
	Predict(ctx context.Context, t Tensor) ([]float32, error)
	Name() string
}

// Backend names a Model implementation.
type Backend string

const (
	BackendIdentity  Backend = "identity"
	BackendHTTP      Backend = "http"
	BackendSageMaker Backend = "sagemaker"
)

// ParseBackend parses a configured backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendIdentity, BackendHTTP, BackendSageMaker:
		return b, nil
	default:
		return "", fmt.Errorf("unknown model backend %q", s)
	}
}

// IdentityModel returns the flattened tensor as the embedding.
type IdentityModel struct{}

func (IdentityModel) Name() string { return string(BackendIdentity) }

func (IdentityModel) Predict(_ context.Context, t Tensor) ([]float32, error) {
	out := make([]float32, len(t.Data))
	copy(out, t.Data)
	return out, nil
}

// predictRequest is the TensorFlow Serving style request body.
type predictRequest struct {
	Instances [][][][]float32 `json:"instances"`
}

func encodeTensor(t Tensor, wrap bool) ([]byte, error) {
	if wrap {
		return gojson.Marshal(predictRequest{Instances: t.Nested()})
	}
	return gojson.Marshal(t.Nested())
}

// decodePredictions accepts a bare nested array or an object carrying
// "predictions" or "embeddings", and flattens the first batch entry.
func decodePredictions(body []byte) ([]float32, error) {
	var raw interface{}
	if err := gojson.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	if obj, ok := raw.(map[string]interface{}); ok {
		var found bool
		for _, key := range []string{"predictions", "embeddings", "embedding", "outputs"} {
			if v, ok := obj[key]; ok {
				raw, found = v, true
				break
			}
		}
		if !found {
			return nil, errors.New("prediction object has no predictions field")
		}
	}

	// Unwrap a single-item batch.
	if arr, ok := raw.([]interface{}); ok && len(arr) == 1 {
		if _, nested := arr[0].([]interface{}); nested {
			raw = arr[0]
		}
	}

	var out []float32
	if err := flatten(raw, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("prediction is empty")
	}
	return out, nil
}

func flatten(v interface{}, out *[]float32) error {
	switch x := v.(type) {
	case float64:
		*out = append(*out, float32(x))
	case []interface{}:
		for _, e := range x {
			if err := flatten(e, out); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unexpected %T in prediction", v)
	}
	return nil
}

// HTTPModel posts tensors to an inference endpoint as JSON.
type HTTPModel struct {
	Endpoint string
	Client   *http.Client
	// Instances wraps the payload as {"instances": ...} for TF Serving.
	Instances bool
}

// NewHTTPModel creates an HTTP model client with its own pooled transport.
func NewHTTPModel(endpoint string, timeout time.Duration, instances bool) *HTTPModel {
	return &HTTPModel{
		Endpoint:  endpoint,
		Instances: instances,
		Client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 64,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (m *HTTPModel) Name() string { return string(BackendHTTP) }

func (m *HTTPModel) Predict(ctx context.Context, t Tensor) ([]float32, error) {
	body, err := encodeTensor(t, m.Instances)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("model endpoint returned %s: %s", resp.Status, truncate(payload, 256))
	}
	return decodePredictions(payload)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// sageMakerInvoker is the subset of the SageMaker runtime client in use.
type sageMakerInvoker interface {
	InvokeEndpoint(ctx context.Context, params *sagemakerruntime.InvokeEndpointInput,
		optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

// SageMakerModel invokes a SageMaker endpoint hosting the feature model.
type SageMakerModel struct {
	client   sageMakerInvoker
	endpoint string
}

// NewSageMakerModel builds a runtime client from the default AWS credential
// chain.
func NewSageMakerModel(ctx context.Context, endpoint, region string) (*SageMakerModel, error) {
	if endpoint == "" {
		return nil, errors.New("sagemaker endpoint name is required")
	}
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SageMakerModel{
		client:   sagemakerruntime.NewFromConfig(awsCfg),
		endpoint: endpoint,
	}, nil
}

func (m *SageMakerModel) Name() string { return string(BackendSageMaker) }

func (m *SageMakerModel) Predict(ctx context.Context, t Tensor) ([]float32, error) {
	body, err := encodeTensor(t, false)
	if err != nil {
		return nil, err
	}
	out, err := m.client.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(m.endpoint),
		ContentType:  aws.String("application/json"),
		Accept:       aws.String("application/json"),
		Body:         body,
	})
	if err != nil {
		return nil, err
	}
	return decodePredictions(out.Body)
}
