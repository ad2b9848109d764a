package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/marginlab/margin/internal/channel"
)

// Transport carries channel traffic between a client and the
// annotation API. Implementations must be safe for concurrent use.
type Transport interface {
	// Snapshot fetches every known annotation for the document.
	Snapshot(ctx context.Context, documentID string) ([]channel.AnnotationPayload, error)
	// Send delivers one outbound event. Annotation mutations hit the
	// REST endpoints; presence and content go to the event endpoint.
	Send(ctx context.Context, event channel.Event) error
	// Subscribe opens the inbound delta stream for the document. The
	// returned channel closes when the stream drops or ctx is done.
	Subscribe(ctx context.Context, documentID string) (<-chan channel.Event, error)
}

// HTTPTransportConfig configures the production HTTP+SSE transport.
type HTTPTransportConfig struct {
	BaseURL     string
	BearerToken string
	ClientID    string
	HTTPClient  *http.Client
}

// HTTPTransport talks to the annotation API over REST and SSE.
type HTTPTransport struct {
	baseURL     string
	bearerToken string
	clientID    string
	httpClient  *http.Client
}

var errUnexpectedStatus = errors.New("client: unexpected response status")

const (
	// streamScanInitialBuffer is the starting scanner buffer for SSE
	// lines.
	streamScanInitialBuffer = 64 * 1024
	// streamScanMaxToken caps a single SSE data line. Annotation events
	// carry user-selected text, which can far exceed the bufio default.
	streamScanMaxToken = 4 * 1024 * 1024
)

// NewHTTPTransport validates configuration and constructs an HTTPTransport.
func NewHTTPTransport(cfg HTTPTransportConfig) (*HTTPTransport, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client: base url required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPTransport{
		baseURL:     baseURL,
		bearerToken: cfg.BearerToken,
		clientID:    cfg.ClientID,
		httpClient:  httpClient,
	}, nil
}

type snapshotResponse struct {
	Annotations []channel.AnnotationPayload `json:"annotations"`
}

// Snapshot implements Transport.
func (t *HTTPTransport) Snapshot(ctx context.Context, documentID string) ([]channel.AnnotationPayload, error) {
	request, err := t.newRequest(ctx, http.MethodGet, t.documentPath(documentID, "annotations"), nil)
	if err != nil {
		return nil, err
	}
	response, err := t.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d fetching snapshot", errUnexpectedStatus, response.StatusCode)
	}
	var decoded snapshotResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return decoded.Annotations, nil
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, event channel.Event) error {
	if event.Kind == channel.KindAnnotation && event.Annotation != nil {
		return t.sendAnnotationMutation(ctx, event)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	request, err := t.newRequest(ctx, http.MethodPost, t.documentPath(event.DocumentID, "events"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	response, err := t.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusAccepted {
		return fmt.Errorf("%w: %d publishing %s event", errUnexpectedStatus, response.StatusCode, event.Kind)
	}
	return nil
}

func (t *HTTPTransport) sendAnnotationMutation(ctx context.Context, event channel.Event) error {
	mutation := event.Annotation
	if mutation.Op == channel.AnnotationOpRemove {
		request, err := t.newRequest(ctx, http.MethodDelete, t.documentPath(event.DocumentID, "annotations/"+mutation.ID), nil)
		if err != nil {
			return err
		}
		response, err := t.httpClient.Do(request)
		if err != nil {
			return err
		}
		defer response.Body.Close()
		if response.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: %d removing annotation", errUnexpectedStatus, response.StatusCode)
		}
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"id":             mutation.ID,
		"section_id":     mutation.SectionID,
		"text":           mutation.Text,
		"color":          mutation.Color,
		"mentioned_user": mutation.MentionedUser,
		"created_at_ms":  mutation.CreatedAtMS,
	})
	if err != nil {
		return fmt.Errorf("encode annotation: %w", err)
	}
	request, err := t.newRequest(ctx, http.MethodPost, t.documentPath(event.DocumentID, "annotations"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	response, err := t.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: %d creating annotation", errUnexpectedStatus, response.StatusCode)
	}
	return nil
}

// Subscribe implements Transport by opening the SSE stream and decoding
// data lines into events.
func (t *HTTPTransport) Subscribe(ctx context.Context, documentID string) (<-chan channel.Event, error) {
	request, err := t.newRequest(ctx, http.MethodGet, t.documentPath(documentID, "stream"), nil)
	if err != nil {
		return nil, err
	}
	response, err := t.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	if response.StatusCode != http.StatusOK {
		response.Body.Close()
		return nil, fmt.Errorf("%w: %d opening stream", errUnexpectedStatus, response.StatusCode)
	}

	events := make(chan channel.Event)
	go func() {
		defer close(events)
		defer response.Body.Close()
		scanner := bufio.NewScanner(response.Body)
		scanner.Buffer(make([]byte, streamScanInitialBuffer), streamScanMaxToken)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var event channel.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				continue
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func (t *HTTPTransport) documentPath(documentID, suffix string) string {
	return fmt.Sprintf("%s/documents/%s/%s", t.baseURL, documentID, suffix)
}

func (t *HTTPTransport) newRequest(ctx context.Context, method, target string, body *bytes.Reader) (*http.Request, error) {
	var request *http.Request
	var err error
	if body != nil {
		request, err = http.NewRequestWithContext(ctx, method, target, body)
	} else {
		request, err = http.NewRequestWithContext(ctx, method, target, nil)
	}
	if err != nil {
		return nil, err
	}
	if t.bearerToken != "" {
		request.Header.Set("Authorization", "Bearer "+t.bearerToken)
	}
	if t.clientID != "" {
		request.Header.Set("X-Margin-Client", t.clientID)
	}
	request.Header.Set("Content-Type", "application/json")
	return request, nil
}
