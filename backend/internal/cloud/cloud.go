package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"folderSync/backend/internal/revision"
)

// HTTPService 从协作服务拉一个对象的完整修订历史
type HTTPService struct {
	// 例如 http://127.0.0.1:8081/collab
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPService(baseURL, token string) *HTTPService {
	return &HTTPService{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type historyResponse struct {
	ObjectID  string              `json:"objectId"`
	RevID     uint64              `json:"revId"`
	Revisions []revision.Revision `json:"revisions"`
}

func (s *HTTPService) FetchHistory(ctx context.Context, userID, objectID string) ([]revision.Revision, error) {
	endpoint := s.BaseURL + "/objects/" + url.PathEscape(objectID) + "/revisions"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history of %s for %s: %w", objectID, userID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch history of %s: status %d", objectID, resp.StatusCode)
	}
	var body historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode history of %s: %w", objectID, err)
	}
	for i, r := range body.Revisions {
		if r.ObjectID != objectID {
			return nil, fmt.Errorf("%w: history of %s contains %s", revision.ErrOutOfOrder, objectID, r)
		}
		if r.RevID != uint64(i)+1 || r.BaseRevID != uint64(i) {
			return nil, fmt.Errorf("%w: history of %s is not contiguous at %s", revision.ErrOutOfOrder, objectID, r)
		}
	}
	return body.Revisions, nil
}

// Empty 没有云端时的占位实现，总是返回空历史
type Empty struct{}

func (Empty) FetchHistory(context.Context, string, string) ([]revision.Revision, error) {
	return nil, nil
}
