package authz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var ErrPermissionDenied = errors.New("PERMISSION_DENIED")

// 外部协作方的权限预检："这个用户能否对这个文档执行 action"。
type Checker interface {
	Check(ctx context.Context, userID uint64, docID string, action string) (bool, error)
}

// HTTPChecker 调用权限服务的 check 接口。
// baseURL 不要带路径，这里自己拼（避免 double slash）。
type HTTPChecker struct {
	checkURL string
	client   *http.Client
}

func NewHTTPChecker(baseURL string) *HTTPChecker {
	return &HTTPChecker{
		checkURL: strings.TrimRight(baseURL, "/") + "/v1/authz/check",
		client:   &http.Client{Timeout: 1200 * time.Millisecond},
	}
}

func (c *HTTPChecker) Check(ctx context.Context, userID uint64, docID string, action string) (bool, error) {
	q := url.Values{}
	q.Set("userId", strconv.FormatUint(userID, 10))
	q.Set("docId", docID)
	q.Set("action", action)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.checkURL+"?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, errors.New("authz upstream non-200")
	}

	var body struct {
		Allowed bool `json:"allowed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	return body.Allowed, nil
}

// AllowAll：未配置权限服务时的本地开发实现。
type AllowAll struct{}

func (AllowAll) Check(ctx context.Context, userID uint64, docID string, action string) (bool, error) {
	return true, nil
}
