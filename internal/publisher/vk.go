package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"landpub/internal/log"

	"go.uber.org/zap"
)

const vkAPIBase = "https://api.vk.com/method"

// VK error codes, see dev.vk.com/reference/errors.
const (
	vkErrUnauthorized   = 5
	vkErrTooManyPerSec  = 6
	vkErrAccessDenied   = 15
	vkErrInvalidParams  = 100
	vkErrWallPostDenied = 214
)

// VKPublisher posts listings to a community wall via the VK API.
type VKPublisher struct {
	accessToken string
	groupID     int64
	apiVersion  string
	client      *http.Client
	logger      *log.Logger
}

func NewVKPublisher(accessToken string, groupID int64, apiVersion string, timeout time.Duration, logger *log.Logger) *VKPublisher {
	return &VKPublisher{
		accessToken: accessToken,
		groupID:     groupID,
		apiVersion:  apiVersion,
		client:      &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

func (p *VKPublisher) Platform() string {
	return "vk"
}

type vkResponse struct {
	Response *struct {
		PostID int64 `json:"post_id"`
	} `json:"response"`
	Error *struct {
		ErrorCode int    `json:"error_code"`
		ErrorMsg  string `json:"error_msg"`
	} `json:"error"`
}

func (p *VKPublisher) Publish(ctx context.Context, req Request) (*Result, error) {
	message := req.Message()
	if req.ImageURL != "" {
		// VK unfurls a trailing link into a post preview.
		message += "\n\n" + req.ImageURL
	}
	params := url.Values{
		"owner_id":   {strconv.FormatInt(-p.groupID, 10)},
		"from_group": {"1"},
		"message":    {message},
	}

	var out vkResponse
	if err := p.call(ctx, "wall.post", params, &out); err != nil {
		return nil, err
	}
	if out.Response == nil || out.Response.PostID == 0 {
		return nil, &Error{Kind: KindUnknown, Message: "wall.post returned no post id"}
	}
	postID := strconv.FormatInt(out.Response.PostID, 10)
	return &Result{
		ExternalPostID: postID,
		ExternalURL:    fmt.Sprintf("https://vk.com/wall-%d_%s", p.groupID, postID),
	}, nil
}

func (p *VKPublisher) DeletePost(ctx context.Context, externalPostID string) error {
	params := url.Values{
		"owner_id": {strconv.FormatInt(-p.groupID, 10)},
		"post_id":  {externalPostID},
	}
	var out vkResponse
	return p.call(ctx, "wall.delete", params, &out)
}

func (p *VKPublisher) call(ctx context.Context, method string, params url.Values, out *vkResponse) error {
	params.Set("access_token", p.accessToken)
	params.Set("v", p.apiVersion)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		vkAPIBase+"/"+method, strings.NewReader(params.Encode()))
	if err != nil {
		return &Error{Kind: KindUnknown, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return &Error{Kind: KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &Error{Kind: KindNetwork, Message: fmt.Sprintf("%s: http %d", method, resp.StatusCode)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindUnknown, Message: fmt.Sprintf("decode %s response: %s", method, err)}
	}
	if out.Error != nil {
		apiErr := &Error{
			Kind:    mapVKError(out.Error.ErrorCode),
			Code:    out.Error.ErrorCode,
			Message: out.Error.ErrorMsg,
		}
		p.logger.Warn("VK API error", zap.String("method", method),
			zap.Int("code", apiErr.Code), zap.String("msg", apiErr.Message))
		return apiErr
	}
	return nil
}

func mapVKError(code int) Kind {
	switch code {
	case vkErrTooManyPerSec:
		return KindRateLimited
	case vkErrUnauthorized, vkErrAccessDenied:
		return KindUnauthorized
	case vkErrInvalidParams, vkErrWallPostDenied:
		return KindInvalid
	default:
		return KindUnknown
	}
}
