package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
)

// Instagram publishes through the Graph API content publishing flow: one
// container per media item, an optional carousel container, then publish.
type Instagram struct {
	client  *http.Client
	baseURL string
}

func NewInstagram(client *http.Client, baseURL string) *Instagram {
	return &Instagram{client: client, baseURL: baseURL}
}

func (p *Instagram) Platform() string { return PlatformInstagram }

func (p *Instagram) Publish(ctx context.Context, account Account, content Content, media []models.MediaItem, opts Options) (*Result, error) {
	if err := checkAccount(p.Platform(), account); err != nil {
		return nil, err
	}
	if opts.Simulated {
		return Simulate(ctx, p.Platform(), opts)
	}
	if len(media) == 0 {
		return nil, PermanentError(p.Platform(), "media_required", "instagram posts need at least one image or video")
	}

	caption := Caption(content)
	containerURL := fmt.Sprintf("%s/%s/media", p.baseURL, account.RemoteID)

	var creationID string
	if len(media) == 1 {
		req := containerRequest(media[0], account.AccessToken)
		req.Caption = caption
		id, err := p.createContainer(ctx, containerURL, req)
		if err != nil {
			return nil, err
		}
		creationID = id
	} else {
		children := make([]string, 0, len(media))
		for _, m := range media {
			req := containerRequest(m, account.AccessToken)
			req.IsCarouselItem = true
			id, err := p.createContainer(ctx, containerURL, req)
			if err != nil {
				return nil, err
			}
			children = append(children, id)
		}

		id, err := p.createContainer(ctx, containerURL, transfer.InstagramContainerRequest{
			MediaType:   "CAROUSEL",
			Caption:     caption,
			Children:    children,
			AccessToken: account.AccessToken,
		})
		if err != nil {
			return nil, err
		}
		creationID = id
	}

	resp, err := postJSON(ctx, p.client, p.Platform(), fmt.Sprintf("%s/%s/media_publish", p.baseURL, account.RemoteID), nil,
		transfer.InstagramPublishRequest{CreationID: creationID, AccessToken: account.AccessToken})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, p.classify(resp)
	}

	var published transfer.InstagramMediaResponse
	if err := json.Unmarshal(resp.Body, &published); err != nil || published.ID == "" {
		return nil, UnconfirmedError(p.Platform(), "no media ID returned from Instagram")
	}

	result := &Result{RemoteID: published.ID, Response: string(resp.Body)}
	result.URL = p.permalink(ctx, published.ID, account.AccessToken)
	return result, nil
}

func containerRequest(m models.MediaItem, token string) transfer.InstagramContainerRequest {
	req := transfer.InstagramContainerRequest{AccessToken: token}
	if m.MediaType == models.MediaTypeVideo {
		req.MediaType = "REELS"
		req.VideoURL = m.URL
	} else {
		req.ImageURL = m.URL
	}
	return req
}

func (p *Instagram) createContainer(ctx context.Context, url string, req transfer.InstagramContainerRequest) (string, error) {
	resp, err := postJSON(ctx, p.client, p.Platform(), url, nil, req)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", p.classify(resp)
	}

	var container transfer.InstagramMediaResponse
	if err := json.Unmarshal(resp.Body, &container); err != nil || container.ID == "" {
		return "", TransientError(p.Platform(), "bad_response", "no container ID returned from Instagram")
	}
	return container.ID, nil
}

// permalink is best effort; a published post without one is still published.
func (p *Instagram) permalink(ctx context.Context, mediaID, token string) string {
	resp, err := getJSON(ctx, p.client, p.Platform(),
		fmt.Sprintf("%s/%s?fields=permalink&access_token=%s", p.baseURL, mediaID, token), nil)
	if err != nil || !resp.ok() {
		return ""
	}
	var media transfer.InstagramMediaResponse
	if json.Unmarshal(resp.Body, &media) != nil {
		return ""
	}
	return media.Permalink
}

func (p *Instagram) classify(resp *httpResponse) error {
	var body transfer.InstagramErrorResponse
	if json.Unmarshal(resp.Body, &body) != nil || body.Error.Code == 0 {
		return classifyStatus(p.Platform(), resp.Status, resp.Header, string(resp.Body))
	}

	code := strconv.Itoa(body.Error.Code)
	msg := body.Error.Message
	var e *Error
	switch {
	case body.Error.Code == 190 || body.Error.Type == "OAuthException" && body.Error.Code == 102:
		e = AuthError(p.Platform(), code, msg)
	case body.Error.Code == 4 || body.Error.Code == 17 || body.Error.Code == 32 || body.Error.Code == 613:
		e = RateLimitError(p.Platform(), code, msg, retryAfter(resp.Header))
	case body.Error.IsTransient || resp.Status >= 500:
		e = TransientError(p.Platform(), code, msg)
	default:
		e = PermanentError(p.Platform(), code, msg)
	}
	e.Details = string(resp.Body)
	return e
}
