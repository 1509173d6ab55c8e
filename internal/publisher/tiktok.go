package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
)

const tiktokPublicPrivacy = "PUBLIC_TO_EVERYONE"

type Tiktok struct {
	client  *http.Client
	baseURL string
}

func NewTiktok(client *http.Client, baseURL string) *Tiktok {
	return &Tiktok{client: client, baseURL: baseURL}
}

func (p *Tiktok) Platform() string { return PlatformTiktok }

func (p *Tiktok) Publish(ctx context.Context, account Account, content Content, media []models.MediaItem, opts Options) (*Result, error) {
	if err := checkAccount(p.Platform(), account); err != nil {
		return nil, err
	}
	if opts.Simulated {
		return Simulate(ctx, p.Platform(), opts)
	}
	if len(media) == 0 {
		return nil, PermanentError(p.Platform(), "media_required", "tiktok posts need a video or photos")
	}

	headers := map[string]string{"Authorization": "Bearer " + account.AccessToken}

	privacy, err := p.privacyLevel(ctx, headers)
	if err != nil {
		return nil, err
	}

	var url string
	var payload any
	if media[0].MediaType == models.MediaTypeVideo {
		url = p.baseURL + "/post/publish/video/init/"
		payload = transfer.VideoUploadRequest{
			PostInfo: transfer.VideoPostInfo{
				Title:                 Caption(content),
				PrivacyLevel:          privacy,
				VideoCoverTimestampMs: 1000,
			},
			SourceInfo: transfer.VideoSourceInfo{Source: "PULL_FROM_URL", VideoURL: media[0].URL},
		}
	} else {
		photos := make([]string, 0, len(media))
		for _, m := range media {
			if m.MediaType != models.MediaTypeVideo {
				photos = append(photos, m.URL)
			}
		}
		url = p.baseURL + "/post/publish/content/init/"
		payload = transfer.PhotoUploadRequest{
			PostInfo: transfer.PhotoPostInfo{
				Title:        Headline(content, 90),
				Description:  Caption(content),
				PrivacyLevel: privacy,
				AutoAddMusic: true,
			},
			SourceInfo: transfer.PhotoSourceInfo{Source: "PULL_FROM_URL", PhotoImages: photos},
			PostMode:   "DIRECT_POST",
			MediaType:  "PHOTO",
		}
	}

	resp, err := postJSON(ctx, p.client, p.Platform(), url, headers, payload)
	if err != nil {
		return nil, err
	}

	var result transfer.TikTokUploadResponse
	decodeErr := json.Unmarshal(resp.Body, &result)
	if !resp.ok() || (decodeErr == nil && result.Error.Code != "" && result.Error.Code != "ok") {
		return nil, p.classify(resp, result.Error)
	}
	if decodeErr != nil || result.Data.PublishID == "" {
		return nil, UnconfirmedError(p.Platform(), "no publish ID returned from TikTok")
	}

	// TikTok publishes asynchronously; the post URL is not known yet.
	return &Result{RemoteID: result.Data.PublishID, Response: string(resp.Body)}, nil
}

// privacyLevel queries the creator info, which TikTok requires before a
// direct post, and picks public visibility when the creator allows it.
func (p *Tiktok) privacyLevel(ctx context.Context, headers map[string]string) (string, error) {
	resp, err := postJSON(ctx, p.client, p.Platform(), p.baseURL+"/post/publish/creator_info/query/", headers, nil)
	if err != nil {
		return "", err
	}

	var info transfer.TiktokCreatorInfoResponse
	decodeErr := json.Unmarshal(resp.Body, &info)
	if !resp.ok() || (decodeErr == nil && info.Error.Code != "" && info.Error.Code != "ok") {
		return "", p.classify(resp, info.Error)
	}

	options := info.Data.PrivacyLevelOptions
	if len(options) == 0 || slices.Contains(options, tiktokPublicPrivacy) {
		return tiktokPublicPrivacy, nil
	}
	return options[0], nil
}

func (p *Tiktok) classify(resp *httpResponse, apiErr transfer.TiktokError) error {
	var e *Error
	switch apiErr.Code {
	case "access_token_invalid", "scope_not_authorized", "token_not_authorized_for_specified_deployment":
		e = AuthError(p.Platform(), apiErr.Code, apiErr.Message)
	case "rate_limit_exceeded", "spam_risk_too_many_posts", "spam_risk_too_many_pending_share":
		e = RateLimitError(p.Platform(), apiErr.Code, apiErr.Message, retryAfter(resp.Header))
	case "internal_error":
		e = TransientError(p.Platform(), apiErr.Code, apiErr.Message)
	case "", "ok":
		return classifyStatus(p.Platform(), resp.Status, resp.Header, string(resp.Body))
	default:
		if resp.Status >= 500 {
			e = TransientError(p.Platform(), apiErr.Code, apiErr.Message)
		} else {
			e = PermanentError(p.Platform(), apiErr.Code, apiErr.Message)
		}
	}
	e.Details = string(resp.Body)
	return e
}
