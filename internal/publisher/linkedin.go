package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type Linkedin struct {
	client  *http.Client
	baseURL string
}

func NewLinkedin(client *http.Client, baseURL string) *Linkedin {
	return &Linkedin{client: client, baseURL: baseURL}
}

func (p *Linkedin) Platform() string { return PlatformLinkedin }

func (p *Linkedin) Publish(ctx context.Context, account Account, content Content, media []models.MediaItem, opts Options) (*Result, error) {
	if err := checkAccount(p.Platform(), account); err != nil {
		return nil, err
	}
	if opts.Simulated {
		return Simulate(ctx, p.Platform(), opts)
	}

	author := account.RemoteID
	if !strings.HasPrefix(author, "urn:li:") {
		author = "urn:li:person:" + author
	}

	share := transfer.LinkedinShareContent{
		ShareCommentary:    transfer.LinkedinText{Text: Caption(content)},
		ShareMediaCategory: "NONE",
	}
	if len(media) > 0 {
		share.ShareMediaCategory = "ARTICLE"
		for _, m := range media {
			item := transfer.LinkedinMedia{Status: "READY", OriginalURL: m.URL}
			if m.Caption != "" {
				item.Title = &transfer.LinkedinText{Text: m.Caption}
			}
			share.Media = append(share.Media, item)
		}
	}

	headers := map[string]string{
		"Authorization":             "Bearer " + account.AccessToken,
		"X-Restli-Protocol-Version": "2.0.0",
	}
	resp, err := postJSON(ctx, p.client, p.Platform(), p.baseURL+"/ugcPosts", headers, transfer.LinkedinShareRequest{
		Author:          author,
		LifecycleState:  "PUBLISHED",
		SpecificContent: transfer.LinkedinSpecificContent{ShareContent: share},
		Visibility:      map[string]string{"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"},
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, p.classify(resp)
	}

	id := resp.Header.Get("X-RestLi-Id")
	if id == "" {
		var created transfer.LinkedinShareResponse
		if json.Unmarshal(resp.Body, &created) == nil {
			id = created.ID
		}
	}
	if id == "" {
		return nil, UnconfirmedError(p.Platform(), "no share ID returned from LinkedIn")
	}

	return &Result{
		RemoteID: id,
		URL:      "https://www.linkedin.com/feed/update/" + id,
		Response: string(resp.Body),
	}, nil
}

func (p *Linkedin) classify(resp *httpResponse) error {
	e := classifyStatus(p.Platform(), resp.Status, resp.Header, string(resp.Body))
	var body transfer.LinkedinErrorResponse
	if json.Unmarshal(resp.Body, &body) == nil && body.Message != "" {
		e.Message = body.Message
		if body.ServiceErrorCode != 0 {
			e.Code = strconv.Itoa(body.ServiceErrorCode)
		}
	}
	return e
}
