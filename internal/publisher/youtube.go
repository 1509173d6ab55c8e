package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/h2non/filetype"
	"github.com/maheshrc27/postflow/internal/models"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// sniffLen is enough header for filetype to recognise every video container.
const sniffLen = 261

type Youtube struct {
	media   MediaSource
	options []option.ClientOption
}

func NewYoutube(media MediaSource, options ...option.ClientOption) *Youtube {
	return &Youtube{media: media, options: options}
}

func (p *Youtube) Platform() string { return PlatformYoutube }

func (p *Youtube) Publish(ctx context.Context, account Account, content Content, media []models.MediaItem, opts Options) (*Result, error) {
	if err := checkAccount(p.Platform(), account); err != nil {
		return nil, err
	}
	if opts.Simulated {
		return Simulate(ctx, p.Platform(), opts)
	}

	var video *models.MediaItem
	for i := range media {
		if media[i].MediaType == models.MediaTypeVideo {
			video = &media[i]
			break
		}
	}
	if video == nil {
		return nil, PermanentError(p.Platform(), "media_required", "youtube posts need a video")
	}

	rc, err := p.media.Open(ctx, video.URL)
	if err != nil {
		e := Classify(err)
		e.Platform = p.Platform()
		return nil, e
	}
	defer rc.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, TransientError(p.Platform(), "read_media", fmt.Sprintf("error reading video: %v", err))
	}
	if !filetype.IsVideo(head[:n]) {
		return nil, PermanentError(p.Platform(), "unsupported_media", "media item is not a video")
	}
	body := io.MultiReader(bytes.NewReader(head[:n]), rc)

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: account.AccessToken}))
	service, err := youtube.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(client)}, p.options...)...)
	if err != nil {
		return nil, ConfigurationError(p.Platform(), "client", fmt.Sprintf("error creating YouTube service: %v", err))
	}

	meta := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       Headline(content, 100),
			Description: content.Body,
			Tags:        Tags(content.Hashtags),
			CategoryId:  "22",
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: "public",
		},
	}

	uploaded, err := service.Videos.Insert([]string{"snippet", "status"}, meta).Media(body).Context(ctx).Do()
	if err != nil {
		return nil, p.classify(err)
	}

	if uploaded.Id == "" {
		return nil, UnconfirmedError(p.Platform(), "no video ID returned from YouTube")
	}

	response, _ := uploaded.MarshalJSON()
	return &Result{
		RemoteID: uploaded.Id,
		URL:      "https://youtu.be/" + uploaded.Id,
		Response: string(response),
	}, nil
}

func (p *Youtube) classify(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return classifySDKError(p.Platform(), err)
	}

	reason := ""
	if len(gerr.Errors) > 0 {
		reason = gerr.Errors[0].Reason
	}

	var e *Error
	switch {
	case reason == "quotaExceeded" || reason == "rateLimitExceeded" || reason == "uploadLimitExceeded":
		e = RateLimitError(p.Platform(), reason, gerr.Message, retryAfter(gerr.Header))
	default:
		e = classifyStatus(p.Platform(), gerr.Code, gerr.Header, gerr.Body)
		e.Message = gerr.Message
		if reason != "" {
			e.Code = reason
		} else {
			e.Code = strconv.Itoa(gerr.Code)
		}
	}
	e.Err = err
	return e
}
