package publisher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/vartanbeno/go-reddit/v2/reddit"
)

// Reddit submits to the subreddit named by the account's remote id, or to
// the user's own profile when none is set. Hashtags are not used.
type Reddit struct {
	clientID     string
	clientSecret string
	opts         []reddit.Opt
}

func NewReddit(clientID, clientSecret string, opts ...reddit.Opt) *Reddit {
	return &Reddit{clientID: clientID, clientSecret: clientSecret, opts: opts}
}

func (p *Reddit) Platform() string { return PlatformReddit }

func (p *Reddit) Publish(ctx context.Context, account Account, content Content, media []models.MediaItem, opts Options) (*Result, error) {
	if err := checkAccount(p.Platform(), account); err != nil {
		return nil, err
	}
	if opts.Simulated {
		return Simulate(ctx, p.Platform(), opts)
	}

	client, err := reddit.NewClient(reddit.Credentials{
		ID:       p.clientID,
		Secret:   p.clientSecret,
		Username: account.Username,
		Password: account.TokenSecret,
	}, p.opts...)
	if err != nil {
		return nil, ConfigurationError(p.Platform(), "client", fmt.Sprintf("error creating Reddit client: %v", err))
	}

	subreddit := strings.TrimPrefix(account.RemoteID, "r/")
	if subreddit == "" {
		subreddit = "u_" + account.Username
	}
	title := Headline(content, 300)

	var submitted *reddit.Submitted
	if len(media) > 0 {
		submitted, _, err = client.Post.SubmitLink(ctx, reddit.SubmitLinkRequest{
			Subreddit: subreddit,
			Title:     title,
			URL:       media[0].URL,
		})
	} else {
		submitted, _, err = client.Post.SubmitText(ctx, reddit.SubmitTextRequest{
			Subreddit: subreddit,
			Title:     title,
			Text:      content.Body,
		})
	}
	if err != nil {
		return nil, p.classify(err)
	}

	if submitted == nil || submitted.FullID == "" {
		return nil, UnconfirmedError(p.Platform(), "no post ID returned from Reddit")
	}

	return &Result{RemoteID: submitted.FullID, URL: submitted.URL}, nil
}

func (p *Reddit) classify(err error) error {
	var rateErr *reddit.RateLimitError
	if errors.As(err, &rateErr) {
		e := RateLimitError(p.Platform(), "rate_limited", rateErr.Message, time.Until(rateErr.Rate.Reset))
		e.Err = err
		return e
	}

	// validation failures come back as 200 with a list of labels
	var jsonErr *reddit.JSONErrorResponse
	if errors.As(err, &jsonErr) && len(jsonErr.JSON.Errors) > 0 {
		apiErr := jsonErr.JSON.Errors[0]
		var e *Error
		if apiErr.Label == "RATELIMIT" {
			e = RateLimitError(p.Platform(), apiErr.Label, apiErr.Reason, 0)
		} else {
			e = PermanentError(p.Platform(), apiErr.Label, apiErr.Reason)
		}
		e.Details = apiErr.Field
		e.Err = err
		return e
	}

	var respErr *reddit.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		status := respErr.Response.StatusCode
		e := classifyStatus(p.Platform(), status, respErr.Response.Header, respErr.Message)
		e.Code = strconv.Itoa(status)
		e.Message = respErr.Error()
		e.Err = err
		return e
	}

	return classifySDKError(p.Platform(), err)
}
