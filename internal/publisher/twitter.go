package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/tweet/managetweet"
	"github.com/michimani/gotwi/tweet/managetweet/types"
)

// Twitter posts text-only tweets with OAuth 1.0a user context. The app key
// pair is service configuration; the user token pair comes from the account.
type Twitter struct {
	client    *http.Client
	apiKey    string
	apiSecret string
}

func NewTwitter(client *http.Client, apiKey, apiSecret string) *Twitter {
	return &Twitter{client: client, apiKey: apiKey, apiSecret: apiSecret}
}

func (p *Twitter) Platform() string { return PlatformTwitter }

func (p *Twitter) Publish(ctx context.Context, account Account, content Content, media []models.MediaItem, opts Options) (*Result, error) {
	if err := checkAccount(p.Platform(), account); err != nil {
		return nil, err
	}
	if opts.Simulated {
		return Simulate(ctx, p.Platform(), opts)
	}

	c, err := gotwi.NewClient(&gotwi.NewClientInput{
		HTTPClient:           p.client,
		AuthenticationMethod: gotwi.AuthenMethodOAuth1UserContext,
		OAuthToken:           account.AccessToken,
		OAuthTokenSecret:     account.TokenSecret,
		APIKey:               p.apiKey,
		APIKeySecret:         p.apiSecret,
	})
	if err != nil {
		return nil, ConfigurationError(p.Platform(), "client", fmt.Sprintf("error creating twitter client: %v", err))
	}

	res, err := managetweet.Create(ctx, c, &types.CreateInput{
		Text: gotwi.String(TweetText(content)),
	})
	if err != nil {
		return nil, p.classify(err)
	}

	id := gotwi.StringValue(res.Data.ID)
	if id == "" {
		return nil, UnconfirmedError(p.Platform(), "no tweet ID returned")
	}

	handle := account.Username
	if handle == "" {
		handle = "i/web"
	}
	return &Result{
		RemoteID: id,
		URL:      fmt.Sprintf("https://x.com/%s/status/%s", handle, id),
		Response: gotwi.StringValue(res.Data.Text),
	}, nil
}

func (p *Twitter) classify(err error) error {
	var gerr *gotwi.GotwiError
	if !errors.As(err, &gerr) || !gerr.OnAPI {
		return classifySDKError(p.Platform(), err)
	}

	e := classifyStatus(p.Platform(), gerr.StatusCode, nil, gerr.Detail)
	// duplicate tweets are refused with 403, which is not a credential problem
	if gerr.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(gerr.Detail), "duplicate") {
		e = PermanentError(p.Platform(), "duplicate", gerr.Detail)
	}
	e.Message = gerr.Error()
	if e.Kind == KindRateLimit && gerr.RateLimitInfo != nil && gerr.RateLimitInfo.ResetAt != nil {
		e.RetryAfter = time.Until(*gerr.RateLimitInfo.ResetAt)
	}
	e.Err = err
	return e
}
