package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	medium "github.com/medium/medium-sdk-go"
)

const (
	mediumMaxTags = 5
	// mediumTimeout bounds each SDK request when the context has no deadline.
	mediumTimeout = 30 * time.Second
)

// Medium publishes a markdown article with a self-issued integration token.
// The SDK takes no context, so every request gets a client timeout that ends
// before the context deadline; no call outlives the attempt.
type Medium struct {
	host      string
	transport http.RoundTripper
}

func NewMedium() *Medium { return &Medium{} }

func (p *Medium) Platform() string { return PlatformMedium }

func (p *Medium) Publish(ctx context.Context, account Account, content Content, media []models.MediaItem, opts Options) (*Result, error) {
	if err := checkAccount(p.Platform(), account); err != nil {
		return nil, err
	}
	if opts.Simulated {
		return Simulate(ctx, p.Platform(), opts)
	}

	tags := Tags(content.Hashtags)
	if len(tags) > mediumMaxTags {
		tags = tags[:mediumMaxTags]
	}

	m := medium.NewClientWithAccessToken(account.AccessToken)
	if p.host != "" {
		m.Host = p.host
	}
	m.Transport = p.transport

	if m.Timeout = requestTimeout(ctx); m.Timeout <= 0 {
		return nil, p.timeout(ctx)
	}
	u, err := m.GetUser("")
	if err != nil {
		return nil, p.classify(err, false)
	}

	// nothing has been created yet, so running out of time here is safe to retry
	if m.Timeout = requestTimeout(ctx); m.Timeout <= 0 {
		return nil, p.timeout(ctx)
	}
	post, err := m.CreatePost(medium.CreatePostOptions{
		UserID:        u.ID,
		Title:         Headline(content, 100),
		Content:       articleMarkdown(content, media),
		ContentFormat: medium.ContentFormatMarkdown,
		Tags:          tags,
		PublishStatus: medium.PublishStatusPublic,
	})
	if err != nil {
		return nil, p.classify(err, true)
	}
	if post == nil || post.ID == "" {
		return nil, UnconfirmedError(p.Platform(), "no post ID returned from Medium")
	}

	return &Result{RemoteID: post.ID, URL: post.URL}, nil
}

// requestTimeout leaves a tenth of the remaining time for recording the
// outcome.
func requestTimeout(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return mediumTimeout
	}
	return time.Until(deadline) * 9 / 10
}

func (p *Medium) timeout(ctx context.Context) *Error {
	e := Classify(context.DeadlineExceeded)
	if ctx.Err() != nil {
		e = Classify(ctx.Err())
	}
	e.Platform = p.Platform()
	return e
}

// classify maps SDK errors. The SDK reports transport failures as a
// medium.Error with its default code; a create whose response was lost after
// the request went out cannot be retried blindly.
func (p *Medium) classify(err error, creating bool) error {
	var merr medium.Error
	if errors.As(err, &merr) {
		msg := merr.Message
		switch {
		case creating && (strings.HasPrefix(msg, "Could not read response") || strings.HasPrefix(msg, "Could not parse response")):
			e := UnconfirmedError(p.Platform(), msg)
			e.Err = err
			return e
		case strings.Contains(msg, "Client.Timeout") || strings.Contains(msg, "deadline exceeded"):
			e := TransientError(p.Platform(), "timeout", msg)
			e.Err = err
			return e
		case merr.Code != -1:
			// the API answered with its own error code
			code := strconv.Itoa(merr.Code)
			lower := strings.ToLower(msg)
			var e *Error
			switch {
			case strings.Contains(lower, "token"):
				e = AuthError(p.Platform(), code, msg)
			case strings.Contains(lower, "rate limit"):
				e = RateLimitError(p.Platform(), code, msg, 0)
			default:
				e = PermanentError(p.Platform(), code, msg)
			}
			e.Err = err
			return e
		}
	}
	return classifySDKError(p.Platform(), err)
}

func articleMarkdown(content Content, media []models.MediaItem) string {
	var b strings.Builder
	if title := strings.TrimSpace(content.Title); title != "" {
		fmt.Fprintf(&b, "# %s\n\n", title)
	}
	b.WriteString(strings.TrimSpace(content.Body))
	for _, m := range media {
		if m.MediaType == models.MediaTypeVideo {
			fmt.Fprintf(&b, "\n\n%s", m.URL)
			continue
		}
		fmt.Fprintf(&b, "\n\n![%s](%s)", m.Caption, m.URL)
	}
	return b.String()
}
