package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/p-n-ai/pai-course/internal/platform/retry"
)

const (
	defaultInnertubeURL = "https://www.youtube.com/youtubei/v1/player"
	innertubeClientName = "ANDROID"
	innertubeClientVer  = "20.10.38"
	innertubeUserAgent  = "com.google.android.youtube/20.10.38 (Linux; U; Android 14)"
	maxCaptionBodyBytes = 8 << 20
)

// ErrNoCaptions is returned when a video exposes no usable caption track.
var ErrNoCaptions = errors.New("no captions available")

// YouTubeCaptions fetches captions through the Innertube player endpoint.
type YouTubeCaptions struct {
	playerURL string
	language  string
	client    *http.Client
	policy    retry.Policy
}

// CaptionsOption configures YouTubeCaptions.
type CaptionsOption func(*YouTubeCaptions)

// WithPlayerURL overrides the Innertube player endpoint (for testing).
func WithPlayerURL(u string) CaptionsOption {
	return func(c *YouTubeCaptions) { c.playerURL = u }
}

// WithCaptionsHTTPClient sets a custom HTTP client.
func WithCaptionsHTTPClient(hc *http.Client) CaptionsOption {
	return func(c *YouTubeCaptions) { c.client = hc }
}

// WithCaptionsRetry sets the retry policy for caption requests.
func WithCaptionsRetry(p retry.Policy) CaptionsOption {
	return func(c *YouTubeCaptions) { c.policy = p }
}

// NewYouTubeCaptions creates a caption fetcher preferring tracks in language.
func NewYouTubeCaptions(language string, opts ...CaptionsOption) *YouTubeCaptions {
	if language == "" {
		language = "en"
	}
	c := &YouTubeCaptions{
		playerURL: defaultInnertubeURL,
		language:  language,
		client:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type playerRequest struct {
	Context struct {
		Client struct {
			ClientName    string `json:"clientName"`
			ClientVersion string `json:"clientVersion"`
			HL            string `json:"hl,omitempty"`
		} `json:"client"`
	} `json:"context"`
	VideoID string `json:"videoId"`
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	Captions struct {
		Renderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

// Captions returns the caption text of videoID joined in temporal order.
func (c *YouTubeCaptions) Captions(ctx context.Context, videoID string) (string, error) {
	tracks, err := retry.Do(ctx, c.policy.Named("captions"), func(ctx context.Context) ([]captionTrack, error) {
		return c.tracks(ctx, videoID)
	})
	if err != nil {
		return "", err
	}

	track, ok := pickBestTrack(tracks, c.language)
	if !ok {
		return "", ErrNoCaptions
	}

	body, err := retry.Do(ctx, c.policy.Named("captions"), func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, trackURL(track.BaseURL))
	})
	if err != nil {
		return "", err
	}

	text, err := parseTimedText(body)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrNoCaptions
	}
	return text, nil
}

func (c *YouTubeCaptions) tracks(ctx context.Context, videoID string) ([]captionTrack, error) {
	var pr playerRequest
	pr.Context.Client.ClientName = innertubeClientName
	pr.Context.Client.ClientVersion = innertubeClientVer
	pr.Context.Client.HL = c.language
	pr.VideoID = videoID

	body, err := json.Marshal(pr)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("marshal player request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.playerURL, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", innertubeUserAgent)

	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp playerResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, retry.Permanent(fmt.Errorf("unmarshal player response: %w", err))
	}
	if s := resp.PlayabilityStatus.Status; s != "" && s != "OK" {
		return nil, retry.Permanent(fmt.Errorf("video not playable (%s): %s", s, resp.PlayabilityStatus.Reason))
	}
	return resp.Captions.Renderer.CaptionTracks, nil
}

func (c *YouTubeCaptions) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", innertubeUserAgent)
	return c.do(req)
}

func (c *YouTubeCaptions) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCaptionBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("caption request failed (status %d)", resp.StatusCode)
		if retry.RetryableStatus(resp.StatusCode) {
			return nil, err
		}
		return nil, retry.Permanent(err)
	}
	return body, nil
}

// pickBestTrack prefers a manual track in lang, then an auto-generated one in
// lang, then any manual track, then any track. Tracks that require a proof of
// origin token cannot be downloaded and are ignored.
func pickBestTrack(tracks []captionTrack, lang string) (captionTrack, bool) {
	usable := tracks[:0:0]
	for _, t := range tracks {
		if t.BaseURL == "" || strings.Contains(t.BaseURL, "&exp=xpe") {
			continue
		}
		usable = append(usable, t)
	}

	matches := func(t captionTrack) bool {
		return t.LanguageCode == lang || strings.HasPrefix(t.LanguageCode, lang+"-")
	}
	passes := []func(captionTrack) bool{
		func(t captionTrack) bool { return matches(t) && t.Kind != "asr" },
		func(t captionTrack) bool { return matches(t) },
		func(t captionTrack) bool { return t.Kind != "asr" },
		func(captionTrack) bool { return true },
	}
	for _, pass := range passes {
		for _, t := range usable {
			if pass(t) {
				return t, true
			}
		}
	}
	return captionTrack{}, false
}

// trackURL strips any format override so the endpoint serves the classic
// <transcript> XML.
func trackURL(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Del("fmt")
	u.RawQuery = q.Encode()
	return u.String()
}

type timedText struct {
	Texts []struct {
		Start float64 `xml:"start,attr"`
		Body  string  `xml:",chardata"`
	} `xml:"text"`
	Paragraphs []struct {
		T        float64 `xml:"t,attr"`
		Body     string  `xml:",chardata"`
		Segments []struct {
			Body string `xml:",chardata"`
		} `xml:"s"`
	} `xml:"body>p"`
}

type fragment struct {
	at   float64
	text string
}

// parseTimedText decodes both the classic <transcript><text> format and the
// srv3 <timedtext><body><p> format.
func parseTimedText(raw []byte) (string, error) {
	var tt timedText
	if err := xml.Unmarshal(raw, &tt); err != nil {
		return "", fmt.Errorf("decode captions: %w", err)
	}

	var frags []fragment
	for _, t := range tt.Texts {
		frags = append(frags, fragment{at: t.Start, text: t.Body})
	}
	for _, p := range tt.Paragraphs {
		text := p.Body
		for _, s := range p.Segments {
			text += s.Body
		}
		frags = append(frags, fragment{at: p.T / 1000, text: text})
	}
	sort.SliceStable(frags, func(i, j int) bool { return frags[i].at < frags[j].at })

	parts := make([]string, 0, len(frags))
	for _, f := range frags {
		clean := strings.Join(strings.Fields(html.UnescapeString(f.text)), " ")
		if clean != "" {
			parts = append(parts, clean)
		}
	}
	return strings.Join(parts, " "), nil
}
