// Package publish pushes finished renders to external destinations,
// currently YouTube via the Data API.
package publish

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// Credentials holds the OAuth material for an installed-app refresh token
// flow. All three fields are required.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

func (c Credentials) Complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// Options control the uploaded video's metadata.
type Options struct {
	CategoryID        string
	Visibility        string
	NotifySubscribers bool
}

// YouTubeUploader downloads a finished render and uploads it to YouTube.
type YouTubeUploader struct {
	creds      Credentials
	opts       Options
	httpClient *http.Client
	logger     *slog.Logger
}

func NewYouTubeUploader(creds Credentials, opts Options, logger *slog.Logger) *YouTubeUploader {
	if opts.CategoryID == "" {
		opts.CategoryID = "22"
	}
	if opts.Visibility == "" {
		opts.Visibility = "private"
	}
	return &YouTubeUploader{
		creds:      creds,
		opts:       opts,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		logger:     logger,
	}
}

// Publish fetches the render deliverable and uploads it with the project
// title. It returns the public watch URL.
func (u *YouTubeUploader) Publish(ctx context.Context, videoURL, title string) (string, error) {
	if !u.creds.Complete() {
		return "", fmt.Errorf("youtube credentials are not configured")
	}

	localPath, err := u.download(ctx, videoURL)
	if err != nil {
		return "", err
	}
	defer os.Remove(localPath)

	client := u.oauthClient(ctx)
	svc, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return "", fmt.Errorf("youtube service: %w", err)
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:      title,
			CategoryId: u.opts.CategoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: u.opts.Visibility,
		},
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open render file: %w", err)
	}
	defer f.Close()

	u.logger.Info("uploading to youtube", "title", title)

	call := svc.Videos.Insert([]string{"snippet", "status"}, video)
	call.Media(f)
	call.NotifySubscribers(u.opts.NotifySubscribers)

	uploaded, err := call.Do()
	if err != nil {
		return "", fmt.Errorf("youtube upload: %w", err)
	}

	watchURL := fmt.Sprintf("https://www.youtube.com/watch?v=%s", uploaded.Id)
	u.logger.Info("youtube upload complete", "video_id", uploaded.Id, "url", watchURL)
	return watchURL, nil
}

// download streams the render deliverable into a temp file.
func (u *YouTubeUploader) download(ctx context.Context, videoURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch render: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch render: HTTP %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "storyforge-render-*.mp4")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	written, err := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("download render: %w", err)
	}

	u.logger.Info("render downloaded", "bytes", written, "path", tmp.Name())
	return tmp.Name(), nil
}

func (u *YouTubeUploader) oauthClient(ctx context.Context) *http.Client {
	conf := &oauth2.Config{
		ClientID:     u.creds.ClientID,
		ClientSecret: u.creds.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope},
	}

	token := &oauth2.Token{
		RefreshToken: u.creds.RefreshToken,
		// Force a refresh on first use.
		Expiry: time.Now().Add(-time.Hour),
	}

	return &http.Client{
		Transport: &oauth2.Transport{Source: conf.TokenSource(ctx, token)},
		Timeout:   10 * time.Minute,
	}
}

// StubPublisher logs the request and reports the render URL back unchanged.
// Used when no YouTube credentials are configured.
type StubPublisher struct {
	logger *slog.Logger
}

func NewStubPublisher(logger *slog.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (s *StubPublisher) Publish(ctx context.Context, videoURL, title string) (string, error) {
	if s.logger != nil {
		s.logger.Info("publish stub: upload requested", "url", videoURL, "title", title)
	}
	return videoURL, nil
}
