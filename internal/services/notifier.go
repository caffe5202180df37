package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	emailKindVerification  = "verify_email"
	emailKindPasswordReset = "password_reset"
	defaultPublishTimeout  = 10 * time.Second
)

// EmailJob is the payload delivered to the mail worker through the job bus.
type EmailJob struct {
	Kind        string    `json:"kind"`
	UserID      string    `json:"userId"`
	To          string    `json:"to"`
	Name        string    `json:"name"`
	Link        string    `json:"link"`
	RequestedAt time.Time `json:"requestedAt"`
}

// EmailJobPublisher enqueues email jobs and returns the broker message id.
type EmailJobPublisher interface {
	PublishEmailJob(ctx context.Context, job EmailJob) (string, error)
}

// JobNotifierDeps enumerates collaborators required to construct the job-backed notifier.
type JobNotifierDeps struct {
	Publisher   EmailJobPublisher
	FrontendURL string
	Timeout     time.Duration
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type jobNotifier struct {
	publisher EmailJobPublisher
	frontend  *url.URL
	timeout   time.Duration
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewJobNotifier returns a Notifier that hands account emails to a background mail worker.
func NewJobNotifier(deps JobNotifierDeps) (Notifier, error) {
	if deps.Publisher == nil {
		return nil, errors.New("job notifier: publisher is required")
	}
	frontend, err := url.Parse(strings.TrimSpace(deps.FrontendURL))
	if err != nil || frontend.Scheme == "" || frontend.Host == "" {
		return nil, fmt.Errorf("job notifier: frontend url %q is not absolute", deps.FrontendURL)
	}

	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &jobNotifier{
		publisher: deps.Publisher,
		frontend:  frontend,
		timeout:   timeout,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (n *jobNotifier) SendVerificationEmail(ctx context.Context, user User) error {
	if user.VerificationToken == nil {
		return errors.New("job notifier: user has no verification token")
	}
	return n.enqueue(ctx, emailKindVerification, user, n.link("/verify-email", *user.VerificationToken))
}

func (n *jobNotifier) SendPasswordResetEmail(ctx context.Context, user User) error {
	if user.ResetToken == nil {
		return errors.New("job notifier: user has no reset token")
	}
	return n.enqueue(ctx, emailKindPasswordReset, user, n.link("/reset-password", *user.ResetToken))
}

func (n *jobNotifier) enqueue(ctx context.Context, kind string, user User, link string) error {
	publishCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	id, err := n.publisher.PublishEmailJob(publishCtx, EmailJob{
		Kind:        kind,
		UserID:      user.ID,
		To:          user.Email,
		Name:        user.Name,
		Link:        link,
		RequestedAt: n.clock(),
	})
	if err != nil {
		return fmt.Errorf("job notifier: publish %s: %w", kind, err)
	}
	n.logger(ctx, "notification.queued", map[string]any{
		"kind":      kind,
		"userID":    user.ID,
		"messageID": id,
	})
	return nil
}

func (n *jobNotifier) link(path, token string) string {
	u := *n.frontend
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = url.Values{"token": []string{token}}.Encode()
	return u.String()
}

type logNotifier struct {
	logger func(context.Context, string, map[string]any)
}

// NewLogNotifier returns a Notifier that only records that an email would have been sent.
func NewLogNotifier(logger func(ctx context.Context, event string, fields map[string]any)) Notifier {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &logNotifier{logger: logger}
}

func (n *logNotifier) SendVerificationEmail(ctx context.Context, user User) error {
	n.logger(ctx, "notification.skipped", map[string]any{"kind": emailKindVerification, "userID": user.ID})
	return nil
}

func (n *logNotifier) SendPasswordResetEmail(ctx context.Context, user User) error {
	n.logger(ctx, "notification.skipped", map[string]any{"kind": emailKindPasswordReset, "userID": user.ID})
	return nil
}
