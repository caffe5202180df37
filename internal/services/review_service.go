package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	"github.com/myshop/api/internal/domain"
	"github.com/myshop/api/internal/repositories"
)

const (
	reviewIDPrefix     = "rev_"
	reviewEventCreated = "review.created"
	maxReviewComment   = 4000
)

var (
	// ErrReviewInvalidInput indicates validation failures for review operations.
	ErrReviewInvalidInput = newKindError(ErrInvalidArgument, "review: invalid input")
	// ErrReviewNotEligible indicates the user has no delivered order containing the product.
	ErrReviewNotEligible = newKindError(ErrForbidden, "review: product not purchased and delivered")
	// ErrReviewConflict signals the user already reviewed the product.
	ErrReviewConflict = newKindError(ErrConflict, "review: already reviewed")
	// ErrReviewNotFound indicates a review could not be located.
	ErrReviewNotFound = newKindError(ErrNotFound, "review: not found")
)

// ReviewServiceDeps bundles collaborators required to construct a ReviewService.
type ReviewServiceDeps struct {
	Reviews     repositories.ReviewRepository
	Orders      repositories.OrderRepository
	Clock       func() time.Time
	// IDGenerator returns the unique part of new ids. The service adds the type prefix.
	IDGenerator func() string
	Sanitizer   func(string) string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type reviewService struct {
	reviews  repositories.ReviewRepository
	orders   repositories.OrderRepository
	clock    func() time.Time
	newID    func() string
	sanitize func(string) string
	logger   func(context.Context, string, map[string]any)
}

// NewReviewService wires dependencies into a concrete ReviewService implementation.
func NewReviewService(deps ReviewServiceDeps) (ReviewService, error) {
	if deps.Reviews == nil {
		return nil, errors.New("review service: review repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("review service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = NewTextSanitizer()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reviewService{
		reviews: deps.Reviews,
		orders:  deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		sanitize: sanitize,
		logger:   logger,
	}, nil
}

func (s *reviewService) Create(ctx context.Context, cmd CreateReviewCommand) (Review, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	switch {
	case userID == "":
		return Review{}, fmt.Errorf("%w: user id is required", ErrReviewInvalidInput)
	case productID == "":
		return Review{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	case cmd.Rating < 1 || cmd.Rating > 5:
		return Review{}, fmt.Errorf("%w: rating must be between 1 and 5", ErrReviewInvalidInput)
	}

	comment := s.sanitize(cmd.Comment)
	if len(comment) > maxReviewComment {
		return Review{}, fmt.Errorf("%w: comment must be at most %d bytes", ErrReviewInvalidInput, maxReviewComment)
	}

	eligible, err := s.orders.HasDeliveredProduct(ctx, userID, productID)
	if err != nil {
		return Review{}, mapRepoError(err, ErrReviewNotFound, nil)
	}
	if !eligible {
		return Review{}, ErrReviewNotEligible
	}

	if err := s.ensureNoExistingReview(ctx, userID, productID); err != nil {
		return Review{}, err
	}

	review := Review{
		ID:        reviewIDPrefix + s.newID(),
		UserID:    userID,
		ProductID: productID,
		Rating:    cmd.Rating,
		CreatedAt: s.clock(),
	}
	if comment != "" {
		review.Comment = &comment
	}

	if err := s.reviews.Insert(ctx, review); err != nil {
		return Review{}, mapRepoError(err, ErrReviewNotFound, ErrReviewConflict)
	}

	s.logger(ctx, reviewEventCreated, map[string]any{
		"reviewID":  review.ID,
		"productID": productID,
		"rating":    review.Rating,
	})
	return review, nil
}

func (s *reviewService) ListByProduct(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[Review], error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[Review]{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}
	page, err := s.reviews.ListByProduct(ctx, productID, pager)
	if err != nil {
		return domain.CursorPage[Review]{}, mapRepoError(err, ErrReviewNotFound, nil)
	}
	return page, nil
}

func (s *reviewService) ListAll(ctx context.Context, pager Pagination) (domain.CursorPage[Review], error) {
	page, err := s.reviews.List(ctx, pager)
	if err != nil {
		return domain.CursorPage[Review]{}, mapRepoError(err, ErrReviewNotFound, nil)
	}
	return page, nil
}

func (s *reviewService) ensureNoExistingReview(ctx context.Context, userID, productID string) error {
	_, err := s.reviews.FindByUserAndProduct(ctx, userID, productID)
	if err == nil {
		return fmt.Errorf("%w: product %s", ErrReviewConflict, productID)
	}
	if isRepoNotFound(err) {
		return nil
	}
	return mapRepoError(err, ErrReviewNotFound, ErrReviewConflict)
}

// NewTextSanitizer returns a function that strips all markup, drops control characters other than
// newlines, and collapses runs of spaces.
func NewTextSanitizer() func(string) string {
	policy := bluemonday.StrictPolicy()
	return func(input string) string {
		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			return ""
		}
		stripped := html.UnescapeString(policy.Sanitize(trimmed))

		normalized := strings.ReplaceAll(strings.ReplaceAll(stripped, "\r\n", "\n"), "\r", "\n")
		lines := strings.Split(normalized, "\n")
		for i, line := range lines {
			line = strings.Map(func(r rune) rune {
				if unicode.IsControl(r) {
					return -1
				}
				return r
			}, line)
			lines[i] = strings.Join(strings.Fields(line), " ")
		}
		return strings.TrimSpace(strings.Join(lines, "\n"))
	}
}
