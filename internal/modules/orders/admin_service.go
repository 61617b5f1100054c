package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StockRestorer returns committed inventory for an order. Implemented by the
// inventory engine; declared here so orders does not import it.
type StockRestorer interface {
	Restore(ctx context.Context, orderID, reason string) (bool, error)
}

// AdminService runs the manual order workflows. Cancellation mirrors the
// settlement stock contract in reverse.
type AdminService struct {
	db       *gorm.DB
	repo     *Repo
	restorer StockRestorer
	logger   *slog.Logger
}

func NewAdminService(db *gorm.DB, restorer StockRestorer) *AdminService {
	return &AdminService{db: db, repo: NewRepo(db), restorer: restorer, logger: slog.Default()}
}

func (s *AdminService) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

type TransitionInput struct {
	OrderID     string
	ActorUserID string // admin user id
	Action      string // cancel|fail
	Note        string
}

type TransitionResult struct {
	FromStatus    string
	ToStatus      string
	StockRestored bool
}

func (s *AdminService) Transition(ctx context.Context, in TransitionInput) (TransitionResult, error) {
	if in.OrderID == "" || in.ActorUserID == "" || in.Action == "" {
		return TransitionResult{}, ErrNotActionable
	}

	o, err := s.repo.Get(ctx, in.OrderID)
	if err != nil {
		return TransitionResult{}, err
	}

	from := o.Status
	to, err := nextStatus(from, in.Action)
	if err != nil {
		return TransitionResult{}, err
	}

	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&Order{}).
		Where("id = ? AND status = ?", o.ID, from). // optimistic guard
		Updates(map[string]any{
			"status":     to,
			"updated_at": now,
		})
	if res.Error != nil {
		return TransitionResult{}, res.Error
	}
	if res.RowsAffected == 0 {
		return TransitionResult{}, ErrStaleWrite
	}

	var notePtr *string
	if n := strings.TrimSpace(in.Note); n != "" {
		notePtr = &n
	}
	ev := OrderEvent{
		ID:          uuid.NewString(),
		OrderID:     o.ID,
		ActorUserID: in.ActorUserID,
		Action:      in.Action,
		FromStatus:  from,
		ToStatus:    to,
		Note:        notePtr,
		CreatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&ev).Error; err != nil {
		// status already moved; the event row is audit only
		s.logger.ErrorContext(ctx, "order event insert failed", "order_id", o.ID, "action", in.Action, "err", err)
	}

	out := TransitionResult{FromStatus: from, ToStatus: to}
	if s.restorer == nil {
		return out, nil
	}

	reason := fmt.Sprintf("order %s %s by %s", o.ID, in.Action, in.ActorUserID)
	restored, err := s.restorer.Restore(ctx, o.ID, reason)
	if err != nil {
		s.logger.ErrorContext(ctx, "stock restore failed", "order_id", o.ID, "err", err)
		return out, fmt.Errorf("restore stock: %w", err)
	}
	out.StockRestored = restored
	return out, nil
}

// Cancel is the cancellation workflow entry point.
func (s *AdminService) Cancel(ctx context.Context, orderID, actorUserID, note string) (TransitionResult, error) {
	return s.Transition(ctx, TransitionInput{OrderID: orderID, ActorUserID: actorUserID, Action: "cancel", Note: note})
}

func nextStatus(from, action string) (string, error) {
	switch action {
	case "cancel":
		if from == StatusCreated || from == StatusPending {
			return StatusCancelled, nil
		}
		return "", ErrInvalidTransition
	case "fail":
		if from == StatusPending {
			return StatusFailed, nil
		}
		return "", ErrInvalidTransition
	default:
		return "", ErrInvalidTransition
	}
}

// IsNotFound reports the repo's not-found sentinel, also through gorm.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}
