package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/ledger"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/model"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/domain/workflow"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/events"
	"github.com/mohanmorkel7/glow-den21-sub001/internal/repository"
)

// Decision - решение проверяющего.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ReviewInput - параметры проверки заявки.
type ReviewInput struct {
	Decision Decision
	Notes    *string
	// AllowRework - при отклонении диапазон остаётся у работника
	AllowRework bool
}

// VerificationGate - проверка отправленных результатов.
type VerificationGate struct {
	transitions
}

// NewVerificationGate создаёт VerificationGate.
func NewVerificationGate(store repository.Store, publisher EventPublisher, logger *slog.Logger) *VerificationGate {
	logger = logger.With(slog.String("component", "verification_gate"))
	return &VerificationGate{
		transitions: transitions{
			store:  store,
			notify: notifier{publisher: publisher, logger: logger},
			logger: logger,
		},
	}
}

// Review принимает или отклоняет заявку в статусе pending_verification.
//
// Повторное одобрение проверенной заявки возвращает её без изменений.
// Проверять собственную работу нельзя.
func (g *VerificationGate) Review(ctx context.Context, actor model.Actor, id string, in ReviewInput) (*model.FileRequest, error) {
	if err := requireManager(actor, "проверка заявки"); err != nil {
		return nil, err
	}

	var st step
	notes := trimmed(in.Notes)
	switch in.Decision {
	case DecisionApprove:
		st = step{
			action: workflow.ActApprove,
			event:  events.RequestVerified,
			noop: func(req *model.FileRequest) bool {
				return req.Status == model.RequestVerified
			},
			apply: func(ctx context.Context, r *repository.Repositories, p *model.FileProcess,
				req *model.FileRequest, now time.Time) ([]events.Event, error) {
				rng, ok := req.Range()
				if !ok {
					return nil, fmt.Errorf("заявка %s не удерживает диапазон", req.ID)
				}
				ledger.Commit(p, rng.Len())
				if err := ledger.Check(p); err != nil {
					return nil, err
				}
				markReviewed(req, actor, notes, now)
				return nil, r.Processes.Update(ctx, p)
			},
		}
	case DecisionReject:
		if notes == nil {
			return nil, fmt.Errorf("%w: при отклонении необходим комментарий", ErrValidation)
		}
		st = step{
			action: workflow.ActReject,
			event:  events.RequestRejected,
			apply: func(ctx context.Context, r *repository.Repositories, p *model.FileProcess,
				req *model.FileRequest, now time.Time) ([]events.Event, error) {
				markReviewed(req, actor, notes, now)
				if in.AllowRework {
					req.ReworkAllowed = true
					return nil, nil
				}
				evs, err := releaseRange(ctx, r, p, req, actor.Username)
				if err != nil {
					return nil, err
				}
				req.ReworkAllowed = false
				req.RangeReleased = true
				return evs, nil
			},
		}
	default:
		return nil, fmt.Errorf("%w: решение должно быть approve или reject, получено %q", ErrValidation, in.Decision)
	}

	st.guard = func(req *model.FileRequest) error {
		if actor.UserID == req.UserID {
			return &ForbiddenError{Role: actor.Role, Required: requiredOther, Reason: "проверка собственной работы"}
		}
		return nil
	}
	st.notes = func() *string { return notes }

	req, noop, err := g.run(ctx, actor, id, st)
	if err != nil {
		return nil, err
	}
	if noop {
		g.logger.Info("Повторное одобрение проверенной заявки - без изменений",
			slog.String("id", req.ID),
			slog.String("actor", actor.Username),
		)
		return req, nil
	}

	reviewsTotal.WithLabelValues(reviewLabel(in, req)).Inc()
	return req, nil
}

// ParseDecision преобразует строку в Decision.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case DecisionApprove, DecisionReject:
		return d, nil
	default:
		return "", fmt.Errorf("%w: недопустимое решение %q, допустимые: approve, reject", ErrValidation, s)
	}
}

func markReviewed(req *model.FileRequest, actor model.Actor, notes *string, now time.Time) {
	by := actor.Username
	req.ReviewedBy = &by
	req.ReviewedAt = &now
	req.ReviewNotes = notes
}

// reviewLabel - метка метрики: approve, reject_rework, reject_release.
func reviewLabel(in ReviewInput, req *model.FileRequest) string {
	switch {
	case in.Decision == DecisionApprove:
		return "approve"
	case req.RangeReleased:
		return "reject_release"
	default:
		return "reject_rework"
	}
}
