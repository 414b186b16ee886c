// Package notify delivers best-effort workflow notifications. Callers log
// failures; a failed delivery never undoes a transition.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"drawdown/internal/domain"
)

const (
	KindReviewPool   = "report.review_pool"
	KindStatusChange = "report.status_changed"
)

type Notifier interface {
	NotifyReviewPool(ctx context.Context, reportID, ibpsNumber string) error
	NotifyActor(ctx context.Context, reportID, actorID string, status domain.Status, comments string) error
}

// Event is the wire form shared by every transport.
type Event struct {
	Kind       string        `json:"kind"`
	ReportID   string        `json:"report_id"`
	IBPSNumber string        `json:"ibps_number,omitempty"`
	ActorID    string        `json:"actor_id,omitempty"`
	Status     domain.Status `json:"status,omitempty"`
	Comments   string        `json:"comments,omitempty"`
	At         time.Time     `json:"at"`
}

func reviewPoolEvent(reportID, ibpsNumber string, now time.Time) Event {
	return Event{Kind: KindReviewPool, ReportID: reportID, IBPSNumber: ibpsNumber, Status: domain.StatusSubmitted, At: now.UTC()}
}

func actorEvent(reportID, actorID string, status domain.Status, comments string, now time.Time) Event {
	return Event{Kind: KindStatusChange, ReportID: reportID, ActorID: actorID, Status: status, Comments: comments, At: now.UTC()}
}

// Nop drops everything.
type Nop struct{}

func (Nop) NotifyReviewPool(context.Context, string, string) error { return nil }

func (Nop) NotifyActor(context.Context, string, string, domain.Status, string) error { return nil }

// Log writes notifications to a zap logger.
type Log struct {
	Logger *zap.Logger
}

func (l Log) NotifyReviewPool(_ context.Context, reportID, ibpsNumber string) error {
	l.Logger.Info("notify review pool", zap.String("report_id", reportID), zap.String("ibps_number", ibpsNumber))
	return nil
}

func (l Log) NotifyActor(_ context.Context, reportID, actorID string, status domain.Status, comments string) error {
	l.Logger.Info("notify actor",
		zap.String("report_id", reportID),
		zap.String("actor_id", actorID),
		zap.String("status", string(status)),
		zap.String("comments", comments))
	return nil
}

// Multi fans out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) NotifyReviewPool(ctx context.Context, reportID, ibpsNumber string) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyReviewPool(ctx, reportID, ibpsNumber); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyActor(ctx context.Context, reportID, actorID string, status domain.Status, comments string) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyActor(ctx, reportID, actorID, status, comments); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
