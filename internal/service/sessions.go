package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/conorfennell/knolroom/internal/domain"
	"github.com/conorfennell/knolroom/internal/errs"
	"github.com/conorfennell/knolroom/internal/room"
)

// SessionService defines group session membership operations. Each session
// lives in its own room holding exactly one record.
type SessionService interface {
	// CreateSession stores a new session with the host as first participant.
	CreateSession(ctx context.Context, in NewSession) (domain.Session, error)
	// JoinSession adds identity unless it is already a participant.
	JoinSession(ctx context.Context, sessionID, identity string) (domain.Session, error)
	// LeaveSession removes identity. The host never leaves.
	LeaveSession(ctx context.Context, sessionID, identity string) (domain.Session, error)
	// GetSession returns one session.
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	// ListSessions returns every session ordered by schedule, then creation.
	ListSessions(ctx context.Context) ([]domain.Session, error)
}

// NewSession is the caller-supplied part of a session.
type NewSession struct {
	Title           string     `json:"title" validate:"notblank"`
	Topic           string     `json:"topic" validate:"notblank"`
	Host            string     `json:"host" validate:"notblank"`
	Capacity        int        `json:"capacity" validate:"min=1"`
	ScheduledAt     *time.Time `json:"scheduledAt"`
	DurationMinutes int        `json:"durationMinutes" validate:"min=0"`
}

type SessionServiceImpl struct {
	rooms RoomStore[domain.Session]
	log   *zap.Logger
	now   func() time.Time
}

// NewSessionService constructs a SessionService.
func NewSessionService(rooms RoomStore[domain.Session], log *zap.Logger) *SessionServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionServiceImpl{rooms: rooms, log: log, now: time.Now}
}

func (s *SessionServiceImpl) CreateSession(ctx context.Context, in NewSession) (domain.Session, error) {
	if err := check(in); err != nil {
		return domain.Session{}, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return domain.Session{}, fmt.Errorf("generate session id: %w", err)
	}

	host := strings.TrimSpace(in.Host)
	sess := domain.Session{
		ID:              id.String(),
		Title:           strings.TrimSpace(in.Title),
		Topic:           strings.TrimSpace(in.Topic),
		Host:            host,
		Capacity:        in.Capacity,
		Participants:    []string{host},
		ScheduledAt:     in.ScheduledAt,
		DurationMinutes: in.DurationMinutes,
		CreatedAt:       s.now().UTC().Truncate(time.Millisecond),
	}
	_, err = s.rooms.Update(ctx, sess.ID, func(recs []domain.Session) ([]domain.Session, error) {
		if len(recs) > 0 {
			return nil, fmt.Errorf("session %s: %w", sess.ID, errs.ErrConflict)
		}
		return []domain.Session{sess}, nil
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	s.log.Info("session created", zap.String("session", sess.ID), zap.String("host", host), zap.Int("capacity", sess.Capacity))
	return sess, nil
}

func (s *SessionServiceImpl) JoinSession(ctx context.Context, sessionID, identity string) (domain.Session, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return domain.Session{}, errs.Validation("identity must not be empty")
	}
	return s.mutate(ctx, "join", sessionID, func(sess *domain.Session) error {
		if sess.HasParticipant(identity) {
			return room.ErrUnchanged
		}
		if sess.Full() {
			return fmt.Errorf("session %s holds %d: %w", sess.ID, sess.Capacity, errs.ErrCapacity)
		}
		sess.Participants = append(sess.Participants, identity)
		return nil
	})
}

func (s *SessionServiceImpl) LeaveSession(ctx context.Context, sessionID, identity string) (domain.Session, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return domain.Session{}, errs.Validation("identity must not be empty")
	}
	return s.mutate(ctx, "leave", sessionID, func(sess *domain.Session) error {
		i := slices.Index(sess.Participants, identity)
		if i < 0 || identity == sess.Host {
			return room.ErrUnchanged
		}
		sess.Participants = slices.Delete(sess.Participants, i, i+1)
		return nil
	})
}

func (s *SessionServiceImpl) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	sessionID, err := canonicalID(sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	recs, err := s.rooms.View(ctx, sessionID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	if len(recs) == 0 {
		return domain.Session{}, fmt.Errorf("session %s: %w", sessionID, errs.ErrNotFound)
	}
	return recs[0], nil
}

// ListSessions puts scheduled sessions first by start time. Unscheduled
// sessions follow, and ties are ordered by creation time.
func (s *SessionServiceImpl) ListSessions(ctx context.Context) ([]domain.Session, error) {
	ids, err := s.rooms.Rooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]domain.Session, 0, len(ids))
	for _, id := range ids {
		recs, err := s.rooms.View(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		if len(recs) > 0 {
			out = append(out, recs[0])
		}
	}
	slices.SortFunc(out, func(a, b domain.Session) int {
		switch {
		case a.ScheduledAt != nil && b.ScheduledAt != nil:
			if c := a.ScheduledAt.Compare(*b.ScheduledAt); c != 0 {
				return c
			}
		case a.ScheduledAt != nil:
			return -1
		case b.ScheduledAt != nil:
			return 1
		}
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	return out, nil
}

// mutate applies fn to the session inside its room. fn may return
// room.ErrUnchanged to leave the session as it is.
func (s *SessionServiceImpl) mutate(ctx context.Context, op, sessionID string, fn func(*domain.Session) error) (domain.Session, error) {
	sessionID, err := canonicalID(sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	recs, err := s.rooms.Update(ctx, sessionID, func(recs []domain.Session) ([]domain.Session, error) {
		if len(recs) == 0 {
			return nil, fmt.Errorf("session %s: %w", sessionID, errs.ErrNotFound)
		}
		sess := recs[0]
		sess.Participants = slices.Clone(sess.Participants)
		if err := fn(&sess); err != nil {
			return nil, err
		}
		return []domain.Session{sess}, nil
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("%s session: %w", op, err)
	}
	s.log.Debug("session updated", zap.String("op", op), zap.String("session", sessionID), zap.Int("participants", len(recs[0].Participants)))
	return recs[0], nil
}

// canonicalID rejects ids the service could never have issued, so lookups
// of arbitrary strings do not create rooms.
func canonicalID(id string) (string, error) {
	u, err := uuid.FromString(id)
	if err != nil {
		return "", fmt.Errorf("session %q: %w", id, errs.ErrNotFound)
	}
	return u.String(), nil
}
