// Package service implements the flashcard and group session operations on
// top of the room registry. Every mutation of a room happens inside a single
// registry update, so concurrent callers never lose each other's writes.
package service

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conorfennell/knolroom/internal/domain"
	"github.com/conorfennell/knolroom/internal/errs"
	"github.com/conorfennell/knolroom/internal/knol"
	"github.com/conorfennell/knolroom/internal/room"
	"github.com/conorfennell/knolroom/internal/srs"
)

// RoomStore is the part of room.Registry the services depend on.
type RoomStore[T any] interface {
	View(ctx context.Context, roomID string) ([]T, error)
	Update(ctx context.Context, roomID string, fn func([]T) ([]T, error)) ([]T, error)
	Rooms(ctx context.Context) ([]string, error)
}

var _ RoomStore[domain.Flashcard] = (*room.Registry[domain.Flashcard])(nil)

// FlashcardService defines operations over the flashcards of a room.
type FlashcardService interface {
	// ListCards returns the room's cards in insertion order.
	ListCards(ctx context.Context, roomID string) ([]domain.Flashcard, error)
	// AddCard validates and appends one card.
	AddCard(ctx context.Context, roomID string, in NewCard) (domain.Flashcard, error)
	// AddCards appends a batch of cards. Either all are added or none.
	AddCards(ctx context.Context, roomID string, in []NewCard) ([]domain.Flashcard, error)
	// MergeCards appends the cards whose content is not yet in the room.
	MergeCards(ctx context.Context, roomID string, in []NewCard) (MergeResult, error)
	// ReviewCard records a review and schedules the next one.
	ReviewCard(ctx context.Context, roomID, cardID string, rating srs.Rating) (domain.Flashcard, error)
	// DueCards returns the cards due at now in review order.
	DueCards(ctx context.Context, roomID string, now time.Time) ([]domain.Flashcard, error)
}

// NewCard is the caller-supplied part of a flashcard.
type NewCard struct {
	Question   string            `json:"question" validate:"notblank"`
	Answer     string            `json:"answer" validate:"notblank"`
	Tags       []string          `json:"tags"`
	Difficulty domain.Difficulty `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
}

// MergeResult reports what MergeCards did.
type MergeResult struct {
	Added   []domain.Flashcard
	Skipped int
}

type FlashcardServiceImpl struct {
	rooms  RoomStore[domain.Flashcard]
	params *srs.Params
	log    *zap.Logger
	now    func() time.Time
}

// NewFlashcardService constructs a FlashcardService. A nil params uses
// srs.DefaultParams.
func NewFlashcardService(rooms RoomStore[domain.Flashcard], params *srs.Params, log *zap.Logger) *FlashcardServiceImpl {
	if params == nil {
		params = srs.DefaultParams()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FlashcardServiceImpl{rooms: rooms, params: params, log: log, now: time.Now}
}

func (s *FlashcardServiceImpl) ListCards(ctx context.Context, roomID string) ([]domain.Flashcard, error) {
	cards, err := s.rooms.View(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list cards in room %s: %w", roomID, err)
	}
	return cards, nil
}

func (s *FlashcardServiceImpl) AddCard(ctx context.Context, roomID string, in NewCard) (domain.Flashcard, error) {
	added, err := s.AddCards(ctx, roomID, []NewCard{in})
	if err != nil {
		return domain.Flashcard{}, err
	}
	return added[0], nil
}

// AddCards validates every card before the room is touched.
func (s *FlashcardServiceImpl) AddCards(ctx context.Context, roomID string, in []NewCard) ([]domain.Flashcard, error) {
	prepared, err := prepare(in)
	if err != nil {
		return nil, err
	}
	if len(prepared) == 0 {
		return []domain.Flashcard{}, nil
	}

	var added []domain.Flashcard
	_, err = s.rooms.Update(ctx, roomID, func(cards []domain.Flashcard) ([]domain.Flashcard, error) {
		cards, added = s.appendCards(roomID, cards, prepared)
		return cards, nil
	})
	if err != nil {
		return nil, fmt.Errorf("add cards to room %s: %w", roomID, err)
	}
	s.log.Info("cards added", zap.String("room", roomID), zap.Int("count", len(added)))
	return added, nil
}

// MergeCards skips any card whose question and answer hash matches a card
// already in the room or earlier in the batch. The comparison and the append
// happen in the same critical section.
func (s *FlashcardServiceImpl) MergeCards(ctx context.Context, roomID string, in []NewCard) (MergeResult, error) {
	prepared, err := prepare(in)
	if err != nil {
		return MergeResult{}, err
	}

	var res MergeResult
	_, err = s.rooms.Update(ctx, roomID, func(cards []domain.Flashcard) ([]domain.Flashcard, error) {
		seen := make(map[string]struct{}, len(cards)+len(prepared))
		for _, c := range cards {
			seen[knol.Hash(c.Question, c.Answer)] = struct{}{}
		}
		fresh := make([]NewCard, 0, len(prepared))
		for _, nc := range prepared {
			h := knol.Hash(nc.Question, nc.Answer)
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			fresh = append(fresh, nc)
		}

		res = MergeResult{Skipped: len(prepared) - len(fresh)}
		if len(fresh) == 0 {
			res.Added = []domain.Flashcard{}
			return nil, room.ErrUnchanged
		}
		cards, res.Added = s.appendCards(roomID, cards, fresh)
		return cards, nil
	})
	if err != nil {
		return MergeResult{}, fmt.Errorf("merge cards into room %s: %w", roomID, err)
	}
	return res, nil
}

func (s *FlashcardServiceImpl) ReviewCard(ctx context.Context, roomID, cardID string, rating srs.Rating) (domain.Flashcard, error) {
	if !rating.Valid() {
		return domain.Flashcard{}, errs.Validation("unknown outcome %s", rating)
	}
	if cardID == "" {
		return domain.Flashcard{}, errs.Validation("empty card id")
	}

	var reviewed domain.Flashcard
	_, err := s.rooms.Update(ctx, roomID, func(cards []domain.Flashcard) ([]domain.Flashcard, error) {
		i := slices.IndexFunc(cards, func(c domain.Flashcard) bool { return c.ID == cardID })
		if i < 0 {
			return nil, fmt.Errorf("card %s: %w", cardID, errs.ErrNotFound)
		}
		cards[i] = s.schedule(cards[i], rating)
		reviewed = cards[i]
		return cards, nil
	})
	if err != nil {
		return domain.Flashcard{}, fmt.Errorf("review card in room %s: %w", roomID, err)
	}
	s.log.Debug("card reviewed",
		zap.String("room", roomID),
		zap.String("card", cardID),
		zap.Stringer("rating", rating),
		zap.Timep("next", reviewed.NextReviewDate),
	)
	return reviewed, nil
}

// DueCards puts never reviewed cards first, then the rest by due date.
// Ties keep insertion order.
func (s *FlashcardServiceImpl) DueCards(ctx context.Context, roomID string, now time.Time) ([]domain.Flashcard, error) {
	cards, err := s.ListCards(ctx, roomID)
	if err != nil {
		return nil, err
	}
	due := slices.DeleteFunc(cards, func(c domain.Flashcard) bool { return !c.DueAt(now) })
	slices.SortStableFunc(due, func(a, b domain.Flashcard) int {
		switch {
		case !a.Reviewed() && !b.Reviewed():
			return 0
		case !a.Reviewed():
			return -1
		case !b.Reviewed():
			return 1
		}
		return a.NextReviewDate.Compare(*b.NextReviewDate)
	})
	return due, nil
}

func (s *FlashcardServiceImpl) schedule(c domain.Flashcard, rating srs.Rating) domain.Flashcard {
	reviewed := c.Reviewed()
	interval := s.params.NextInterval(c.Interval(), reviewed, rating)
	if srs.Demotes(reviewed, rating) {
		c.Difficulty = c.Difficulty.Harder()
	}
	now := s.clock()
	next := now.Add(interval)
	c.LastReviewed = &now
	c.NextReviewDate = &next
	return c
}

func (s *FlashcardServiceImpl) appendCards(roomID string, cards []domain.Flashcard, in []NewCard) ([]domain.Flashcard, []domain.Flashcard) {
	prefix := "room_" + roomID + "_"
	n := lastCounter(prefix, cards)
	now := s.clock()

	added := make([]domain.Flashcard, 0, len(in))
	for _, nc := range in {
		n++
		added = append(added, domain.Flashcard{
			ID:         prefix + strconv.FormatUint(n, 10),
			Question:   nc.Question,
			Answer:     nc.Answer,
			Tags:       nc.Tags,
			Difficulty: nc.Difficulty,
			CreatedAt:  now,
		})
	}
	return append(cards, added...), added
}

// clock is the service time at the precision persisted rooms use.
func (s *FlashcardServiceImpl) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// lastCounter returns the largest numeric suffix among ids with prefix.
func lastCounter(prefix string, cards []domain.Flashcard) uint64 {
	var last uint64
	for _, c := range cards {
		suffix, ok := strings.CutPrefix(c.ID, prefix)
		if !ok {
			continue
		}
		if n, err := strconv.ParseUint(suffix, 10, 64); err == nil && n > last {
			last = n
		}
	}
	return last
}

// prepare validates and normalizes a batch. Nothing is returned unless every
// card is valid.
func prepare(in []NewCard) ([]NewCard, error) {
	out := make([]NewCard, 0, len(in))
	for i, nc := range in {
		if err := check(nc); err != nil {
			if len(in) > 1 {
				return nil, fmt.Errorf("card %d: %w", i, err)
			}
			return nil, err
		}
		nc.Question = strings.TrimSpace(nc.Question)
		nc.Answer = strings.TrimSpace(nc.Answer)
		nc.Tags = cleanTags(nc.Tags)
		if nc.Difficulty == "" {
			nc.Difficulty = domain.DifficultyEasy
		}
		out = append(out, nc)
	}
	return out, nil
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
