// ABOUTME: Conversation relay: lifecycle, history accounting and client/bot delivery
// ABOUTME: History is the source of truth; activities are recorded before anything else happens

package conversation

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/directline-relay/internal/activity"
	"github.com/2389/directline-relay/internal/realtime"
	"github.com/2389/directline-relay/internal/store"
)

// DefaultExpiresIn is the advisory lifetime reported to clients.
const DefaultExpiresIn = 1800 * time.Second

// lockStripes is the number of per-conversation mutexes.
const lockStripes = 32

// ErrConversationNotFound is returned for operations on an unknown conversation.
var ErrConversationNotFound = errors.New("conversation not found")

// Config controls relay behavior.
type Config struct {
	// ServiceURL is stamped on client activities and prefixes stream URLs.
	ServiceURL string
	// ExpiresIn is reported to clients; eviction is the reaper's job.
	ExpiresIn time.Duration
	// Lenient creates unknown conversations on the first client activity.
	Lenient bool
}

// Info describes a live conversation to a client.
type Info struct {
	ConversationID string `json:"conversationId"`
	ExpiresIn      int    `json:"expiresIn"`
	StreamURL      string `json:"streamUrl"`
}

// ActivitySet is one page of history.
type ActivitySet struct {
	Activities []*activity.Activity `json:"activities"`
	Watermark  int                  `json:"watermark"`
}

// RelayResult is the outcome of relaying a client activity.
type RelayResult struct {
	// ID is the relay-assigned activity ID.
	ID string
	// Status is the bot's HTTP status, or 0 when the bot was not reached.
	Status int
	// InvokeResponse holds the bot's body for invoke activities.
	InvokeResponse []byte
	ContentType    string
}

// Service relays activities between clients and the bot. All conversation
// state lives in the store; the registry only holds stream subscribers.
type Service struct {
	store    store.Store
	registry *realtime.Registry
	bot      BotClient
	stamper  *activity.Stamper
	cfg      Config
	logger   *slog.Logger

	// Serializes read-modify-write of one conversation record.
	locks [lockStripes]sync.Mutex
}

// New creates a relay service.
func New(st store.Store, registry *realtime.Registry, bot BotClient, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ExpiresIn <= 0 {
		cfg.ExpiresIn = DefaultExpiresIn
	}
	return &Service{
		store:    st,
		registry: registry,
		bot:      bot,
		stamper:  activity.NewStamper(cfg.ServiceURL),
		cfg:      cfg,
		logger:   logger.With("component", "conversation"),
	}
}

func (s *Service) lockFor(conversationID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(conversationID))
	return &s.locks[h.Sum32()%lockStripes]
}

func (s *Service) info(conversationID string) *Info {
	return &Info{
		ConversationID: conversationID,
		ExpiresIn:      int(s.cfg.ExpiresIn / time.Second),
		StreamURL:      s.cfg.ServiceURL + "/directline/stream?id=" + conversationID,
	}
}

// CreateConversation starts a new conversation and announces it to the bot
// with a conversationUpdate. If the bot cannot be reached the conversation
// is rolled back. A non-2xx answer keeps the conversation and is returned
// as a *BotRejectedError alongside the info.
func (s *Service) CreateConversation(ctx context.Context) (*Info, error) {
	return s.StartConversation(ctx, uuid.New().String())
}

// StartConversation is CreateConversation with a caller-chosen ID, used when
// a token was minted for a conversation before it started. A conversation
// that already exists is returned as-is and not announced again.
func (s *Service) StartConversation(ctx context.Context, conversationID string) (*Info, error) {
	created, err := s.initConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !created {
		return s.info(conversationID), nil
	}

	s.logger.Info("conversation created", "conversation_id", conversationID)

	// The bot may call back into this conversation before it answers, so
	// no lock is held here.
	update := s.stamper.ConversationUpdate(conversationID)
	resp, err := s.bot.Send(ctx, update)
	if err != nil {
		s.rollback(conversationID)
		return nil, fmt.Errorf("announcing conversation %s: %w", conversationID, err)
	}

	info := s.info(conversationID)
	if !resp.OK() {
		s.logger.Warn("bot rejected conversationUpdate",
			"conversation_id", conversationID,
			"status", resp.Status)
		return info, &BotRejectedError{Status: resp.Status}
	}
	return info, nil
}

// initConversation persists an empty conversation and opens its channel.
// It reports false when the conversation already existed.
func (s *Service) initConversation(ctx context.Context, conversationID string) (bool, error) {
	mu := s.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("loading conversation: %w", err)
	}
	if existing.Exists() {
		s.registry.Open(conversationID)
		return false, nil
	}

	s.registry.Open(conversationID)
	conv := store.Conversation{ConversationID: conversationID, History: []*activity.Activity{}}
	if err := s.store.SetConversation(ctx, conversationID, conv); err != nil {
		s.registry.Close(conversationID)
		return false, fmt.Errorf("saving conversation: %w", err)
	}
	return true, nil
}

// rollback undoes a creation whose announcement never reached the bot.
func (s *Service) rollback(conversationID string) {
	// The caller's context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
		s.logger.Error("rolling back conversation", "conversation_id", conversationID, "error", err)
	}
	s.registry.Close(conversationID)
}

// GetConversation returns connection info for an existing conversation.
func (s *Service) GetConversation(ctx context.Context, conversationID string) (*Info, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	if !conv.Exists() {
		return nil, ErrConversationNotFound
	}
	return s.info(conversationID), nil
}

// GetActivitiesSince returns history[watermark:] and the new watermark.
// Repeating a call with no intervening writes returns an empty page and
// the same watermark.
func (s *Service) GetActivitiesSince(ctx context.Context, conversationID string, watermark int) (*ActivitySet, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	if !conv.Exists() {
		return nil, ErrConversationNotFound
	}

	if watermark < 0 {
		watermark = 0
	}
	if watermark >= len(conv.History) {
		return &ActivitySet{Activities: []*activity.Activity{}, Watermark: watermark}, nil
	}

	page := conv.History[watermark:]
	return &ActivitySet{Activities: page, Watermark: watermark + len(page)}, nil
}

// RelayClientActivity records a client activity and forwards it to the bot.
//
// The activity is appended and broadcast before the bot is contacted, so it
// stays in history even when the bot fails. The result carries the bot's
// status; a non-2xx status is also returned as *BotRejectedError and a
// transport failure as ErrBotUnreachable.
func (s *Service) RelayClientActivity(ctx context.Context, conversationID string, in *activity.Activity) (*RelayResult, error) {
	stamped := s.stamper.StampClient(in, conversationID)

	if err := s.append(ctx, conversationID, stamped, s.cfg.Lenient); err != nil {
		return nil, err
	}

	s.logger.Debug("client activity recorded",
		"conversation_id", conversationID,
		"activity_id", stamped.ID,
		"type", stamped.Type)

	result := &RelayResult{ID: stamped.ID}
	resp, err := s.bot.Send(ctx, stamped)
	if err != nil {
		return result, err
	}

	result.Status = resp.Status
	if stamped.Type == activity.TypeInvoke {
		result.InvokeResponse = resp.Body
		result.ContentType = resp.ContentType
	}
	if !resp.OK() {
		return result, &BotRejectedError{Status: resp.Status}
	}
	return result, nil
}

// RelayBotActivity records an activity sent by the bot and broadcasts it to
// stream subscribers. It returns the stamped activity.
func (s *Service) RelayBotActivity(ctx context.Context, conversationID string, in *activity.Activity) (*activity.Activity, error) {
	stamped := s.stamper.StampBot(in, activity.BotAccount)

	if err := s.append(ctx, conversationID, stamped, false); err != nil {
		return nil, err
	}

	s.logger.Debug("bot activity recorded",
		"conversation_id", conversationID,
		"activity_id", stamped.ID,
		"type", stamped.Type)
	return stamped, nil
}

// append adds a to the conversation's history, persists it and publishes it.
// With create set an unknown conversation is started on the fly.
func (s *Service) append(ctx context.Context, conversationID string, a *activity.Activity, create bool) error {
	mu := s.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}
	if !conv.Exists() {
		if !create {
			return ErrConversationNotFound
		}
		conv = store.Conversation{ConversationID: conversationID}
		s.registry.Open(conversationID)
		s.logger.Info("conversation created on first activity", "conversation_id", conversationID)
	}

	conv.History = append(conv.History, a)
	if err := s.store.SetConversation(ctx, conversationID, conv); err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}

	// Under the lock so stream order matches history order.
	s.registry.Publish(conversationID, a)
	return nil
}

// DeleteConversation removes a conversation and ends its stream subscriptions.
func (s *Service) DeleteConversation(ctx context.Context, conversationID string) error {
	mu := s.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}
	if !conv.Exists() {
		return ErrConversationNotFound
	}
	if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	s.registry.Close(conversationID)

	s.logger.Info("conversation deleted", "conversation_id", conversationID)
	return nil
}

// Subscribe attaches a stream subscriber to a conversation. A conversation
// that exists in the store without a channel (after a restart on a durable
// store) gets its channel reopened; an unknown one is rejected.
func (s *Service) Subscribe(ctx context.Context, conversationID string) (<-chan *activity.Activity, string, error) {
	if !s.registry.IsOpen(conversationID) {
		conv, err := s.store.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, "", fmt.Errorf("loading conversation: %w", err)
		}
		if !conv.Exists() {
			return nil, "", ErrConversationNotFound
		}
		if s.registry.Open(conversationID) {
			s.logger.Info("stream channel reopened", "conversation_id", conversationID)
		}
	}

	ch, subID, err := s.registry.Subscribe(ctx, conversationID)
	if errors.Is(err, realtime.ErrChannelNotOpen) {
		// Evicted between the check and the subscribe.
		return nil, "", ErrConversationNotFound
	}
	return ch, subID, err
}

// Unsubscribe detaches a stream subscriber.
func (s *Service) Unsubscribe(conversationID, subID string) {
	s.registry.Unsubscribe(conversationID, subID)
}
