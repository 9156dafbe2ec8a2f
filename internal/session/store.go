package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fok-catalog/go-backend/internal/securestore"
	"fok-catalog/go-backend/pkg/models"
)

const keyPrefix = "session:"

// ErrMiss is returned by KV implementations for absent keys.
var ErrMiss = errors.New("session: key not found")

// KV is the storage port. Keys expire server-side; the store never scans.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Store keeps conversation sessions in a shared KV with a sliding TTL.
// Every Save rewrites the blob and restarts the clock; reads never extend
// it. With a configured secret the scratch payload is sealed at rest.
type Store struct {
	kv     KV
	ttl    time.Duration
	secret string
}

func NewStore(kv KV, ttl time.Duration, secret string) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{kv: kv, ttl: ttl, secret: secret}
}

// Load fetches the session. ok is false when no live session exists; a
// blob that fails to decode or decrypt counts as absent and is dropped, so
// a secret rotation degrades to a restarted dialog instead of an outage.
func (s *Store) Load(ctx context.Context, telegramID int64) (models.ConversationSession, bool, error) {
	raw, err := s.kv.Get(ctx, sessionKey(telegramID))
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return models.ConversationSession{}, false, nil
		}
		return models.ConversationSession{}, false, fmt.Errorf("load session: %w", err)
	}

	payload := raw
	if securestore.IsConfigured(s.secret) {
		payload, err = securestore.Decrypt(s.secret, raw)
		if err != nil {
			if errors.Is(err, securestore.ErrLegacyData) {
				payload = raw
			} else {
				_ = s.kv.Del(ctx, sessionKey(telegramID))
				return models.ConversationSession{}, false, nil
			}
		}
	}

	var sess models.ConversationSession
	if err := json.Unmarshal(payload, &sess); err != nil {
		_ = s.kv.Del(ctx, sessionKey(telegramID))
		return models.ConversationSession{}, false, nil
	}
	// Lazy expiry guard. The KV's own TTL normally purges idle sessions;
	// this catches blobs that outlived it (TTL lost on migration, clock
	// skew) so a stale dialog restarts instead of resuming.
	if !sess.UpdatedAt.IsZero() && time.Since(sess.UpdatedAt) > s.ttl {
		_ = s.kv.Del(ctx, sessionKey(telegramID))
		return models.ConversationSession{}, false, nil
	}
	return sess, true, nil
}

func (s *Store) Save(ctx context.Context, sess models.ConversationSession) error {
	sess.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if securestore.IsConfigured(s.secret) {
		payload, err = securestore.Encrypt(s.secret, payload)
		if err != nil {
			return fmt.Errorf("seal session: %w", err)
		}
	}
	if err := s.kv.SetWithTTL(ctx, sessionKey(sess.TelegramID), payload, s.ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, telegramID int64) error {
	if err := s.kv.Del(ctx, sessionKey(telegramID)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func sessionKey(telegramID int64) string {
	return keyPrefix + strconv.FormatInt(telegramID, 10)
}
