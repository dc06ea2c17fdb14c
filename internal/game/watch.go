package game

import (
	"context"
	"encoding/json"

	"econfair/internal/docstore"
	"econfair/internal/model"
)

// WatchSession streams the session document. The stream ends when ctx is
// done; cancelling it has no effect on stored state.
func (s *Service) WatchSession(ctx context.Context, id string) (<-chan model.Session, error) {
	return watchDoc[model.Session](ctx, s, model.SessionKey(id))
}

func (s *Service) WatchParticipant(ctx context.Context, sessionID, userID string) (<-chan model.Participant, error) {
	return watchDoc[model.Participant](ctx, s, model.ParticipantKey(sessionID, userID))
}

func watchDoc[T any](ctx context.Context, s *Service, key string) (<-chan T, error) {
	docs, err := s.store.Watch(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make(chan T, 1)
	go func() {
		defer close(out)
		for d := range docs {
			v, ok := decodeDoc[T](s, d)
			if !ok {
				continue
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func decodeDoc[T any](s *Service, d docstore.Doc) (T, bool) {
	var v T
	if err := json.Unmarshal(d.Data, &v); err != nil {
		s.log.Warn("skip undecodable document", "key", d.Key, "version", d.Version, "err", err)
		return v, false
	}
	return v, true
}
