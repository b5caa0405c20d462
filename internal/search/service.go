package search

import (
	"context"
	"strconv"

	"taskroom/api/internal/logging"
	"taskroom/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back
// to Postgres full-text search.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil when
// Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		logging.L().Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		logging.L().Error().Err(err).Msg("pgfts search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTask indexes a task, fire-and-forget.
func (s *Service) IndexTask(t TaskRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTask(t); err != nil {
			logging.L().Warn().Err(err).Str("taskId", t.ID).Msg("index task failed")
		}
	}()
}

// IndexNote indexes a note, fire-and-forget.
func (s *Service) IndexNote(n NoteRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexNote(n); err != nil {
			logging.L().Warn().Err(err).Str("noteId", n.ID).Msg("index note failed")
		}
	}()
}

// IndexMessage indexes a chat message, fire-and-forget.
func (s *Service) IndexMessage(m MessageRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexMessage(m); err != nil {
			logging.L().Warn().Err(err).Str("messageId", m.ID).Msg("index message failed")
		}
	}()
}

// DeleteTask removes a task from the index, fire-and-forget.
func (s *Service) DeleteTask(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTask(id); err != nil {
			logging.L().Warn().Err(err).Str("taskId", id).Msg("delete task from index failed")
		}
	}()
}

// DeleteNote removes a note from the index, fire-and-forget.
func (s *Service) DeleteNote(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteNote(id); err != nil {
			logging.L().Warn().Err(err).Str("noteId", id).Msg("delete note from index failed")
		}
	}()
}

// DeleteMessage removes a chat message from the index,
// fire-and-forget.
func (s *Service) DeleteMessage(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteMessage(id); err != nil {
			logging.L().Warn().Err(err).Str("messageId", id).Msg("delete message from index failed")
		}
	}()
}

// IndexChatMessage adapts a stored message row for the message index.
func (s *Service) IndexChatMessage(m store.ChatMessage) {
	s.IndexMessage(MessageRecord{
		ID:         strconv.FormatInt(m.ID, 10),
		Content:    m.Content,
		SenderName: m.SenderName,
		ProjectID:  m.ProjectID,
	})
}

// RemoveChatMessage drops a message row from the index.
func (s *Service) RemoveChatMessage(id int64) {
	s.DeleteMessage(strconv.FormatInt(id, 10))
}

// ReindexAllFromPG reads every searchable entity out of Postgres and
// pushes it into Meilisearch. Called at startup when Meilisearch is
// healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	tasks, notes, messages, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		logging.L().Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.meili.IndexTasks(tasks); err != nil {
		logging.L().Warn().Err(err).Msg("reindex tasks failed")
	}
	if err := s.meili.IndexNotes(notes); err != nil {
		logging.L().Warn().Err(err).Msg("reindex notes failed")
	}
	if err := s.meili.IndexMessages(messages); err != nil {
		logging.L().Warn().Err(err).Msg("reindex messages failed")
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
