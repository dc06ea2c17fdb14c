package game

import (
	"context"
	"strings"

	"econfair/internal/ledger"
	"econfair/internal/model"
)

// SubmitQuest grades and pays the quiz once per participant and session.
func (s *Service) SubmitQuest(ctx context.Context, in QuestInput) (QuestResult, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return QuestResult{}, model.Validation("user id is required")
	}
	q := s.tuning.Quest
	if len(in.Answers) != len(q.Answers) {
		return QuestResult{}, model.Validation("exactly %d answers are required", len(q.Answers))
	}
	sess, err := s.runningSession(ctx)
	if err != nil {
		return QuestResult{}, err
	}
	answers := append([]string(nil), in.Answers...)
	correct, reward := gradeQuest(answers, q.Answers, q.Rewards)

	rc, err := s.ledger.Apply(ctx, sess.ID, in.UserID, func(p *model.Participant) (ledger.Effect, error) {
		if p.QuestSolved {
			return ledger.Effect{}, model.ErrAlreadySolved
		}
		p.Balance += reward
		p.QuestAnswers = append([]string(nil), answers...)
		p.QuestSolved = true
		return ledger.Effect{Kind: ledger.KindQuestReward, Booth: model.BoothQuest, Amount: reward}, nil
	}, idem(in.IdempotencyKey)...)
	if err != nil {
		return QuestResult{}, err
	}
	return QuestResult{TxID: rc.TxID, Correct: correct, Reward: reward, Balance: rc.Participant.Balance}, nil
}
