package game

import "econfair/internal/model"

type BoothInput struct {
	UserID         string
	Booth          model.Booth
	Amount         int64
	IdempotencyKey string
}

type BoothResult struct {
	TxID    string      `json:"txId"`
	Booth   model.Booth `json:"booth"`
	Amount  int64       `json:"amount"`
	Balance int64       `json:"balance"`
}

type TradeInput struct {
	UserID         string
	Asset          string
	IdempotencyKey string
}

type TradeResult struct {
	TxID    string `json:"txId"`
	Asset   string `json:"asset"`
	Price   int64  `json:"price"`
	Holding int    `json:"holding"`
	Balance int64  `json:"balance"`
}

type ProductInput struct {
	UserID         string
	Type           model.ProductType
	Principal      int64
	IdempotencyKey string
}

type SettleInput struct {
	UserID         string
	ProductID      string
	IdempotencyKey string
}

type ProductResult struct {
	TxID     string             `json:"txId"`
	Product  model.BankProduct  `json:"product"`
	State    model.ProductState `json:"state"`
	Credited int64              `json:"credited"`
	Balance  int64              `json:"balance"`
}

type QuestInput struct {
	UserID         string
	Answers        []string
	IdempotencyKey string
}

type QuestResult struct {
	TxID    string `json:"txId"`
	Correct []bool `json:"correct"`
	Reward  int64  `json:"reward"`
	Balance int64  `json:"balance"`
}

type Quote struct {
	Asset string `json:"asset"`
	Price int64  `json:"price"`
	// Owner is set for owned real estate only.
	Owner *string `json:"owner,omitempty"`
}

type PriceBoard struct {
	SessionID    string            `json:"sessionId"`
	RoundStatus  model.RoundStatus `json:"roundStatus"`
	Step         int               `json:"step"`
	StepCount    int               `json:"stepCount"`
	RemainingSec int64             `json:"remainingSec"`
	Stocks       []Quote           `json:"stocks"`
	RealEstate   []Quote           `json:"realEstate"`
}

type SweepReport struct {
	SessionID    string `json:"sessionId"`
	Participants int    `json:"participants"`
	Withdrawn    int    `json:"withdrawn"`
	Credited     int64  `json:"credited"`
}
