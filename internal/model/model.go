// Package model holds the persisted documents of a fair session and the
// error taxonomy shared by the ledger and the game services.
package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type SessionStatus string

const (
	SessionOpen   SessionStatus = "OPEN"
	SessionClosed SessionStatus = "CLOSED"
)

type RoundStatus string

const (
	RoundReady   RoundStatus = "READY"
	RoundRunning RoundStatus = "RUNNING"
	RoundEnded   RoundStatus = "ENDED"
)

type ProductType string

const (
	ProductShort ProductType = "SHORT"
	ProductMid   ProductType = "MID"
	ProductLong  ProductType = "LONG"
)

func ParseProductType(v string) (ProductType, error) {
	switch ProductType(strings.ToUpper(strings.TrimSpace(v))) {
	case ProductShort:
		return ProductShort, nil
	case ProductMid:
		return ProductMid, nil
	case ProductLong:
		return ProductLong, nil
	default:
		return "", Validation("unknown product type %q", v)
	}
}

type ProductState string

const (
	ProductActive    ProductState = "ACTIVE"
	ProductCanceled  ProductState = "CANCELED"
	ProductWithdrawn ProductState = "WITHDRAWN"
)

// Booth is an activity category a participant earns or spends through.
type Booth string

const (
	BoothLabor      Booth = "LABOR"
	BoothBank       Booth = "BANK"
	BoothStock      Booth = "STOCK"
	BoothRealEstate Booth = "REAL_ESTATE"
	BoothQuest      Booth = "QUEST"
	BoothLuck       Booth = "LUCK"
	BoothGroup      Booth = "GROUP"
)

func ParseBooth(v string) (Booth, error) {
	switch Booth(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(v), "-", "_"))) {
	case BoothLabor:
		return BoothLabor, nil
	case BoothBank:
		return BoothBank, nil
	case BoothStock:
		return BoothStock, nil
	case BoothRealEstate, "REALESTATE":
		return BoothRealEstate, nil
	case BoothQuest:
		return BoothQuest, nil
	case BoothLuck:
		return BoothLuck, nil
	case BoothGroup:
		return BoothGroup, nil
	default:
		return "", Validation("unknown booth %q", v)
	}
}

// Simple reports whether the booth credits a free amount with no other rules.
func (b Booth) Simple() bool {
	switch b {
	case BoothLabor, BoothLuck, BoothGroup:
		return true
	default:
		return false
	}
}

type AssetScenario struct {
	Name   string  `json:"name"`
	Prices []int64 `json:"prices"`
}

type Session struct {
	ID                 string             `json:"id"`
	Status             SessionStatus      `json:"status"`
	RoundStatus        RoundStatus        `json:"roundStatus"`
	RoundDurationSec   int64              `json:"roundDurationSec"`
	RoundEndsAt        *time.Time         `json:"roundEndsAt"`
	StockScenario      []AssetScenario    `json:"stockScenario"`
	RealEstateScenario []AssetScenario    `json:"realEstateScenario"`
	RealEstateOwners   map[string]*string `json:"realEstateOwners"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// NewSession builds a READY session with an unowned entry for every real
// estate asset.
func NewSession(id string, durationSec int64, stock, estate []AssetScenario, now time.Time) Session {
	s := Session{
		ID:                 id,
		Status:             SessionOpen,
		RoundStatus:        RoundReady,
		RoundDurationSec:   durationSec,
		StockScenario:      stock,
		RealEstateScenario: estate,
		UpdatedAt:          now.UTC(),
	}
	s.ResetOwners()
	return s
}

// ResetOwners re-keys the ownership map by the current real estate scenario.
func (s *Session) ResetOwners() {
	s.RealEstateOwners = make(map[string]*string, len(s.RealEstateScenario))
	for _, a := range s.RealEstateScenario {
		s.RealEstateOwners[a.Name] = nil
	}
}

func (s Session) Owner(asset string) (string, bool) {
	p := s.RealEstateOwners[asset]
	if p == nil {
		return "", false
	}
	return *p, true
}

func (s *Session) SetOwner(asset, participantID string) {
	if s.RealEstateOwners == nil {
		s.RealEstateOwners = map[string]*string{}
	}
	id := participantID
	s.RealEstateOwners[asset] = &id
}

func (s *Session) ClearOwner(asset string) {
	if s.RealEstateOwners == nil {
		s.RealEstateOwners = map[string]*string{}
	}
	s.RealEstateOwners[asset] = nil
}

func (s Session) StockAsset(name string) (AssetScenario, bool) {
	return findAsset(s.StockScenario, name)
}

func (s Session) RealEstateAsset(name string) (AssetScenario, bool) {
	return findAsset(s.RealEstateScenario, name)
}

func findAsset(list []AssetScenario, name string) (AssetScenario, bool) {
	for _, a := range list {
		if a.Name == name {
			return a, true
		}
	}
	return AssetScenario{}, false
}

// Clone returns a copy that shares no maps, slices or pointers with s.
func (s Session) Clone() Session {
	out := s
	if s.RoundEndsAt != nil {
		t := *s.RoundEndsAt
		out.RoundEndsAt = &t
	}
	out.StockScenario = cloneScenario(s.StockScenario)
	out.RealEstateScenario = cloneScenario(s.RealEstateScenario)
	if s.RealEstateOwners != nil {
		out.RealEstateOwners = make(map[string]*string, len(s.RealEstateOwners))
		for k, v := range s.RealEstateOwners {
			if v == nil {
				out.RealEstateOwners[k] = nil
				continue
			}
			id := *v
			out.RealEstateOwners[k] = &id
		}
	}
	return out
}

func cloneScenario(in []AssetScenario) []AssetScenario {
	if in == nil {
		return nil
	}
	out := make([]AssetScenario, len(in))
	for i, a := range in {
		out[i] = AssetScenario{Name: a.Name, Prices: append([]int64(nil), a.Prices...)}
	}
	return out
}

type BankProduct struct {
	ID         string          `json:"id"`
	Type       ProductType     `json:"type"`
	Principal  int64           `json:"principal"`
	Multiplier decimal.Decimal `json:"multiplier"`
	StartedAt  time.Time       `json:"startedAt"`
	MatureAt   time.Time       `json:"matureAt"`
	Canceled   bool            `json:"canceled"`
	Withdrawn  bool            `json:"withdrawn"`
}

func (p BankProduct) State() ProductState {
	switch {
	case p.Canceled:
		return ProductCanceled
	case p.Withdrawn:
		return ProductWithdrawn
	default:
		return ProductActive
	}
}

func (p BankProduct) Matured(now time.Time) bool {
	return !now.Before(p.MatureAt)
}

type Participant struct {
	ID                 string          `json:"id"`
	SessionID          string          `json:"sessionId"`
	UserID             string          `json:"userId"`
	Balance            int64           `json:"balance"`
	StockHoldings      map[string]int  `json:"stockHoldings"`
	RealEstateHoldings map[string]bool `json:"realEstateHoldings"`
	BankProducts       []BankProduct   `json:"bankProducts"`
	QuestSolved        bool            `json:"questSolved"`
	QuestAnswers       []string        `json:"questAnswers"`
}

func NewParticipant(sessionID, userID string, balance int64) Participant {
	return Participant{
		ID:                 ParticipantID(sessionID, userID),
		SessionID:          sessionID,
		UserID:             userID,
		Balance:            balance,
		StockHoldings:      map[string]int{},
		RealEstateHoldings: map[string]bool{},
		BankProducts:       []BankProduct{},
		QuestAnswers:       []string{},
	}
}

func (p Participant) Clone() Participant {
	out := p
	out.StockHoldings = make(map[string]int, len(p.StockHoldings))
	for k, v := range p.StockHoldings {
		out.StockHoldings[k] = v
	}
	out.RealEstateHoldings = make(map[string]bool, len(p.RealEstateHoldings))
	for k, v := range p.RealEstateHoldings {
		out.RealEstateHoldings[k] = v
	}
	out.BankProducts = append([]BankProduct{}, p.BankProducts...)
	out.QuestAnswers = append([]string{}, p.QuestAnswers...)
	return out
}

// Product returns the index of the product with id, or -1.
func (p Participant) Product(id string) int {
	for i := range p.BankProducts {
		if p.BankProducts[i].ID == id {
			return i
		}
	}
	return -1
}

// OwnedRealEstate lists the assets flagged as held, sorted by name.
func (p Participant) OwnedRealEstate() []string {
	out := make([]string, 0, len(p.RealEstateHoldings))
	for name, owned := range p.RealEstateHoldings {
		if owned {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func ParticipantID(sessionID, userID string) string {
	return sessionID + "_" + userID
}

const (
	SessionPrefix     = "sessions/"
	ParticipantPrefix = "participants/"
	IdempotencyPrefix = "idem/"
	// RegistryKey guards the set of OPEN sessions. Every open/reset commit
	// rewrites it, so two openers always collide even on disjoint session keys.
	RegistryKey = "registry/sessions"
)

// Registry is the document stored at RegistryKey.
type Registry struct {
	Open      []string  `json:"open"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func SessionKey(id string) string {
	return SessionPrefix + id
}

func ParticipantKey(sessionID, userID string) string {
	return ParticipantPrefix + sessionID + "/" + userID
}

// ParticipantsOf is the key prefix shared by every participant of a session.
func ParticipantsOf(sessionID string) string {
	return ParticipantPrefix + sessionID + "/"
}

func IdempotencyKey(participantID, key string) string {
	return fmt.Sprintf("%s%s/%s", IdempotencyPrefix, participantID, key)
}
