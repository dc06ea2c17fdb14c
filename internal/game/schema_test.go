package game

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"econfair/internal/docstore"
	"econfair/internal/model"
)

func compileSchema(t *testing.T, path string) *jsonschema.Schema {
	t.Helper()
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	c.AssertFormat = true
	s, err := c.Compile(path)
	if err != nil {
		t.Fatalf("compile %s: %v", path, err)
	}
	return s
}

func validateDoc(t *testing.T, s *jsonschema.Schema, d docstore.Doc) {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader(d.Data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		t.Fatalf("decode %s: %v", d.Key, err)
	}
	if err := s.Validate(v); err != nil {
		t.Fatalf("%s does not match schema: %#v", d.Key, err)
	}
}

func TestStoredDocumentsMatchSchemas(t *testing.T) {
	sessionSchema := compileSchema(t, "schemas/session.schema.json")
	participantSchema := compileSchema(t, "schemas/participant.schema.json")

	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.OpenOrResetSession(ctx, "ready", 600); err != nil {
		t.Fatal(err)
	}
	f.running(t)
	f.setPrices(t, []int64{100, 100}, []int64{100, 100})
	if _, err := f.svc.BuyStock(ctx, TradeInput{UserID: "u1", Asset: stockA}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.BuyRealEstate(ctx, TradeInput{UserID: "u1", Asset: estateA}); err != nil {
		t.Fatal(err)
	}
	res, err := f.svc.CreateBankProduct(ctx, ProductInput{UserID: "u1", Type: model.ProductLong, Principal: 900})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CreateBankProduct(ctx, ProductInput{UserID: "u1", Type: model.ProductShort, Principal: 100}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(1200 * time.Second)
	if _, err := f.svc.WithdrawBankProduct(ctx, SettleInput{UserID: "u1", ProductID: res.Product.ID}); err != nil {
		t.Fatal(err)
	}
	f.participant(t, "u2")

	sessions, err := f.store.List(ctx, model.SessionPrefix)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions %d", len(sessions))
	}
	for _, d := range sessions {
		validateDoc(t, sessionSchema, d)
	}
	participants, err := f.store.List(ctx, model.ParticipantPrefix)
	if err != nil {
		t.Fatal(err)
	}
	if len(participants) != 2 {
		t.Fatalf("participants %d", len(participants))
	}
	for _, d := range participants {
		validateDoc(t, participantSchema, d)
	}
}

func TestParticipantSchemaRejectsDoubleSettlement(t *testing.T) {
	s := compileSchema(t, "schemas/participant.schema.json")
	p := model.NewParticipant("fair", "u1", 0)
	p.BankProducts = append(p.BankProducts, model.BankProduct{
		ID: "x", Type: model.ProductShort, Principal: 1,
		StartedAt: t0, MatureAt: t0, Canceled: true, Withdrawn: true,
	})
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		t.Fatal(err)
	}
	if err := s.Validate(v); err == nil {
		t.Fatal("expected schema violation")
	}
}
