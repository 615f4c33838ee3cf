package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"jobmarket/core/events"
	"jobmarket/core/types"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Open(dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	return db
}

type wrapped struct{ evt *types.Event }

func (w wrapped) EventType() string   { return w.evt.Type }
func (w wrapped) Event() *types.Event { return w.evt }

func TestAppendListAndVerify(t *testing.T) {
	db := setupTestDB(t)
	log, err := New(db, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	var emitter events.Emitter = log
	emitter.Emit(wrapped{&types.Event{Type: "market.job.posted", Attributes: map[string]string{"jobId": "1", "budget": "10"}}})
	emitter.Emit(wrapped{&types.Event{Type: "market.bid.placed", Attributes: map[string]string{"jobId": "1", "amount": "8"}}})
	emitter.Emit(wrapped{&types.Event{Type: "market.job.posted", Attributes: map[string]string{"jobId": "2", "budget": "3"}}})

	records, err := log.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].PrevHash != genesisHash || records[1].PrevHash != records[0].Hash {
		t.Fatalf("records not chained")
	}
	evt, err := records[1].Event()
	if err != nil || evt.Attributes["amount"] != "8" {
		t.Fatalf("decode event: %v %+v", err, evt)
	}
	page, _ := log.List(ctx, records[0].Seq, 1)
	if len(page) != 1 || page[0].Seq != records[1].Seq {
		t.Fatalf("unexpected page %+v", page)
	}
	history, _ := log.ForJob(ctx, 1)
	if len(history) != 2 {
		t.Fatalf("expected 2 records for job 1, got %d", len(history))
	}
	if err := log.Verify(ctx); err != nil {
		t.Fatalf("verify: %v", err)
	}

	resumed, err := New(db, nil)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	next, err := resumed.Append(ctx, &types.Event{Type: "market.job.completed", Attributes: map[string]string{"jobId": "1"}})
	if err != nil {
		t.Fatalf("append after resume: %v", err)
	}
	if next.PrevHash != records[2].Hash {
		t.Fatalf("resumed log must continue the chain")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	db := setupTestDB(t)
	log, err := New(db, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := log.Append(ctx, &types.Event{Type: "market.job.posted", Attributes: map[string]string{"jobId": fmt.Sprint(i + 1)}}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := db.Model(&Record{}).Where("seq = ?", 2).Update("attributes", `{"jobId":"99"}`).Error; err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if err := log.Verify(ctx); !errors.Is(err, ErrChainBroken) {
		t.Fatalf("expected ErrChainBroken, got %v", err)
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatalf("expected error")
	}
}
