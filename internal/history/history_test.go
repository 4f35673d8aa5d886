package history

import (
	"fmt"
	"testing"
	"time"

	"flexphone/internal/models"
)

func TestMemoryRecorderNewestFirst(t *testing.T) {
	r := NewMemoryRecorder()
	for i := 0; i < 5; i++ {
		rec := models.CallRecord{
			ID:      fmt.Sprintf("call-%d", i),
			EndTime: time.Now(),
			Status:  models.HistoryCompleted,
		}
		if err := r.Append(rec); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if r.Count() != 5 {
		t.Errorf("Count() = %d, want 5", r.Count())
	}

	list, err := r.List(3)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List(3) returned %d records", len(list))
	}
	if list[0].ID != "call-4" || list[2].ID != "call-2" {
		t.Errorf("List(3) order = [%s .. %s], want newest first", list[0].ID, list[2].ID)
	}

	all, _ := r.List(0)
	if len(all) != 5 {
		t.Errorf("List(0) returned %d records, want all 5", len(all))
	}
}
