package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/arjun-krishna/counselbook/internal/model"
)

func TestAmount_ProratesHourlyFee(t *testing.T) {
	fees := model.FeeTable{Video: 1000}

	got, err := Amount(fees, model.SessionVideo, 90*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1500 {
		t.Fatalf("expected 1500, got %d", got)
	}
}

func TestAmount_FullHour(t *testing.T) {
	fees := model.FeeTable{Chat: 1200}

	got, err := Amount(fees, model.SessionChat, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1200 {
		t.Fatalf("expected 1200, got %d", got)
	}
}

func TestAmount_RoundsToNearestMinorUnit(t *testing.T) {
	// 1000 * 50 / 60 = 833.33... -> 833
	fees := model.FeeTable{InPerson: 1000}

	got, err := Amount(fees, model.SessionInPerson, 50*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 833 {
		t.Fatalf("expected 833, got %d", got)
	}
}

func TestAmount_MissingFee(t *testing.T) {
	fees := model.FeeTable{Video: 1000}

	if _, err := Amount(fees, model.SessionChat, time.Hour); !errors.Is(err, ErrFeeNotConfigured) {
		t.Fatalf("expected ErrFeeNotConfigured, got %v", err)
	}
}

func TestAmount_UnknownSessionType(t *testing.T) {
	fees := model.FeeTable{Video: 1000, Chat: 1000, InPerson: 1000}

	if _, err := Amount(fees, model.SessionType("phone"), time.Hour); !errors.Is(err, ErrFeeNotConfigured) {
		t.Fatalf("expected ErrFeeNotConfigured, got %v", err)
	}
}

func TestAmount_ZeroDuration(t *testing.T) {
	fees := model.FeeTable{Video: 1000}

	if _, err := Amount(fees, model.SessionVideo, 0); err == nil {
		t.Fatal("expected error for zero duration")
	}
}
