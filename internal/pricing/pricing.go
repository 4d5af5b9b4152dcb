package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arjun-krishna/counselbook/internal/model"
)

// ErrFeeNotConfigured means the counsellor has no fee for the requested
// session type. This is a configuration problem, not a client mistake.
var ErrFeeNotConfigured = errors.New("fee not configured for session type")

var sixty = decimal.NewFromInt(60)

// Fee returns the counsellor's hourly fee in minor units for a session type.
func Fee(fees model.FeeTable, st model.SessionType) (int64, error) {
	var fee int64
	switch st {
	case model.SessionVideo:
		fee = fees.Video
	case model.SessionChat:
		fee = fees.Chat
	case model.SessionInPerson:
		fee = fees.InPerson
	default:
		return 0, fmt.Errorf("%w: unknown session type %q", ErrFeeNotConfigured, st)
	}
	if fee <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrFeeNotConfigured, st)
	}
	return fee, nil
}

// Amount computes the session price: hourly fee prorated by duration,
// rounded to the nearest minor unit. The result is fixed on the appointment
// at booking time and never recomputed.
func Amount(fees model.FeeTable, st model.SessionType, duration time.Duration) (int64, error) {
	fee, err := Fee(fees, st)
	if err != nil {
		return 0, err
	}
	minutes := int64(duration / time.Minute)
	if minutes <= 0 {
		return 0, fmt.Errorf("invalid session duration %s", duration)
	}
	amount := decimal.NewFromInt(fee).
		Mul(decimal.NewFromInt(minutes)).
		Div(sixty).
		Round(0)
	return amount.IntPart(), nil
}
