package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arjun-krishna/counselbook/internal/availability"
	"github.com/arjun-krishna/counselbook/internal/booking"
	"github.com/arjun-krishna/counselbook/internal/model"
	"github.com/arjun-krishna/counselbook/libs/db"
)

// Directory reads counsellor records and their weekly availability
// templates. Read-only: templates are owned by profile management.
type Directory struct {
	pool *db.Pool
}

func NewDirectory(pool *db.Pool) *Directory {
	return &Directory{pool: pool}
}

func (d *Directory) Counsellor(ctx context.Context, id string) (model.Counsellor, error) {
	var c model.Counsellor
	err := d.pool.QueryRow(ctx, `
		SELECT id::text, name, is_verified, active,
			COALESCE(fee_video_minor, 0), COALESCE(fee_chat_minor, 0), COALESCE(fee_in_person_minor, 0)
		FROM counsellors
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Verified, &c.Active, &c.Fees.Video, &c.Fees.Chat, &c.Fees.InPerson)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Counsellor{}, fmt.Errorf("counsellor %s: %w", id, booking.ErrNotFound)
		}
		return model.Counsellor{}, err
	}

	rows, err := d.pool.Query(ctx, `
		SELECT weekday, is_available, start_time, end_time
		FROM availability_templates
		WHERE counsellor_id = $1
	`, id)
	if err != nil {
		return model.Counsellor{}, err
	}
	defer rows.Close()

	c.Template = availability.WeekTemplate{}
	for rows.Next() {
		var weekday int
		var available bool
		var startStr, endStr string
		if err := rows.Scan(&weekday, &available, &startStr, &endStr); err != nil {
			return model.Counsellor{}, err
		}
		start, err := availability.ParseClock(startStr)
		if err != nil {
			return model.Counsellor{}, fmt.Errorf("template for counsellor %s: %w", id, err)
		}
		end, err := availability.ParseClock(endStr)
		if err != nil {
			return model.Counsellor{}, fmt.Errorf("template for counsellor %s: %w", id, err)
		}
		c.Template[time.Weekday(weekday)] = availability.Template{
			Available: available,
			Start:     start,
			End:       end,
		}
	}
	if rows.Err() != nil {
		return model.Counsellor{}, rows.Err()
	}
	return c, nil
}
