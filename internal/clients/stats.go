package clients

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
)

// Statistics summarises an account's review activity.
type Statistics struct {
	TotalClients     int     `json:"total_clients"`
	TotalReviews     int     `json:"total_reviews"`
	AverageRating    float64 `json:"average_rating"`
	ReviewsThisMonth int     `json:"reviews_this_month"`
	SMSSent          int     `json:"sms_sent"`
	ConversionRate   float64 `json:"conversion_rate"`
}

// Statistics computes the account's dashboard figures as of now. Rates are
// rounded to one decimal place.
func (s *Store) Statistics(ctx context.Context, userID int, now time.Time) (Statistics, error) {
	var (
		st  Statistics
		avg float64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN review_status=? THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(CASE WHEN stars>0 THEN stars END), 0),
		       COALESCE(SUM(CASE WHEN review_status=? AND updated_at>=? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN sms_count>0 THEN 1 ELSE 0 END), 0)
		FROM clients WHERE user_id=?`,
		db.ReviewCompleted, db.ReviewCompleted, db.Timestamp(db.MonthStart(now)), userID,
	).Scan(&st.TotalClients, &st.TotalReviews, &avg, &st.ReviewsThisMonth, &st.SMSSent)
	if err != nil {
		return st, fmt.Errorf("clients.Statistics: %w", err)
	}
	st.AverageRating = round1(avg)
	if st.TotalClients > 0 {
		st.ConversionRate = round1(float64(st.TotalReviews) / float64(st.TotalClients) * 100)
	}
	return st, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
