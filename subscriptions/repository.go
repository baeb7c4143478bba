package subscriptions

import (
	"context"
	"database/sql"
	"time"

	"kindfriend-backend/entitlement"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, user_id, plan, status, IFNULL(stripe_customer_id,''), IFNULL(stripe_subscription_id,''), current_period_end, started_at`

func scanRecord(row *sql.Row) (*Record, error) {
	var rec Record
	var periodEnd sql.NullTime
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Plan, &rec.Status, &rec.StripeCustomerID, &rec.StripeSubID, &periodEnd, &rec.StartedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if periodEnd.Valid {
		t := periodEnd.Time
		rec.CurrentPeriodEnd = &t
	}
	return &rec, nil
}

// GetByUserID returns the user's subscription row, nil when none exists.
func (r *Repository) GetByUserID(ctx context.Context, userID int) (*Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM subscriptions WHERE user_id = ? LIMIT 1`, userID)
	return scanRecord(row)
}

// CreateFree provisions the signup subscription: free plan, active status.
func (r *Repository) CreateFree(ctx context.Context, userID int, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, plan, status, started_at) VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE user_id = user_id`,
		userID, string(entitlement.PlanFree), string(entitlement.StatusActive), now.UTC())
	return err
}

// LinkCustomer stores the Stripe customer reference on the user's row so
// later webhooks can find the account.
func (r *Repository) LinkCustomer(ctx context.Context, userID int, customerID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET stripe_customer_id = ? WHERE user_id = ?`, customerID, userID)
	return err
}

// GetSubscription implements entitlement.Store.
func (r *Repository) GetSubscription(ctx context.Context, userID int) (*entitlement.Subscription, error) {
	rec, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rec.View(), nil
}

// FindUserByCustomerID implements entitlement.Store; 0 means not linked.
func (r *Repository) FindUserByCustomerID(ctx context.Context, customerID string) (int, error) {
	var userID int
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id FROM subscriptions WHERE stripe_customer_id = ? LIMIT 1`, customerID).Scan(&userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return userID, nil
}

// UpsertSubscription implements entitlement.Store. One row per user, so
// replaying the same webhook lands on the same state.
func (r *Repository) UpsertSubscription(ctx context.Context, userID int, sub entitlement.Subscription) error {
	var periodEnd interface{}
	if sub.CurrentPeriodEnd != nil {
		periodEnd = sub.CurrentPeriodEnd.UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, plan, status, stripe_subscription_id, current_period_end, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE plan = VALUES(plan), status = VALUES(status),
		   stripe_subscription_id = VALUES(stripe_subscription_id),
		   current_period_end = VALUES(current_period_end)`,
		userID, string(sub.Plan), string(sub.Status), sub.ProviderSubID, periodEnd, sub.StartedAt.UTC())
	return err
}
