package orders

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PaymentMethodRepo answers ownership checks against payment_methods.
// Payment methods are managed elsewhere; this side only reads.
type PaymentMethodRepo struct{ DB *pgxpool.Pool }

func (r *PaymentMethodRepo) OwnsPaymentMethod(ctx context.Context, userID, ref string) (bool, error) {
	var owns bool
	err := r.DB.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM payment_methods WHERE id=$1 AND user_id=$2)`, ref, userID).Scan(&owns)
	if err != nil {
		return false, err
	}
	return owns, nil
}
