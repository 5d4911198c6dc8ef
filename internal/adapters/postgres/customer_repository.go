package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/airtimehq/topup-core/internal/domain"
	"github.com/airtimehq/topup-core/internal/domain/models"
	"github.com/airtimehq/topup-core/internal/domain/ports"
)

const customerColumns = `
	id, org_id, phone_number, email, name,
	purchase_count, total_spent, last_purchase_at, created_at, updated_at`

// CustomerRepository stores the org-scoped customer directory
type CustomerRepository struct {
	pool *pgxpool.Pool
}

func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

var _ ports.CustomerRepository = (*CustomerRepository)(nil)

func (r *CustomerRepository) GetByID(ctx context.Context, db ports.DBTX, orgID, id string) (*models.Customer, error) {
	row := runner(db, r.pool).QueryRow(ctx, `
		SELECT`+customerColumns+`
		FROM customers
		WHERE org_id = $1 AND id = $2`,
		orgID, id)
	return scanCustomerRow(row, id)
}

// FindByIdentifier resolves a customer by phone number or email within the
// org. Phone takes precedence when both are present.
func (r *CustomerRepository) FindByIdentifier(ctx context.Context, db ports.DBTX, orgID, phone, email string) (*models.Customer, error) {
	row := runner(db, r.pool).QueryRow(ctx, `
		SELECT`+customerColumns+`
		FROM customers
		WHERE org_id = $1
		  AND (($2 <> '' AND phone_number = $2) OR ($2 = '' AND $3 <> '' AND email = $3))
		ORDER BY created_at
		LIMIT 1`,
		orgID, phone, email)
	return scanCustomerRow(row, phone+email)
}

func (r *CustomerRepository) Create(ctx context.Context, db ports.DBTX, customer *models.Customer) error {
	row := runner(db, r.pool).QueryRow(ctx, `
		INSERT INTO customers (org_id, phone_number, email, name, purchase_count, total_spent, last_purchase_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		customer.OrgID, customer.PhoneNumber, customer.Email, customer.Name,
		customer.PurchaseCount, numericFromDecimal(customer.TotalSpent), customer.LastPurchaseAt)
	if err := row.Scan(&customer.ID, &customer.CreatedAt, &customer.UpdatedAt); err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "create customer", err)
	}
	return nil
}

func (r *CustomerRepository) Update(ctx context.Context, db ports.DBTX, customer *models.Customer) error {
	tag, err := runner(db, r.pool).Exec(ctx, `
		UPDATE customers
		SET phone_number = $3,
		    email = $4,
		    name = $5,
		    purchase_count = $6,
		    total_spent = $7,
		    last_purchase_at = $8,
		    updated_at = now()
		WHERE org_id = $1 AND id = $2`,
		customer.OrgID, customer.ID,
		customer.PhoneNumber, customer.Email, customer.Name,
		customer.PurchaseCount, numericFromDecimal(customer.TotalSpent), customer.LastPurchaseAt)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeDatabaseError, "update customer", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCustomerNotFound.WithDetail("customerId", customer.ID)
	}
	return nil
}

func scanCustomerRow(row pgx.Row, ref string) (*models.Customer, error) {
	var c models.Customer
	var spent pgtype.Numeric
	err := row.Scan(
		&c.ID, &c.OrgID, &c.PhoneNumber, &c.Email, &c.Name,
		&c.PurchaseCount, &spent, &c.LastPurchaseAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCustomerNotFound.WithDetail("ref", ref)
		}
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "get customer", err)
	}
	c.TotalSpent = decimalFromNumeric(spent)
	return &c, nil
}
