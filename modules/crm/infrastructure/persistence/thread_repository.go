package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/leadloop/leadloop/modules/crm/domain/entities/convthread"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/persistence/models"
	"github.com/leadloop/leadloop/pkg/composables"
)

const (
	messageFindQuery = `
		SELECT id, tenant_id, lead_id, role, content, created_at
		  FROM crm_messages`

	messageInsertQuery = `
		INSERT INTO crm_messages (tenant_id, lead_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	messageLastOutboundQuery = `
		SELECT max(created_at)
		  FROM crm_messages
		 WHERE tenant_id = $1 AND lead_id = $2 AND role = 'model'`

	// Outbound streak since the last inbound message. An absent inbound
	// message means every outbound counts.
	messageUnansweredQuery = `
		SELECT count(*)
		  FROM crm_messages
		 WHERE tenant_id = $1 AND lead_id = $2 AND role = 'model'
		   AND created_at > COALESCE(
				(SELECT max(created_at) FROM crm_messages
				  WHERE tenant_id = $1 AND lead_id = $2 AND role = 'user'),
				'-infinity'::timestamptz)`
)

type ThreadRepository struct{}

func NewThreadRepository() convthread.Repository {
	return &ThreadRepository{}
}

func (r *ThreadRepository) GetByLeadID(ctx context.Context, leadID uuid.UUID) (convthread.ConversationThread, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	messages, err := r.queryMessages(
		ctx,
		messageFindQuery+" WHERE tenant_id = $1 AND lead_id = $2 ORDER BY created_at, id",
		tenantID.String(), leadID.String(),
	)
	if err != nil {
		return nil, err
	}
	return convthread.New(tenantID, leadID, convthread.WithMessages(messages)), nil
}

func (r *ThreadRepository) Append(ctx context.Context, leadID uuid.UUID, msg convthread.Message) error {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	var id int64
	return tx.QueryRow(
		ctx,
		messageInsertQuery,
		tenantID.String(),
		leadID.String(),
		string(msg.Role()),
		msg.Content(),
		msg.CreatedAt(),
	).Scan(&id)
}

func (r *ThreadRepository) LastMessages(ctx context.Context, leadID uuid.UUID, n int) ([]convthread.Message, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	messages, err := r.queryMessages(
		ctx,
		`SELECT * FROM (`+
			messageFindQuery+` WHERE tenant_id = $1 AND lead_id = $2 ORDER BY created_at DESC, id DESC LIMIT $3`+
			`) latest ORDER BY created_at, id`,
		tenantID.String(), leadID.String(), n,
	)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *ThreadRepository) LastOutboundAt(ctx context.Context, leadID uuid.UUID) (*time.Time, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	var at sql.NullTime
	if err := tx.QueryRow(ctx, messageLastOutboundQuery, tenantID.String(), leadID.String()).Scan(&at); err != nil {
		return nil, err
	}
	if !at.Valid {
		return nil, nil
	}
	return &at.Time, nil
}

func (r *ThreadRepository) ConsecutiveUnanswered(ctx context.Context, leadID uuid.UUID) (int, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return 0, err
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var count int
	if err := tx.QueryRow(ctx, messageUnansweredQuery, tenantID.String(), leadID.String()).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ThreadRepository) queryMessages(ctx context.Context, query string, args ...any) ([]convthread.Message, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []convthread.Message
	for rows.Next() {
		var model models.Message
		if err := rows.Scan(
			&model.ID,
			&model.TenantID,
			&model.LeadID,
			&model.Role,
			&model.Content,
			&model.CreatedAt,
		); err != nil {
			return nil, err
		}
		msg, err := convthread.NewMessage(convthread.Role(model.Role), model.Content, model.CreatedAt)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
