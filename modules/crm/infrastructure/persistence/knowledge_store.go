package persistence

import (
	"context"

	"github.com/google/uuid"

	"github.com/leadloop/leadloop/modules/crm/domain/entities/knowledge"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/persistence/models"
	"github.com/leadloop/leadloop/pkg/composables"
)

const knowledgeFindQuery = `
	SELECT id, tenant_id, agent_id, title, content, created_at
	  FROM crm_knowledge_docs
	 WHERE tenant_id = $1 AND agent_id = $2
	 ORDER BY created_at, id`

type KnowledgeStore struct{}

func NewKnowledgeStore() knowledge.Store {
	return &KnowledgeStore{}
}

func (r *KnowledgeStore) ListByAgent(ctx context.Context, agentID uuid.UUID) ([]knowledge.Doc, error) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, knowledgeFindQuery, tenantID.String(), agentID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []knowledge.Doc
	for rows.Next() {
		var model models.KnowledgeDoc
		if err := rows.Scan(
			&model.ID,
			&model.TenantID,
			&model.AgentID,
			&model.Title,
			&model.Content,
			&model.CreatedAt,
		); err != nil {
			return nil, err
		}
		doc, err := ToDomainKnowledgeDoc(model)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
