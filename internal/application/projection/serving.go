package projection

import (
	"errors"
	"fmt"
	"time"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ServingName names the serving view
const ServingName = "serving"

// OpportunityEntityType is the entity type summed into pipeline totals
const OpportunityEntityType = "opportunity"

const (
	entityPrefix   = "entity:"
	totalsPrefix   = "totals:"
	pipelinePrefix = "pipeline:"

	stageField      = "stage"
	amountField     = "amount"
	unassignedStage = "unassigned"
)

// ServingEntity is the query-optimized copy of a canonical entity
type ServingEntity struct {
	CanonicalID      uuid.UUID                    `json:"canonical_id"`
	EntityType       string                       `json:"entity_type"`
	Fields           map[string]any               `json:"fields"`
	SourceRefs       []integration.SourceRef      `json:"source_refs"`
	ValidationStatus integration.ValidationStatus `json:"validation_status"`
	QualityScore     float64                      `json:"quality_score"`
	ContentHash      string                       `json:"content_hash"`
	FirstSeenAt      time.Time                    `json:"first_seen_at"`
	LastUpdatedAt    time.Time                    `json:"last_updated_at"`
	IsActive         bool                         `json:"is_active"`
	LastEventID      int64                        `json:"last_event_id"`
}

// ToCanonical converts the view row back to the domain shape
func (s *ServingEntity) ToCanonical() *integration.CanonicalEntity {
	return &integration.CanonicalEntity{
		CanonicalID:      s.CanonicalID,
		EntityType:       s.EntityType,
		NormalizedFields: s.Fields,
		SourceRefs:       s.SourceRefs,
		ValidationStatus: s.ValidationStatus,
		QualityScore:     s.QualityScore,
		ContentHash:      s.ContentHash,
		FirstSeenAt:      s.FirstSeenAt,
		LastUpdatedAt:    s.LastUpdatedAt,
		IsActive:         s.IsActive,
	}
}

// TypeTotals counts the entities of one type
type TypeTotals struct {
	EntityType string `json:"entity_type"`
	Active     int64  `json:"active"`
	Inactive   int64  `json:"inactive"`
}

// StageTotals sums the active opportunities of one pipeline stage
type StageTotals struct {
	Stage  string          `json:"stage"`
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// ServingProjection keeps entities, per-type totals and opportunity
// pipeline totals
type ServingProjection struct{}

// NewServingProjection creates the serving projection
func NewServingProjection() *ServingProjection {
	return &ServingProjection{}
}

// Name returns the projection name
func (*ServingProjection) Name() string { return ServingName }

// Handles accepts every entity type
func (*ServingProjection) Handles(string) bool { return true }

// Apply folds one event into the serving view
func (p *ServingProjection) Apply(tx *Tx, ev integration.DomainEvent) error {
	key := entityKey(ev.CanonicalID)
	var prev *ServingEntity
	var stored ServingEntity
	found, err := tx.GetJSON(key, &stored)
	if err != nil {
		return err
	}
	if found {
		prev = &stored
	}

	at := ev.OccurredAt.UTC()
	next := &ServingEntity{
		CanonicalID:      ev.CanonicalID,
		EntityType:       ev.EntityType,
		ValidationStatus: ev.PayloadDelta.ValidationStatus,
		QualityScore:     ev.PayloadDelta.QualityScore,
		ContentHash:      ev.PayloadDelta.ContentHash,
		SourceRefs:       ev.PayloadDelta.SourceRefs,
		LastUpdatedAt:    at,
		LastEventID:      ev.EventID,
		IsActive:         true,
	}

	switch ev.EventType {
	case integration.EventTypeCreated, integration.EventTypeRestored:
		next.Fields = snapshotFields(ev)
		next.FirstSeenAt = at
		if prev != nil {
			next.FirstSeenAt = prev.FirstSeenAt
		}
	case integration.EventTypeUpdated:
		if prev == nil {
			return fmt.Errorf("update of unknown entity %s", ev.CanonicalID)
		}
		fields, err := applyFieldPatch(prev.Fields, ev.PayloadDelta.Patch)
		if err != nil {
			return err
		}
		next.Fields = fields
		next.FirstSeenAt = prev.FirstSeenAt
		next.IsActive = prev.IsActive
		if next.SourceRefs == nil {
			next.SourceRefs = prev.SourceRefs
		}
	case integration.EventTypeSoftDeleted:
		if prev == nil {
			return fmt.Errorf("soft delete of unknown entity %s", ev.CanonicalID)
		}
		next.Fields = prev.Fields
		next.FirstSeenAt = prev.FirstSeenAt
		next.SourceRefs = prev.SourceRefs
		next.IsActive = false
	default:
		return fmt.Errorf("unknown event type %q", ev.EventType)
	}

	if prev != nil {
		if err := p.account(tx, prev, -1); err != nil {
			return err
		}
	}
	if err := p.account(tx, next, 1); err != nil {
		return err
	}
	return tx.PutJSON(key, next)
}

// account adds (sign 1) or removes (sign -1) an entity's contribution to
// the totals
func (p *ServingProjection) account(tx *Tx, e *ServingEntity, sign int64) error {
	tkey := totalsPrefix + e.EntityType
	totals := TypeTotals{EntityType: e.EntityType}
	if _, err := tx.GetJSON(tkey, &totals); err != nil {
		return err
	}
	if e.IsActive {
		totals.Active += sign
	} else {
		totals.Inactive += sign
	}
	if totals.Active < 0 || totals.Inactive < 0 {
		return errors.New("entity totals went negative")
	}
	if totals.Active == 0 && totals.Inactive == 0 {
		tx.Delete(tkey)
	} else if err := tx.PutJSON(tkey, totals); err != nil {
		return err
	}

	if e.EntityType != OpportunityEntityType || !e.IsActive {
		return nil
	}
	stage := stringField(e.Fields[stageField])
	if stage == "" {
		stage = unassignedStage
	}
	skey := pipelinePrefix + stage
	st := StageTotals{Stage: stage}
	if _, err := tx.GetJSON(skey, &st); err != nil {
		return err
	}
	amount := amountOf(e.Fields[amountField])
	st.Count += sign
	if sign > 0 {
		st.Amount = st.Amount.Add(amount)
	} else {
		st.Amount = st.Amount.Sub(amount)
	}
	if st.Count <= 0 {
		tx.Delete(skey)
		return nil
	}
	return tx.PutJSON(skey, st)
}

// amountOf parses a decimal field; unparseable amounts count as zero
func amountOf(v any) decimal.Decimal {
	d, err := decimal.NewFromString(stringField(v))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func entityKey(id uuid.UUID) string {
	return entityPrefix + id.String()
}
