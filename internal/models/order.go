package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	OrderStatusPending        = "pending"
	OrderStatusWaitingTrigger = "waiting_trigger"
	OrderStatusSubmitted      = "submitted"
	OrderStatusFilled         = "filled"
	OrderStatusError          = "error"
	OrderStatusCanceled       = "canceled"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
	OrderTypeStop   = "stop"
)

// AttachmentTPSL is the attachment namespace for dependent take-profit and
// stop-loss orders. It keeps the percent and the reference price used at
// calculation time so the absolute price can be recomputed when the parent
// fills away from the assumed price.
const AttachmentTPSL = "tp_sl"

const (
	TPSLKindTakeProfit = "take_profit"
	TPSLKindStopLoss   = "stop_loss"
)

type TPSLAttachment struct {
	Percent        float64         `json:"percent"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	Kind           string          `json:"kind"` // take_profit | stop_loss
}

type Order struct {
	ID            uint64  `gorm:"primaryKey;autoIncrement"`
	ExpertID      uint64  `gorm:"not null;index"`
	TransactionID *uint64 `gorm:"index"`
	ParentOrderID *uint64 `gorm:"index"`

	BrokerOrderID string `gorm:"type:varchar(100);index"`
	Symbol        string `gorm:"type:varchar(40);not null;index"`

	Side      string `gorm:"type:varchar(10);not null"`
	OrderType string `gorm:"type:varchar(20);not null;default:'market'"`

	Quantity       decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Price          decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	FilledQuantity decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	AvgFillPrice   decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`

	Status        string `gorm:"type:varchar(20);not null;default:'pending';index"`
	FailureReason string `gorm:"type:text"`

	// Attachments is a free-form bag namespaced by feature key.
	Attachments datatypes.JSON `gorm:"type:jsonb"`

	SubmittedAt *time.Time `gorm:"type:timestamptz"`
	FilledAt    *time.Time `gorm:"type:timestamptz"`
	CanceledAt  *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Order) TableName() string {
	return "orders"
}

// Attachment decodes the sub-object stored under key into out.
// Returns false when the key is absent or undecodable.
func (o *Order) Attachment(key string, out any) bool {
	if o == nil || len(o.Attachments) == 0 {
		return false
	}
	var bag map[string]json.RawMessage
	if err := json.Unmarshal(o.Attachments, &bag); err != nil {
		return false
	}
	raw, ok := bag[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// SetAttachment stores v under key, preserving other namespaces.
func (o *Order) SetAttachment(key string, v any) error {
	bag := map[string]json.RawMessage{}
	if len(o.Attachments) > 0 {
		_ = json.Unmarshal(o.Attachments, &bag)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	bag[key] = raw
	merged, err := json.Marshal(bag)
	if err != nil {
		return err
	}
	o.Attachments = datatypes.JSON(merged)
	return nil
}
