package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"

	"github.com/xraph/farmledger/item"
)

var (
	// ErrUnknownType is returned for an event type with no posting rule.
	ErrUnknownType = errors.New("farmledger: unknown event type")
	// ErrInvalidPayload is returned when a payload cannot be decoded or fails validation.
	ErrInvalidPayload = errors.New("farmledger: invalid event payload")
)

// PaymentMethod selects between cash and credit settlement.
type PaymentMethod string

// PaymentCash settles through the cash account; any other method goes
// through receivables or payables.
const PaymentCash PaymentMethod = "CASH"

// IsCash reports whether the payment settles in cash.
func (m PaymentMethod) IsCash() bool {
	return strings.EqualFold(string(m), string(PaymentCash))
}

// Payload is the closed set of typed event payloads. Posting rules and the
// inventory planner switch exhaustively over the concrete types.
type Payload interface {
	EventType() Type
	payload()
}

// InventoryAdjustment corrects the on-hand quantity of an item at a site.
type InventoryAdjustment struct {
	ItemID      string          `mapstructure:"itemId" json:"itemId" validate:"required"`
	ItemType    item.Type       `mapstructure:"itemType" json:"itemType,omitempty"`
	QtyDelta    decimal.Decimal `mapstructure:"qtyDelta" json:"qtyDelta" validate:"ne=0"`
	CostPerUnit decimal.Decimal `mapstructure:"costPerUnit" json:"costPerUnit" validate:"gte=0"`
	TotalCost   decimal.Decimal `mapstructure:"totalCost" json:"totalCost"`
	Reason      string          `mapstructure:"reason" json:"reason,omitempty"`
}

// FeedLivestock consumes feed inventory for a livestock group.
type FeedLivestock struct {
	FeedItemID       string          `mapstructure:"feedItemId" json:"feedItemId" validate:"required"`
	LivestockGroupID string          `mapstructure:"livestockGroupId" json:"livestockGroupId,omitempty"`
	Quantity         decimal.Decimal `mapstructure:"quantity" json:"quantity" validate:"gte=0"`
	TotalCost        decimal.Decimal `mapstructure:"totalCost" json:"totalCost" validate:"gte=0"`
}

// ReceivePurchaseOrder receives ordered stock into a site.
type ReceivePurchaseOrder struct {
	PurchaseOrderID string          `mapstructure:"purchaseOrderId" json:"purchaseOrderId,omitempty"`
	ItemID          string          `mapstructure:"itemId" json:"itemId" validate:"required"`
	ItemType        item.Type       `mapstructure:"itemType" json:"itemType,omitempty"`
	Quantity        decimal.Decimal `mapstructure:"quantity" json:"quantity" validate:"gte=0"`
	UnitCost        decimal.Decimal `mapstructure:"unitCost" json:"unitCost" validate:"gte=0"`
	TotalCost       decimal.Decimal `mapstructure:"totalCost" json:"totalCost" validate:"gte=0"`
	PaymentMethod   PaymentMethod   `mapstructure:"paymentMethod" json:"paymentMethod,omitempty"`
}

// Sale records a sale, optionally drawing an inventory item down.
type Sale struct {
	SaleAmount    decimal.Decimal `mapstructure:"saleAmount" json:"saleAmount" validate:"gte=0"`
	CostAmount    decimal.Decimal `mapstructure:"costAmount" json:"costAmount" validate:"gte=0"`
	PaymentMethod PaymentMethod   `mapstructure:"paymentMethod" json:"paymentMethod,omitempty"`
	CustomerID    string          `mapstructure:"customerId" json:"customerId,omitempty"`
	ItemID        string          `mapstructure:"itemId" json:"itemId,omitempty"`
	Quantity      decimal.Decimal `mapstructure:"quantity" json:"quantity" validate:"gte=0"`
}

// SellLivestock sells animals out of a livestock group.
type SellLivestock struct {
	LivestockGroupID string          `mapstructure:"livestockGroupId" json:"livestockGroupId" validate:"required"`
	SaleAmount       decimal.Decimal `mapstructure:"saleAmount" json:"saleAmount" validate:"gte=0"`
	CostAmount       decimal.Decimal `mapstructure:"costAmount" json:"costAmount" validate:"gte=0"`
	PaymentMethod    PaymentMethod   `mapstructure:"paymentMethod" json:"paymentMethod,omitempty"`
	HeadCount        int             `mapstructure:"headCount" json:"headCount,omitempty" validate:"gte=0"`
}

// PurchaseLivestock buys animals into a livestock group.
type PurchaseLivestock struct {
	LivestockGroupID string          `mapstructure:"livestockGroupId" json:"livestockGroupId" validate:"required"`
	TotalCost        decimal.Decimal `mapstructure:"totalCost" json:"totalCost" validate:"gte=0"`
	PaymentMethod    PaymentMethod   `mapstructure:"paymentMethod" json:"paymentMethod,omitempty"`
	HeadCount        int             `mapstructure:"headCount" json:"headCount,omitempty" validate:"gte=0"`
	SupplierID       string          `mapstructure:"supplierId" json:"supplierId,omitempty"`
}

// InventoryTransfer moves stock of one item between two sites.
// A zero UnitCost is resolved from the source site's average cost.
type InventoryTransfer struct {
	ItemID     string          `mapstructure:"itemId" json:"itemId" validate:"required"`
	ItemType   item.Type       `mapstructure:"itemType" json:"itemType,omitempty"`
	FromSiteID string          `mapstructure:"fromSiteId" json:"fromSiteId" validate:"required"`
	ToSiteID   string          `mapstructure:"toSiteId" json:"toSiteId" validate:"required,nefield=FromSiteID"`
	Quantity   decimal.Decimal `mapstructure:"quantity" json:"quantity" validate:"gt=0"`
	UnitCost   decimal.Decimal `mapstructure:"unitCost" json:"unitCost" validate:"gte=0"`
	TotalCost  decimal.Decimal `mapstructure:"totalCost" json:"totalCost" validate:"gte=0"`
}

func (*InventoryAdjustment) EventType() Type  { return TypeInventoryAdjustment }
func (*FeedLivestock) EventType() Type        { return TypeFeedLivestock }
func (*ReceivePurchaseOrder) EventType() Type { return TypeReceivePurchaseOrder }
func (*Sale) EventType() Type                 { return TypeSale }
func (*SellLivestock) EventType() Type        { return TypeSellLivestock }
func (*PurchaseLivestock) EventType() Type    { return TypePurchaseLivestock }
func (*InventoryTransfer) EventType() Type    { return TypeInventoryTransfer }

func (*InventoryAdjustment) payload()  {}
func (*FeedLivestock) payload()        {}
func (*ReceivePurchaseOrder) payload() {}
func (*Sale) payload()                 {}
func (*SellLivestock) payload()        {}
func (*PurchaseLivestock) payload()    {}
func (*InventoryTransfer) payload()    {}

// UnitCost returns the per-unit cost of the adjustment: CostPerUnit when set,
// otherwise |TotalCost| / |QtyDelta|.
func (p *InventoryAdjustment) UnitCost() decimal.Decimal {
	if !p.CostPerUnit.IsZero() {
		return p.CostPerUnit
	}
	if p.QtyDelta.IsZero() {
		return decimal.Zero
	}
	return p.TotalCost.Abs().Div(p.QtyDelta.Abs())
}

// Amount is the cost magnitude posted for the adjustment.
func (p *InventoryAdjustment) Amount() decimal.Decimal {
	if !p.TotalCost.IsZero() {
		return p.TotalCost.Abs()
	}
	return p.QtyDelta.Mul(p.CostPerUnit).Abs()
}

// Amount is the cost of the received goods.
func (p *ReceivePurchaseOrder) Amount() decimal.Decimal {
	if !p.TotalCost.IsZero() {
		return p.TotalCost
	}
	return p.Quantity.Mul(p.UnitCost)
}

// ResolvedUnitCost is the per-unit cost of the received goods.
func (p *ReceivePurchaseOrder) ResolvedUnitCost() decimal.Decimal {
	if !p.UnitCost.IsZero() || p.Quantity.IsZero() {
		return p.UnitCost
	}
	return p.TotalCost.Div(p.Quantity)
}

// Amount is the book value moved between the sites.
func (p *InventoryTransfer) Amount() decimal.Decimal {
	if !p.TotalCost.IsZero() {
		return p.TotalCost
	}
	return p.Quantity.Mul(p.UnitCost)
}

// ResolvedUnitCost is the per-unit cost carried to the destination site.
func (p *InventoryTransfer) ResolvedUnitCost() decimal.Decimal {
	if !p.UnitCost.IsZero() || p.Quantity.IsZero() {
		return p.UnitCost
	}
	return p.TotalCost.Div(p.Quantity)
}

// DecodePayload decodes raw into the typed payload for t and validates it.
func DecodePayload(t Type, raw map[string]any) (Payload, error) {
	var p Payload
	switch t {
	case TypeInventoryAdjustment:
		p = &InventoryAdjustment{}
	case TypeFeedLivestock:
		p = &FeedLivestock{}
	case TypeReceivePurchaseOrder:
		p = &ReceivePurchaseOrder{}
	case TypeSale:
		p = &Sale{}
	case TypeSellLivestock:
		p = &SellLivestock{}
	case TypePurchaseLivestock:
		p = &PurchaseLivestock{}
	case TypeInventoryTransfer:
		p = &InventoryTransfer{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       decimalHook,
		WeaklyTypedInput: true,
		Result:           p,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, t, err)
	}

	if err := validate().Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, t, err)
	}
	return p, nil
}

// ToMap encodes a typed payload as the generic document stored on an Event.
func ToMap(p Payload) (map[string]any, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func decimalHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case decimal.Decimal:
		return v, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int32:
		return decimal.NewFromInt32(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		if v == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(v)
	default:
		return data, nil
	}
}

var (
	validateOnce sync.Once
	validatorV   *validator.Validate
)

func validate() *validator.Validate {
	validateOnce.Do(func() {
		validatorV = validator.New()
		validatorV.RegisterCustomTypeFunc(func(field reflect.Value) any {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				f, _ := d.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{})
	})
	return validatorV
}
