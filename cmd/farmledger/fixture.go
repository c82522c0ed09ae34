package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/item"
	"github.com/xraph/farmledger/tenant"
)

// Fixture is a scripted farm: one tenant, its item master and the events
// to post in order.
type Fixture struct {
	Tenant struct {
		ID       string          `yaml:"id"`
		Name     string          `yaml:"name"`
		Settings tenant.Settings `yaml:"settings"`
	} `yaml:"tenant"`
	Items  []fixtureItem  `yaml:"items"`
	Events []fixtureEvent `yaml:"events"`
}

type fixtureItem struct {
	ID           string    `yaml:"id"`
	Name         string    `yaml:"name"`
	Type         item.Type `yaml:"type"`
	Unit         string    `yaml:"unit"`
	ReorderPoint string    `yaml:"reorder_point"`
	ReorderQty   string    `yaml:"reorder_qty"`
	DefaultCost  string    `yaml:"default_cost"`
}

type fixtureEvent struct {
	Type       event.Type     `yaml:"type"`
	SiteID     string         `yaml:"site_id"`
	OccurredAt time.Time      `yaml:"occurred_at"`
	Payload    map[string]any `yaml:"payload"`
	// Reverse, when set, reverses the posted transaction with this reason.
	Reverse string `yaml:"reverse"`
}

func loadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixture: %w", err)
	}
	return parseFixture(raw)
}

func parseFixture(raw []byte) (*Fixture, error) {
	var fx Fixture
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		return nil, fmt.Errorf("fixture: %w", err)
	}
	if fx.Tenant.ID == "" {
		return nil, errors.New("fixture: tenant.id is required")
	}
	if fx.Tenant.Settings.LivestockCostingMode == "" {
		fx.Tenant.Settings.LivestockCostingMode = tenant.CostingExpense
	}
	for i, ev := range fx.Events {
		if ev.Type == "" || ev.SiteID == "" {
			return nil, fmt.Errorf("fixture: events[%d]: type and site_id are required", i)
		}
	}
	return &fx, nil
}

func (fi fixtureItem) build(tenantID string) (*item.Item, error) {
	amounts := make([]decimal.Decimal, 3)
	for i, s := range []string{fi.ReorderPoint, fi.ReorderQty, fi.DefaultCost} {
		if s == "" {
			continue
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("fixture: item %s: %w", fi.ID, err)
		}
		amounts[i] = v
	}
	return &item.Item{
		ID:           fi.ID,
		TenantID:     tenantID,
		Name:         fi.Name,
		Type:         fi.Type,
		Unit:         fi.Unit,
		ReorderPoint: amounts[0],
		ReorderQty:   amounts[1],
		DefaultCost:  amounts[2],
	}, nil
}
