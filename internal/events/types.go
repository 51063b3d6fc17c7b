// Package events provides the in-process event bus.
package events

import (
	"encoding/json"
	"time"
)

// EventType represents different event types
type EventType string

const (
	DriftEvaluated           EventType = "DRIFT_EVALUATED"
	PlanGenerated            EventType = "PLAN_GENERATED"
	PlanInfeasible           EventType = "PLAN_INFEASIBLE"
	LedgerEntryAppended      EventType = "LEDGER_ENTRY_APPENDED"
	LedgerStatusChanged      EventType = "LEDGER_STATUS_CHANGED"
	ChainIntegrityViolated   EventType = "CHAIN_INTEGRITY_VIOLATED"
	LedgerResumed            EventType = "LEDGER_RESUMED"
	LedgerArchived           EventType = "LEDGER_ARCHIVED"
	PricesRefreshed          EventType = "PRICES_REFRESHED"
	PortfolioChanged         EventType = "PORTFOLIO_CHANGED"
	AllocationTargetsChanged EventType = "ALLOCATION_TARGETS_CHANGED"
	TradesExecuted           EventType = "TRADES_EXECUTED"
	SystemStatusChanged      EventType = "SYSTEM_STATUS_CHANGED"
	ErrorOccurred            EventType = "ERROR_OCCURRED"
)

// AllEventTypes lists every event type, in declaration order
var AllEventTypes = []EventType{
	DriftEvaluated,
	PlanGenerated,
	PlanInfeasible,
	LedgerEntryAppended,
	LedgerStatusChanged,
	ChainIntegrityViolated,
	LedgerResumed,
	LedgerArchived,
	PricesRefreshed,
	PortfolioChanged,
	AllocationTargetsChanged,
	TradesExecuted,
	SystemStatusChanged,
	ErrorOccurred,
}

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// GetTypedData converts the data map back into its typed form.
// Returns nil for unknown types or malformed data.
func (e *Event) GetTypedData() EventData {
	if e.Data == nil {
		return nil
	}

	var data EventData
	switch e.Type {
	case DriftEvaluated:
		data = &DriftEvaluatedData{}
	case PlanGenerated:
		data = &PlanGeneratedData{}
	case PlanInfeasible:
		data = &PlanInfeasibleData{}
	case LedgerEntryAppended:
		data = &LedgerEntryAppendedData{}
	case LedgerStatusChanged:
		data = &LedgerStatusChangedData{}
	case ChainIntegrityViolated:
		data = &ChainIntegrityViolatedData{}
	case LedgerResumed:
		data = &LedgerResumedData{}
	case LedgerArchived:
		data = &LedgerArchivedData{}
	case PricesRefreshed:
		data = &PricesRefreshedData{}
	case PortfolioChanged:
		data = &PortfolioChangedData{}
	case AllocationTargetsChanged:
		data = &AllocationTargetsChangedData{}
	case TradesExecuted:
		data = &TradesExecutedData{}
	case SystemStatusChanged:
		data = &SystemStatusData{}
	case ErrorOccurred:
		data = &ErrorEventData{}
	default:
		return nil
	}

	if err := convertMapToStruct(e.Data, data); err != nil {
		return nil
	}
	return data
}

func convertMapToStruct(m map[string]interface{}, v interface{}) error {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonBytes, v)
}

func convertEventDataToMap(data EventData) map[string]interface{} {
	if data == nil {
		return nil
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return nil
	}
	return result
}
