package events

// EventData is implemented by every typed event payload
type EventData interface {
	EventType() EventType
}

// DriftEvaluatedData contains data for DriftEvaluated events
type DriftEvaluatedData struct {
	PortfolioID string  `json:"portfolio_id"`
	Version     int64   `json:"version"`
	Triggered   bool    `json:"triggered"`
	Violations  int     `json:"violations"`
	TopKey      string  `json:"top_key,omitempty"`
	TopDrift    float64 `json:"top_drift,omitempty"`
	Stale       bool    `json:"stale"`
}

// EventType returns the event type for DriftEvaluatedData
func (d *DriftEvaluatedData) EventType() EventType {
	return DriftEvaluated
}

// PlanGeneratedData contains data for PlanGenerated events
type PlanGeneratedData struct {
	PortfolioID string  `json:"portfolio_id"`
	EntryID     string  `json:"entry_id"`
	Trades      int     `json:"trades"`
	Confidence  float64 `json:"confidence"`
	RiskLevel   string  `json:"risk_level"`
	TriggeredBy string  `json:"triggered_by"`
	Stale       bool    `json:"stale"`
}

// EventType returns the event type for PlanGeneratedData
func (d *PlanGeneratedData) EventType() EventType {
	return PlanGenerated
}

// PlanInfeasibleData contains data for PlanInfeasible events
type PlanInfeasibleData struct {
	PortfolioID string   `json:"portfolio_id"`
	Violations  []string `json:"violations"`
	Reason      string   `json:"reason"`
}

// EventType returns the event type for PlanInfeasibleData
func (d *PlanInfeasibleData) EventType() EventType {
	return PlanInfeasible
}

// LedgerEntryAppendedData contains data for LedgerEntryAppended events
type LedgerEntryAppendedData struct {
	EntryID     string `json:"entry_id"`
	Sequence    int64  `json:"sequence"`
	PortfolioID string `json:"portfolio_id"`
	Hash        string `json:"hash"`
}

// EventType returns the event type for LedgerEntryAppendedData
func (d *LedgerEntryAppendedData) EventType() EventType {
	return LedgerEntryAppended
}

// LedgerStatusChangedData contains data for LedgerStatusChanged events
type LedgerStatusChangedData struct {
	EntryID string `json:"entry_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Actor   string `json:"actor,omitempty"`
}

// EventType returns the event type for LedgerStatusChangedData
func (d *LedgerStatusChangedData) EventType() EventType {
	return LedgerStatusChanged
}

// ChainIntegrityViolatedData contains data for ChainIntegrityViolated events
type ChainIntegrityViolatedData struct {
	Issues        int    `json:"issues"`
	FirstEntryID  string `json:"first_entry_id"`
	FirstSequence int64  `json:"first_sequence"`
	Issue         string `json:"issue"`
}

// EventType returns the event type for ChainIntegrityViolatedData
func (d *ChainIntegrityViolatedData) EventType() EventType {
	return ChainIntegrityViolated
}

// LedgerResumedData contains data for LedgerResumed events
type LedgerResumedData struct {
	Actor string `json:"actor"`
	Note  string `json:"note,omitempty"`
}

// EventType returns the event type for LedgerResumedData
func (d *LedgerResumedData) EventType() EventType {
	return LedgerResumed
}

// LedgerArchivedData contains data for LedgerArchived events
type LedgerArchivedData struct {
	Bucket  string `json:"bucket"`
	Key     string `json:"key"`
	Entries int    `json:"entries"`
}

// EventType returns the event type for LedgerArchivedData
func (d *LedgerArchivedData) EventType() EventType {
	return LedgerArchived
}

// PricesRefreshedData contains data for PricesRefreshed events
type PricesRefreshedData struct {
	PortfolioID string `json:"portfolio_id"`
	Symbols     int    `json:"symbols"`
	Stale       bool   `json:"stale"`
}

// EventType returns the event type for PricesRefreshedData
func (d *PricesRefreshedData) EventType() EventType {
	return PricesRefreshed
}

// PortfolioChangedData contains data for PortfolioChanged events
type PortfolioChangedData struct {
	PortfolioID string `json:"portfolio_id"`
	Version     int64  `json:"version"`
	Reason      string `json:"reason"`
}

// EventType returns the event type for PortfolioChangedData
func (d *PortfolioChangedData) EventType() EventType {
	return PortfolioChanged
}

// AllocationTargetsChangedData contains data for AllocationTargetsChanged events
type AllocationTargetsChangedData struct {
	PortfolioID string `json:"portfolio_id"`
	Categories  int    `json:"categories"`
	Assets      int    `json:"assets,omitempty"`
}

// EventType returns the event type for AllocationTargetsChangedData
func (d *AllocationTargetsChangedData) EventType() EventType {
	return AllocationTargetsChanged
}

// TradesExecutedData contains data for TradesExecuted events
type TradesExecutedData struct {
	PortfolioID string `json:"portfolio_id"`
	EntryID     string `json:"entry_id"`
	Trades      int    `json:"trades"`
	Version     int64  `json:"version"`
}

// EventType returns the event type for TradesExecutedData
func (d *TradesExecutedData) EventType() EventType {
	return TradesExecuted
}

// SystemStatusData contains data for SystemStatusChanged events
type SystemStatusData struct {
	LedgerHalted         bool   `json:"ledger_halted"`
	HaltReason           string `json:"halt_reason,omitempty"`
	QuoteStreamEnabled   bool   `json:"quote_stream_enabled"`
	QuoteStreamConnected bool   `json:"quote_stream_connected"`
}

// EventType returns the event type for SystemStatusData
func (d *SystemStatusData) EventType() EventType {
	return SystemStatusChanged
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
