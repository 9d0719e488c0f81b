// Package hedge holds the records shared by the reconciliation engine, the
// order manager, the orchestrator and the ledger.
package hedge

import "time"

type AccountType string

const (
	Live AccountType = "LIVE"
	Demo AccountType = "DEMO"
)

// AccountTypes lists the account types in reconciliation order.
var AccountTypes = []AccountType{Live, Demo}

func (t AccountType) Valid() bool {
	return t == Live || t == Demo
}

type RequestStatus string

const (
	Open   RequestStatus = "OPEN"
	Closed RequestStatus = "CLOSED"
)

// Company is a hedging customer. BrokerAccountID holds its LIVE company
// positions; Currency is its domestic currency.
type Company struct {
	ID              string
	Currency        string
	BrokerAccountID string
}

// InternalBrokerAccount is the broker account used for DEMO company positions.
const InternalBrokerAccount = ""

// Cycle anchors every request and order created by one hedging pass for a
// company. At most one cycle per company is open at a time.
type Cycle struct {
	ID        string
	CompanyID string
	Time      time.Time
	ClosedAt  *time.Time
}

func (c Cycle) IsOpen() bool { return c.ClosedAt == nil }

// Request is an account's desired change in one pair for one cycle.
type Request struct {
	ID              string
	CycleID         string
	CompanyID       string
	AccountID       string
	AccountType     AccountType
	Pair            string
	RequestedAmount float64

	FilledAmount        *float64
	AvgPrice            *float64
	RealizedPnLQuote    *float64
	RealizedPnLDomestic *float64
	Commission          *float64
	CommissionCntr      *float64

	Status RequestStatus
}

// Order is the company level order for one pair in one cycle.
type Order struct {
	ID              string
	CycleID         string
	AccountType     AccountType
	Pair            string
	BrokerAccountID string
	UnroundedAmount float64
	RoundedAmount   float64
	ExpectedCost    *float64

	TicketRef   string
	SubmitError string

	FilledAmount   *float64
	AvgPrice       *float64
	TotalPrice     *float64
	Commission     *float64
	CntrCommission *float64
	State          TicketState
}

// Completed reports whether the order carries a terminal fill.
func (o Order) Completed() bool {
	return o.FilledAmount != nil && o.State.Terminal()
}

// Ticket is the broker's view of a submitted order. It is never stored.
type Ticket struct {
	Ref             string
	Pair            string
	CycleID         string
	AmountFilled    float64
	AmountRemaining float64
	AveragePrice    float64
	Commission      float64
	CntrCommission  float64
	State           TicketState
}

type SnapshotEvent struct {
	ID                 string
	CompanyID          string
	Time               time.Time
	HasCompanySnapshot bool
	HasAccountSnapshot bool
}

// Position is an account's holding in a pair as of a snapshot event.
type Position struct {
	EventID     string
	AccountID   string
	AccountType AccountType
	Pair        string
	Amount      float64
	TotalPrice  float64
}

// AvgPrice is the average entry price of the position, or 0 when flat.
func (p Position) AvgPrice() float64 {
	if p.Amount == 0 {
		return 0
	}
	return p.TotalPrice / abs(p.Amount)
}

// CompanyPosition is the aggregate holding of a broker account in a pair.
type CompanyPosition struct {
	EventID         string
	BrokerAccountID string
	AccountType     AccountType
	Pair            string
	Amount          float64
	TotalPrice      float64
}

// ReconciliationRecord is the audit trail of one pair's reconciliation.
type ReconciliationRecord struct {
	EventID            string
	CycleID            string
	AccountType        AccountType
	Pair               string
	InitialAmount      float64
	FinalAmount        float64
	DesiredFinalAmount float64
	TotalRequested     float64
	TotalAbsRequested  float64
	TotalAbsDesired    float64
	FilledAmount       float64
	Excess             float64
	UnexplainedChange  float64
	Commission         float64
	CntrCommission     float64
}

// LiquidityAdjustment records how internal netting changed an account's
// desired position.
type LiquidityAdjustment struct {
	CycleID       string
	AccountID     string
	AccountType   AccountType
	Pair          string
	Exposure      float64
	DesiredBefore float64
	DesiredAfter  float64
}

type CashHolding struct {
	EventID         string
	BrokerAccountID string
	Currency        string
	Amount          float64
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// Stage is the persisted position of a company in its hedging pipeline.
type Stage string

const (
	StageIdle    Stage = "IDLE"
	StageStarted Stage = "STARTED"
	StageAwaited Stage = "AWAITED"
	StageStalled Stage = "STALLED"
)

type PipelineState struct {
	CompanyID string
	CycleID   string
	Stage     Stage
	Attempts  int
	LastError string
	UpdatedAt time.Time
}
