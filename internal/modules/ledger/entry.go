// Package ledger provides the append-only, hash-chained audit trail of
// rebalancing decisions.
package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/finguard/finguard/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

// GenesisHash is the previous hash of the first entry
var GenesisHash = strings.Repeat("0", 64)

// HashAlgorithm describes how entry hashes are computed, for export readers
const HashAlgorithm = "hex(sha256(content || prev_hash)); content is the msgpack encoding of the entry with sorted map keys; prev_hash is the previous entry's hex hash, 64 zeros for the first entry"

// Status is the lifecycle state of an entry
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExecuted Status = "executed"
)

// allowedTransitions is the status graph. Executed and rejected are terminal.
var allowedTransitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusExecuted},
}

// CanTransition reports whether from → to is in the status graph
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseStatus validates a status name
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusRejected, StatusExecuted:
		return Status(s), true
	}
	return "", false
}

// TriggeredBy records what initiated a decision
type TriggeredBy string

const (
	TriggeredByUser      TriggeredBy = "user"
	TriggeredBySystem    TriggeredBy = "system"
	TriggeredByScheduled TriggeredBy = "scheduled"
)

func (t TriggeredBy) valid() bool {
	return t == TriggeredByUser || t == TriggeredBySystem || t == TriggeredByScheduled
}

// Entry is one audit record. Everything except Status and StatusUpdatedAt is
// covered by Hash and never changes after append.
type Entry struct {
	ID              string               `json:"id"`
	Sequence        int64                `json:"sequence"`
	PortfolioID     string               `json:"portfolio_id"`
	CreatedAt       time.Time            `json:"created_at"`
	TriggeredBy     TriggeredBy          `json:"triggered_by"`
	AffectedAssets  []string             `json:"affected_assets"`
	Reason          string               `json:"reason"`
	Trigger         []domain.DriftRecord `json:"trigger"`
	Plan            domain.RebalancePlan `json:"plan"`
	Status          Status               `json:"status"`
	StatusUpdatedAt time.Time            `json:"status_updated_at"`
	PrevHash        string               `json:"prev_hash"`
	Hash            string               `json:"hash"`

	// Content is the canonical encoding the hash covers
	Content []byte `json:"-"`
}

// Transition is one recorded status change
type Transition struct {
	EntryID string    `json:"entry_id"`
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	Actor   string    `json:"actor"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

// Draft is the decision to record
type Draft struct {
	PortfolioID string
	TriggeredBy TriggeredBy
	Reason      string
	Plan        *domain.RebalancePlan
}

// content is the hashed part of an entry. Field order is part of the format.
type content struct {
	ID             string               `msgpack:"id"`
	Sequence       int64                `msgpack:"sequence"`
	PortfolioID    string               `msgpack:"portfolio_id"`
	CreatedAt      int64                `msgpack:"created_at"` // Unix milliseconds
	TriggeredBy    TriggeredBy          `msgpack:"triggered_by"`
	AffectedAssets []string             `msgpack:"affected_assets"`
	Reason         string               `msgpack:"reason"`
	Plan           domain.RebalancePlan `msgpack:"plan"`
}

func encodeContent(c *content) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode entry content: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeContent(data []byte) (*content, error) {
	var c content
	if err := msgpack.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode entry content: %w", err)
	}
	return &c, nil
}

// chainHash links content to its predecessor
func chainHash(data []byte, prevHash string) string {
	h := sha256.New()
	h.Write(data)
	h.Write([]byte(prevHash))
	return hex.EncodeToString(h.Sum(nil))
}

func entryID(createdAt time.Time, sequence int64) string {
	return fmt.Sprintf("AL-%s-%06d", createdAt.UTC().Format("20060102150405"), sequence)
}

// hydrate fills the decision fields from Content. Stores call it on read;
// content that no longer decodes is left for Verify to report.
func (e *Entry) hydrate() error {
	c, err := decodeContent(e.Content)
	if err != nil {
		return err
	}
	e.TriggeredBy = c.TriggeredBy
	e.AffectedAssets = c.AffectedAssets
	e.Reason = c.Reason
	e.Plan = c.Plan
	e.Plan.DataAsOf = e.Plan.DataAsOf.UTC()
	e.Trigger = c.Plan.Trigger
	return nil
}

func (e *Entry) clone() *Entry {
	out := *e
	out.Content = append([]byte(nil), e.Content...)
	return &out
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
