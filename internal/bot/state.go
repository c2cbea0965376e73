// Package bot contains the genetic-bot execution engine: the FSM that turns
// ticks and indicator signals into orders, the execution contexts that back
// it in live, forward-test and backtest modes, and the backtest runner.
package bot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FsmState is the decision state of a genetic bot.
type FsmState string

const (
	StateWaitingForBuyOpp        FsmState = "WAITING_FOR_BUY_OPP"
	StateWaitingForSellOpp       FsmState = "WAITING_FOR_SELL_OPP"
	StateWaitingForBuyOrderConf  FsmState = "WAITING_FOR_BUY_ORDER_CONF"
	StateWaitingForSellOrderConf FsmState = "WAITING_FOR_SELL_ORDER_CONF"
	StateSurfBuy                 FsmState = "SURF_BUY"
	StateSurfSell                FsmState = "SURF_SELL"
)

// State is the per-instance FSM state, persisted as the instance's state
// JSON after every tick. The position fields are written at buy time and
// cleared at sell time.
type State struct {
	FsmState             FsmState        `json:"fsm_state"`
	PrevFsmState         FsmState        `json:"prev_fsm_state"`
	PrevFsmStateChangeTs time.Time       `json:"prev_fsm_state_change_ts"`
	PrevQuantity         decimal.Decimal `json:"prev_quantity"`
	PrevPrice            decimal.Decimal `json:"prev_price"`
	PrevOrderID          string          `json:"prev_order_id"`
	StopLossPrice        decimal.Decimal `json:"stop_loss_price"`
	TargetPrice          decimal.Decimal `json:"target_price"`
}

// NewState returns the initial state for a freshly started bot.
func NewState(at time.Time) *State {
	return &State{
		FsmState:             StateWaitingForBuyOpp,
		PrevFsmState:         StateWaitingForBuyOpp,
		PrevFsmStateChangeTs: at,
	}
}

// Copy returns an independent copy of the state.
func (s *State) Copy() *State {
	cp := *s
	return &cp
}

// WithFsmState returns a copy transitioned to the given FSM state, tracking
// the previous state. A transition to the current state is a no-op copy.
func (s *State) WithFsmState(to FsmState, at time.Time) *State {
	cp := s.Copy()
	if to == cp.FsmState {
		return cp
	}
	cp.PrevFsmState = cp.FsmState
	cp.PrevFsmStateChangeTs = at
	cp.FsmState = to
	return cp
}

// ParseState decodes persisted FSM state. Empty input yields a zero state
// rather than an error since new instances start with an empty document.
func ParseState(raw json.RawMessage) (*State, error) {
	if len(raw) == 0 {
		return &State{}, nil
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to parse bot state: %w", err)
	}
	return &st, nil
}

// Marshal encodes the state for persistence.
func (s *State) Marshal() (json.RawMessage, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bot state: %w", err)
	}
	return raw, nil
}

// StateError reports an order confirmation arriving while the FSM is in a
// state that cannot accept it. It indicates a lost or duplicated order
// event upstream and is never swallowed.
type StateError struct {
	State FsmState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("received order status change in invalid bot state %s", e.State)
}
