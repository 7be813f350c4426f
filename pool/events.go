package pool

import (
	"errors"
	"fmt"
	"math/big"
)

// EventKind identifies a pool event.
type EventKind int

const (
	KindPositionChange EventKind = iota + 1
	KindNewAuction
	KindNewLiquidationAuction
	KindDeleteLiquidationAuction
	KindFillAuction
)

func (k EventKind) String() string {
	switch k {
	case KindPositionChange:
		return "position-change"
	case KindNewAuction:
		return "new-auction"
	case KindNewLiquidationAuction:
		return "new-liquidation-auction"
	case KindDeleteLiquidationAuction:
		return "delete-liquidation-auction"
	case KindFillAuction:
		return "fill-auction"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// PositionAction is the user action behind a position change.
type PositionAction int

const (
	ActionSupply PositionAction = iota
	ActionWithdraw
	ActionSupplyCollateral
	ActionWithdrawCollateral
	ActionBorrow
	ActionRepay
)

// EventMeta is carried by every pool event.
type EventMeta struct {
	Ledger uint32 `json:"ledger"`
	TxHash string `json:"tx_hash"`
}

// Event is a pool event. The set of implementations is closed: consumers
// implement EventHandler and call Dispatch.
type Event interface {
	Meta() EventMeta
	Kind() EventKind
	Dispatch(EventHandler) error
}

// EventHandler handles every pool event kind.
type EventHandler interface {
	HandlePositionChange(PositionChangeEvent) error
	HandleNewAuction(NewAuctionEvent) error
	HandleNewLiquidationAuction(NewLiquidationAuctionEvent) error
	HandleDeleteLiquidationAuction(DeleteLiquidationAuctionEvent) error
	HandleFillAuction(FillAuctionEvent) error
}

// PositionChangeEvent is a supply, withdraw, borrow or repay by a user.
type PositionChangeEvent struct {
	EventMeta
	Action PositionAction
	User   string
	Asset  string
	Amount *big.Int
}

// NewAuctionEvent is a new bad debt or interest auction.
type NewAuctionEvent struct {
	EventMeta
	AuctionType AuctionType
	// User is the auctioned account, the backstop for backstop auctions.
	User    string
	Auction AuctionData
}

// NewLiquidationAuctionEvent is a new user liquidation auction.
type NewLiquidationAuctionEvent struct {
	EventMeta
	User    string
	Auction AuctionData
}

// DeleteLiquidationAuctionEvent is a cancelled user liquidation auction.
type DeleteLiquidationAuctionEvent struct {
	EventMeta
	User string
}

// FillAuctionEvent is a full or partial auction fill.
type FillAuctionEvent struct {
	EventMeta
	AuctionType AuctionType
	User        string
	Filler      string
	FillPercent uint32
}

func (e EventMeta) Meta() EventMeta { return e }

func (PositionChangeEvent) Kind() EventKind           { return KindPositionChange }
func (NewAuctionEvent) Kind() EventKind               { return KindNewAuction }
func (NewLiquidationAuctionEvent) Kind() EventKind    { return KindNewLiquidationAuction }
func (DeleteLiquidationAuctionEvent) Kind() EventKind { return KindDeleteLiquidationAuction }
func (FillAuctionEvent) Kind() EventKind              { return KindFillAuction }

func (e PositionChangeEvent) Dispatch(h EventHandler) error { return h.HandlePositionChange(e) }
func (e NewAuctionEvent) Dispatch(h EventHandler) error     { return h.HandleNewAuction(e) }
func (e NewLiquidationAuctionEvent) Dispatch(h EventHandler) error {
	return h.HandleNewLiquidationAuction(e)
}
func (e DeleteLiquidationAuctionEvent) Dispatch(h EventHandler) error {
	return h.HandleDeleteLiquidationAuction(e)
}
func (e FillAuctionEvent) Dispatch(h EventHandler) error { return h.HandleFillAuction(e) }

// EventRecord is the flat wire form of an Event.
type EventRecord struct {
	Kind        EventKind      `json:"kind"`
	Ledger      uint32         `json:"ledger"`
	TxHash      string         `json:"tx_hash,omitempty"`
	User        string         `json:"user,omitempty"`
	AuctionType AuctionType    `json:"auction_type"`
	Auction     *AuctionData   `json:"auction,omitempty"`
	Filler      string         `json:"filler,omitempty"`
	FillPercent uint32         `json:"fill_percent,omitempty"`
	Action      PositionAction `json:"action"`
	Asset       string         `json:"asset,omitempty"`
	Amount      *big.Int       `json:"amount,omitempty"`
}

// ToRecord flattens an event.
func ToRecord(e Event) (EventRecord, error) {
	var r recorder
	if err := e.Dispatch(&r); err != nil {
		return EventRecord{}, err
	}
	m := e.Meta()
	r.rec.Kind = e.Kind()
	r.rec.Ledger = m.Ledger
	r.rec.TxHash = m.TxHash
	return r.rec, nil
}

// Event rebuilds the event a record was flattened from.
func (r EventRecord) Event() (Event, error) {
	meta := EventMeta{Ledger: r.Ledger, TxHash: r.TxHash}
	switch r.Kind {
	case KindPositionChange:
		return PositionChangeEvent{EventMeta: meta, Action: r.Action, User: r.User, Asset: r.Asset, Amount: r.Amount}, nil
	case KindNewAuction:
		if r.Auction == nil {
			return nil, errors.New("new auction record without auction data")
		}
		return NewAuctionEvent{EventMeta: meta, AuctionType: r.AuctionType, User: r.User, Auction: *r.Auction}, nil
	case KindNewLiquidationAuction:
		if r.Auction == nil {
			return nil, errors.New("new liquidation auction record without auction data")
		}
		return NewLiquidationAuctionEvent{EventMeta: meta, User: r.User, Auction: *r.Auction}, nil
	case KindDeleteLiquidationAuction:
		return DeleteLiquidationAuctionEvent{EventMeta: meta, User: r.User}, nil
	case KindFillAuction:
		return FillAuctionEvent{
			EventMeta:   meta,
			AuctionType: r.AuctionType,
			User:        r.User,
			Filler:      r.Filler,
			FillPercent: r.FillPercent,
		}, nil
	default:
		return nil, fmt.Errorf("unknown event kind %d", r.Kind)
	}
}

type recorder struct {
	rec EventRecord
}

func (r *recorder) HandlePositionChange(e PositionChangeEvent) error {
	r.rec.Action = e.Action
	r.rec.User = e.User
	r.rec.Asset = e.Asset
	r.rec.Amount = e.Amount
	return nil
}

func (r *recorder) HandleNewAuction(e NewAuctionEvent) error {
	a := e.Auction
	r.rec.AuctionType = e.AuctionType
	r.rec.User = e.User
	r.rec.Auction = &a
	return nil
}

func (r *recorder) HandleNewLiquidationAuction(e NewLiquidationAuctionEvent) error {
	a := e.Auction
	r.rec.AuctionType = Liquidation
	r.rec.User = e.User
	r.rec.Auction = &a
	return nil
}

func (r *recorder) HandleDeleteLiquidationAuction(e DeleteLiquidationAuctionEvent) error {
	r.rec.AuctionType = Liquidation
	r.rec.User = e.User
	return nil
}

func (r *recorder) HandleFillAuction(e FillAuctionEvent) error {
	r.rec.AuctionType = e.AuctionType
	r.rec.User = e.User
	r.rec.Filler = e.Filler
	r.rec.FillPercent = e.FillPercent
	return nil
}
