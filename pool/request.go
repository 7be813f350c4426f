package pool

import (
	"fmt"
	"math"
	"math/big"
)

// RequestType is the type of a pool submit request.
type RequestType uint32

const (
	Supply RequestType = iota
	Withdraw
	SupplyCollateral
	WithdrawCollateral
	Borrow
	Repay
	FillUserLiquidationAuction
	FillBadDebtAuction
	FillInterestAuction
	DeleteLiquidationAuction
)

func (t RequestType) String() string {
	switch t {
	case Supply:
		return "supply"
	case Withdraw:
		return "withdraw"
	case SupplyCollateral:
		return "supply-collateral"
	case WithdrawCollateral:
		return "withdraw-collateral"
	case Borrow:
		return "borrow"
	case Repay:
		return "repay"
	case FillUserLiquidationAuction:
		return "fill-user-liquidation-auction"
	case FillBadDebtAuction:
		return "fill-bad-debt-auction"
	case FillInterestAuction:
		return "fill-interest-auction"
	case DeleteLiquidationAuction:
		return "delete-liquidation-auction"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// FillRequestType returns the fill request type for an auction type.
func FillRequestType(t AuctionType) (RequestType, error) {
	switch t {
	case Liquidation:
		return FillUserLiquidationAuction, nil
	case BadDebt:
		return FillBadDebtAuction, nil
	case Interest:
		return FillInterestAuction, nil
	default:
		return 0, fmt.Errorf("no fill request for auction type %s", t)
	}
}

// Request is a single operation of a pool submit.
type Request struct {
	RequestType RequestType `json:"request_type"`
	// Address is the asset for position requests, or the auctioned user
	// for fill requests.
	Address string   `json:"address"`
	Amount  *big.Int `json:"amount"`
}

// MaxAmount withdraws the full position when used as a request amount.
var MaxAmount = big.NewInt(math.MaxInt64)
