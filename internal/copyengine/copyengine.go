// Package copyengine turns one Master TradeSignal into zero or more
// transformed TradeSignals, one per eligible Slave membership, per the
// nine-stage pipeline: eligibility, pending-order filter, symbol
// normalization, source-lot filter, symbol filter, magic filter, symbol
// mapping, symbol finalization, and direction reversal.
//
// Lot multiplication, retry, slippage handling, synchronization execution,
// and pending-order placement are Slave-side responsibilities and are not
// performed here.
package copyengine

import (
	"relay/internal/domain"
	"relay/internal/wire"
)

// SkipReason names why a (signal, member) pair produced no output. An empty
// SkipReason means the transform succeeded.
type SkipReason string

const (
	SkipNotEligible           SkipReason = "not_eligible"
	SkipPendingOrderNotAllowed SkipReason = "pending_order_not_allowed"
	SkipSourceLotBelowMin     SkipReason = "source_lot_below_min"
	SkipSourceLotAboveMax     SkipReason = "source_lot_above_max"
	SkipSymbolNotAllowed      SkipReason = "symbol_not_allowed"
	SkipSymbolBlocked         SkipReason = "symbol_blocked"
	SkipMagicNotAllowed       SkipReason = "magic_not_allowed"
	SkipMagicBlocked          SkipReason = "magic_blocked"
)

var reversedOrderType = map[string]string{
	"Buy": "Sell", "Sell": "Buy",
	"BuyLimit": "SellLimit", "SellLimit": "BuyLimit",
	"BuyStop": "SellStop", "SellStop": "BuyStop",
}

func isPendingOrderType(orderType string) bool {
	return orderType != "Buy" && orderType != "Sell"
}

// normalizeSymbol strips the Master's configured prefix/suffix, if present,
// to recover the canonical (broker-independent) symbol name.
func normalizeSymbol(raw, prefix, suffix string) string {
	s := raw
	if prefix != "" && len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		s = s[len(prefix):]
	}
	if suffix != "" && len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix {
		s = s[:len(s)-len(suffix)]
	}
	return s
}

func mapSymbol(canonical string, mappings []domain.SymbolMapping) string {
	for _, m := range mappings {
		if m.Source == canonical {
			return m.Target
		}
	}
	return canonical
}

func containsString(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt64(is []int64, v int64) bool {
	for _, i := range is {
		if i == v {
			return true
		}
	}
	return false
}

// MemberContext carries everything Transform needs about one Slave
// membership in order to evaluate a single TradeSignal against it.
type MemberContext struct {
	MasterAccount  string
	SlaveAccount   string
	MasterSettings domain.MasterSettings
	SlaveSettings  domain.SlaveSettings
	RuntimeStatus  int
	AllowNewOrders bool
}

// Transform runs the nine-stage pipeline for one (signal, member) pair. A
// non-empty SkipReason means no signal should be published for this member;
// the returned *wire.TradeSignal is nil in that case.
//
// Only Open signals carry the symbol/lot/magic fields the filter and mapping
// stages inspect; Close and Modify signals are ticket-addressed and pass
// through unchanged once the eligibility gate admits them.
func Transform(signal *wire.TradeSignal, ctx MemberContext) (*wire.TradeSignal, SkipReason) {
	if ctx.RuntimeStatus != domain.StatusConnected || !ctx.AllowNewOrders {
		return nil, SkipNotEligible
	}

	out := *signal
	if signal.Action != wire.ActionOpen {
		return &out, ""
	}

	if isPendingOrderType(*signal.OrderType) && !ctx.SlaveSettings.CopyPendingOrders {
		return nil, SkipPendingOrderNotAllowed
	}

	canonical := normalizeSymbol(*signal.Symbol, ctx.MasterSettings.SymbolPrefix, ctx.MasterSettings.SymbolSuffix)

	if ctx.SlaveSettings.SourceLotMin != nil && *signal.Lots < *ctx.SlaveSettings.SourceLotMin {
		return nil, SkipSourceLotBelowMin
	}
	if ctx.SlaveSettings.SourceLotMax != nil && *signal.Lots > *ctx.SlaveSettings.SourceLotMax {
		return nil, SkipSourceLotAboveMax
	}

	if len(ctx.SlaveSettings.AllowedSymbols) > 0 && !containsString(ctx.SlaveSettings.AllowedSymbols, canonical) {
		return nil, SkipSymbolNotAllowed
	}
	if containsString(ctx.SlaveSettings.BlockedSymbols, canonical) {
		return nil, SkipSymbolBlocked
	}

	var magic int64
	if signal.MagicNumber != nil {
		magic = *signal.MagicNumber
	}
	if len(ctx.SlaveSettings.AllowedMagicNumbers) > 0 && !containsInt64(ctx.SlaveSettings.AllowedMagicNumbers, magic) {
		return nil, SkipMagicNotAllowed
	}
	if containsInt64(ctx.SlaveSettings.BlockedMagicNumbers, magic) {
		return nil, SkipMagicBlocked
	}

	mapped := mapSymbol(canonical, ctx.SlaveSettings.SymbolMappings)
	finalSymbol := ctx.SlaveSettings.SymbolPrefix + mapped + ctx.SlaveSettings.SymbolSuffix

	orderType := *signal.OrderType
	if ctx.SlaveSettings.ReverseTrade {
		if reversed, ok := reversedOrderType[orderType]; ok {
			orderType = reversed
		}
	}

	out.Symbol = &finalSymbol
	out.OrderType = &orderType
	return &out, ""
}
