package execution

import (
	"math"
	"sort"

	"solana-hype-trader/internal/domain"
)

// OwnerDelta returns the change of owner's balance of mint across the
// transaction, in UI units, with the token decimals. found is false when the
// owner holds no account of that mint in the transaction.
func OwnerDelta(b *domain.TxBalances, owner, mint string) (delta float64, decimals int, found bool) {
	if b == nil || !b.Found {
		return 0, 0, false
	}

	var pre, post float64
	for _, tb := range b.Pre {
		if tb.Owner == owner && tb.Mint == mint {
			pre += tb.UIAmount
			decimals, found = tb.Decimals, true
		}
	}
	for _, tb := range b.Post {
		if tb.Owner == owner && tb.Mint == mint {
			post += tb.UIAmount
			decimals, found = tb.Decimals, true
		}
	}
	return post - pre, decimals, found
}

// PoolPriceImpact estimates the price impact the transaction had on the pool.
// Balances not owned by trader are summed per mint; the two mints with the
// largest absolute change are taken as the pool reserves (a, b) and the
// impact is the percent change of b/a. Returns nil when fewer than two mints
// moved or any reserve is not positive.
func PoolPriceImpact(b *domain.TxBalances, trader string) *float64 {
	if b == nil || !b.Found {
		return nil
	}

	pre := sumByMint(b.Pre, trader)
	post := sumByMint(b.Post, trader)

	type move struct {
		mint  string
		delta float64
	}
	var moves []move
	seen := make(map[string]struct{})
	for _, m := range []map[string]float64{pre, post} {
		for mint := range m {
			if _, ok := seen[mint]; ok {
				continue
			}
			seen[mint] = struct{}{}
			moves = append(moves, move{mint: mint, delta: post[mint] - pre[mint]})
		}
	}
	if len(moves) < 2 {
		return nil
	}

	sort.Slice(moves, func(i, j int) bool {
		di, dj := math.Abs(moves[i].delta), math.Abs(moves[j].delta)
		if di != dj {
			return di > dj
		}
		return moves[i].mint < moves[j].mint
	})

	a, bm := moves[0].mint, moves[1].mint
	preA, preB := pre[a], pre[bm]
	postA, postB := post[a], post[bm]
	if preA <= 0 || preB <= 0 || postA <= 0 || postB <= 0 {
		return nil
	}

	before := preB / preA
	after := postB / postA
	pi := (after - before) / before * 100
	return &pi
}

func sumByMint(balances []domain.TokenBalance, exclude string) map[string]float64 {
	out := make(map[string]float64)
	for _, tb := range balances {
		if tb.Owner == exclude {
			continue
		}
		out[tb.Mint] += tb.UIAmount
	}
	return out
}
