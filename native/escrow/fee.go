package escrow

import "math/big"

// SplitPayment divides an incoming payment into the ledger fee and the seller
// payout. The fee is floor(amount * percent / 100); the payout is the rest.
func SplitPayment(amount *big.Int, feePercent uint8) (fee *big.Int, payout *big.Int) {
	total := cloneBigInt(amount)
	if total.Sign() <= 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	fee = new(big.Int).Mul(total, new(big.Int).SetUint64(uint64(feePercent)))
	fee.Div(fee, big.NewInt(FeeDenominator))
	payout = new(big.Int).Sub(total, fee)
	return fee, payout
}
