package lending

import "math/big"

// simpleInterest returns principal * rate * elapsed / (RatePrecision * SecondsPerYear).
func simpleInterest(principal *big.Int, ratePPM uint64, elapsed uint64) *big.Int {
	if principal == nil || principal.Sign() <= 0 || ratePPM == 0 || elapsed == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(principal, new(big.Int).SetUint64(ratePPM))
	numerator.Mul(numerator, new(big.Int).SetUint64(elapsed))
	return numerator.Quo(numerator, yearDenominator)
}

func elapsedSince(last, now uint64) uint64 {
	if now <= last {
		return 0
	}
	return now - last
}

// accrueLender books interest into the separate interest bucket. Principal
// is untouched so the bucket never earns interest itself.
func accrueLender(pos *LenderPosition, ratePPM uint64, now uint64) *big.Int {
	interest := pendingLenderInterest(pos, ratePPM, now)
	pos.Interest = new(big.Int).Add(valueOrZero(pos.Interest), interest)
	if now > pos.LastAccrual {
		pos.LastAccrual = now
	}
	return interest
}

func pendingLenderInterest(pos *LenderPosition, ratePPM uint64, now uint64) *big.Int {
	if pos == nil {
		return big.NewInt(0)
	}
	return simpleInterest(pos.Principal, ratePPM, elapsedSince(pos.LastAccrual, now))
}

// accrueBorrower adds interest into the loan principal, so later accruals
// compound on earlier ones.
func accrueBorrower(loan *Loan, ratePPM uint64, now uint64) *big.Int {
	interest := pendingBorrowerInterest(loan, ratePPM, now)
	loan.Principal = new(big.Int).Add(valueOrZero(loan.Principal), interest)
	if now > loan.LastAccrual {
		loan.LastAccrual = now
	}
	return interest
}

func pendingBorrowerInterest(loan *Loan, ratePPM uint64, now uint64) *big.Int {
	if loan == nil || !loan.Active {
		return big.NewInt(0)
	}
	return simpleInterest(loan.Principal, ratePPM, elapsedSince(loan.LastAccrual, now))
}
