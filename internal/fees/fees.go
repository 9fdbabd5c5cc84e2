package fees

import "math"

const (
	// ReferenceTxBytes is the transaction size used to price the network fee.
	ReferenceTxBytes = 200
	satoshisPerBTC   = 100_000_000

	minimumFeeBTC = 0.0002
	makerRate     = 0.002
	takerRate     = 0.003
	takerTxCount  = 3
)

// Estimator derives maker/taker fee estimates in BTC.
type Estimator struct {
	networkFeeBTC float64
}

// NewEstimator builds an estimator for a fee rate in satoshis per byte.
// A non-positive rate disables the network component.
func NewEstimator(satPerByte int64) Estimator {
	if satPerByte <= 0 {
		return Estimator{}
	}
	return Estimator{networkFeeBTC: float64(satPerByte) * ReferenceTxBytes / satoshisPerBTC}
}

// NetworkFee returns the network fee of the reference transaction in BTC.
func (e Estimator) NetworkFee() float64 {
	return e.networkFeeBTC
}

// Estimate returns maker and taker fees for a trade of amountBTC at the given market distance.
func (e Estimator) Estimate(amountBTC, distancePercent float64) (maker, taker float64) {
	distance := math.Abs(distancePercent)
	maker = math.Max(minimumFeeBTC, makerRate*amountBTC*math.Sqrt(distance)) + e.networkFeeBTC
	taker = math.Max(minimumFeeBTC, takerRate*amountBTC) + takerTxCount*e.networkFeeBTC
	return maker, taker
}
