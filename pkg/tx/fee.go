package tx

// KB is the size unit fees are charged in.
const KB = 1024

// DefaultFeePerKB is the minimum relay price in base units per started kilobyte.
const DefaultFeePerKB uint64 = 100_000

// FeePolicy maps a transaction size in bytes to the fee it must pay.
type FeePolicy interface {
	ComputeFee(size int) uint64
}

// FeeFunc adapts a plain function to FeePolicy.
type FeeFunc func(size int) uint64

// ComputeFee calls f.
func (f FeeFunc) ComputeFee(size int) uint64 {
	return f(size)
}

// PerKBFee charges its value for every started kilobyte.
type PerKBFee uint64

// ComputeFee returns ceil(size/KB) * price.
func (p PerKBFee) ComputeFee(size int) uint64 {
	if size <= 0 {
		return 0
	}
	kbs := uint64(size / KB)
	if size%KB > 0 {
		kbs++
	}
	return kbs * uint64(p)
}
