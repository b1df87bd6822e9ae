package stampduty

import (
	"context"
	"fmt"
	"math"
	"math/bits"

	"go.uber.org/zap"

	"github.com/bhulekhchain/title-registry/internal/domain"
	"github.com/bhulekhchain/title-registry/internal/ledger"
	"github.com/bhulekhchain/title-registry/internal/logger"
)

const basisPointsDivisor = 10000

// Calculator computes the fees due on a transfer
//
//go:generate mockgen -source=calculator.go -destination=../mocks/stampduty.go -package=mocks -mock_names=Calculator=MockStampDutyCalculator
type Calculator interface {
	// Calculate prices a sale of the property at the declared value
	Calculate(ctx context.Context, propertyID domain.PropertyID, areaCentiSqM, declaredValue int64) (*domain.StampDutyBreakdown, error)
}

type calculator struct {
	ledger ledger.Client
}

// NewCalculator creates a calculator reading circle rates and overrides from the ledger
func NewCalculator(client ledger.Client) Calculator {
	return &calculator{ledger: client}
}

func (c *calculator) Calculate(ctx context.Context, propertyID domain.PropertyID, areaCentiSqM, declaredValue int64) (*domain.StampDutyBreakdown, error) {
	if declaredValue <= 0 {
		return nil, domain.Errorf(domain.CodeValidation, "declared value must be positive, got %d", declaredValue)
	}
	if areaCentiSqM <= 0 {
		return nil, domain.Errorf(domain.CodeValidation, "area of %s must be positive", propertyID)
	}

	circleRate, err := ledger.CircleRate(ctx, c.ledger, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get circle rate: %w", err)
	}
	if circleRate == 0 {
		logger.WarnCtx(ctx, "No circle rate on the ledger, using declared value",
			zap.String("propertyID", propertyID.String()))
	}

	state := propertyID.StateCode()
	rates := DefaultRatesFor(state)
	override, err := ledger.StampDutyConfig(ctx, c.ledger, state)
	if err != nil {
		return nil, fmt.Errorf("failed to get stamp duty config: %w", err)
	}
	if override != nil {
		rates = Rates{
			StampDutyBP:    override.StampDutyBP,
			RegistrationBP: override.RegistrationBP,
			SurchargeBP:    override.SurchargeBP,
		}
	}

	b, err := Compute(state, circleRate, areaCentiSqM, declaredValue, rates)
	if err != nil {
		return nil, err
	}
	logger.DebugCtx(ctx, "stamp duty computed",
		zap.String("propertyID", propertyID.String()),
		zap.Int64("applicableValue", b.ApplicableValue),
		zap.Int64("totalFees", b.TotalFees))
	return &b, nil
}

// Compute prices a transfer. The applicable value is the larger of the declared
// value and the circle-rate value; every amount rounds down to whole paisa.
// Products are taken at 128 bits, so only a fee that itself exceeds int64 is rejected.
func Compute(state string, circleRatePerSqM, areaCentiSqM, declaredValue int64, rates Rates) (domain.StampDutyBreakdown, error) {
	circleValue, ok := mulDiv(circleRatePerSqM, areaCentiSqM, 100)
	if !ok {
		return domain.StampDutyBreakdown{}, outOfRange("circle-rate value", circleRatePerSqM, areaCentiSqM)
	}
	applicable := declaredValue
	if circleValue > applicable {
		applicable = circleValue
	}

	duty, ok := mulDiv(applicable, rates.StampDutyBP, basisPointsDivisor)
	if !ok {
		return domain.StampDutyBreakdown{}, outOfRange("stamp duty", applicable, rates.StampDutyBP)
	}
	fee, ok := mulDiv(applicable, rates.RegistrationBP, basisPointsDivisor)
	if !ok {
		return domain.StampDutyBreakdown{}, outOfRange("registration fee", applicable, rates.RegistrationBP)
	}
	surcharge, ok := mulDiv(applicable, rates.SurchargeBP, basisPointsDivisor)
	if !ok {
		return domain.StampDutyBreakdown{}, outOfRange("surcharge", applicable, rates.SurchargeBP)
	}
	if duty > math.MaxInt64-fee || duty+fee > math.MaxInt64-surcharge {
		return domain.StampDutyBreakdown{}, domain.Errorf(domain.CodeValidation,
			"total fees on applicable value %d exceed the representable range", applicable)
	}

	return domain.StampDutyBreakdown{
		State:           state,
		CircleRateValue: circleValue,
		DeclaredValue:   declaredValue,
		ApplicableValue: applicable,
		StampDutyRateBP: rates.StampDutyBP,
		StampDutyAmount: duty,
		RegistrationBP:  rates.RegistrationBP,
		RegistrationFee: fee,
		SurchargeBP:     rates.SurchargeBP,
		SurchargeAmount: surcharge,
		TotalFees:       duty + fee + surcharge,
	}, nil
}

// mulDiv returns a*b/c rounded down. ok is false for negative operands or a
// quotient outside int64.
func mulDiv(a, b, c int64) (int64, bool) {
	if a < 0 || b < 0 || c <= 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(c) {
		return 0, false
	}
	q, _ := bits.Div64(hi, lo, uint64(c))
	if q > math.MaxInt64 {
		return 0, false
	}
	return int64(q), true
}

func outOfRange(what string, a, b int64) error {
	return domain.Errorf(domain.CodeValidation, "%s of %d x %d is out of range", what, a, b)
}
