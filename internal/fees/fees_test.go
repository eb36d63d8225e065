package fees

import (
	"errors"
	"testing"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name       string
		price      int64
		wantFee    int64
		wantPayout int64
	}{
		{"10 percent under cap", 3000, 300, 2700},
		{"exactly at cap", 5000, 500, 4500},
		{"cap applies above 5000", 20000, 500, 19500},
		{"max price still capped", 50000, 500, 49500},
		{"minimum price", 2000, 200, 1800},
		{"odd amount rounds fee", 2555, 256, 2299},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Calculate(tt.price)
			if b.PlatformFee != tt.wantFee {
				t.Errorf("PlatformFee = %d, want %d", b.PlatformFee, tt.wantFee)
			}
			if b.ProviderPayout != tt.wantPayout {
				t.Errorf("ProviderPayout = %d, want %d", b.ProviderPayout, tt.wantPayout)
			}
		})
	}
}

// Fee plus payout must reconstruct the price for every valid price, and
// the fee can never exceed the cap.
func TestCalculate_SumAndCapInvariant(t *testing.T) {
	for price := int64(MinPriceCents); price <= MaxPriceCents; price += 7 {
		b := Calculate(price)
		if b.PlatformFee+b.ProviderPayout != price {
			t.Fatalf("fee %d + payout %d != price %d", b.PlatformFee, b.ProviderPayout, price)
		}
		if b.PlatformFee > FeeCapCents {
			t.Fatalf("fee %d exceeds cap for price %d", b.PlatformFee, price)
		}
	}
}

func TestValidatePrice(t *testing.T) {
	if err := ValidatePrice(1999); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("price below minimum should fail, got %v", err)
	}
	if err := ValidatePrice(50001); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("price above maximum should fail, got %v", err)
	}
	if err := ValidatePrice(2000); err != nil {
		t.Errorf("minimum price should pass, got %v", err)
	}
	if err := ValidatePrice(50000); err != nil {
		t.Errorf("maximum price should pass, got %v", err)
	}
}

func TestPriceGuidance(t *testing.T) {
	if g := PriceGuidance(1.5); g.Tier != "short" || g.Suggested != 4000 {
		t.Errorf("short tier wrong: %+v", g)
	}
	if g := PriceGuidance(12); g.Tier != "extended" || g.Max != 20000 {
		t.Errorf("extended tier wrong: %+v", g)
	}
}
