package types

import (
	"encoding/json"
	"testing"
)

func TestMoneyDisplay(t *testing.T) {
	tests := []struct {
		name    string
		money   Money
		display string
	}{
		{"EUR", EUR(500), "€5.00"},
		{"USD", USD(1999), "$19.99"},
		{"GBP", GBP(5), "£0.05"},
		{"Zero", Zero("EUR"), "€0.00"},
		{"Negative", EUR(-250), "€-2.50"},
		{"Unknown currency", Money{Amount: 1000, Currency: "chf"}, "CHF 10.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.money.String(); got != tt.display {
				t.Errorf("got %s, want %s", got, tt.display)
			}
		})
	}
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		input    string
		currency string
		want     Money
		wantErr  bool
	}{
		{"5.00", "EUR", EUR(500), false},
		{"10", "eur", EUR(1000), false},
		{"19.9", "usd", USD(1990), false},
		{"0.001", "eur", Money{}, true},
		{"abc", "eur", Money{}, true},
		{"100", "jpy", Money{Amount: 100, Currency: "jpy"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.input+"_"+tt.currency, func(t *testing.T) {
			got, err := ParseMoney(tt.input, tt.currency)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	if got := EUR(500).Add(EUR(250)); !got.Equal(EUR(750)) {
		t.Errorf("Add: got %v", got)
	}
	if got := EUR(500).Multiply(3); !got.Equal(EUR(1500)) {
		t.Errorf("Multiply: got %v", got)
	}
}

func TestMoneyCurrencyMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on currency mismatch")
		}
	}()
	_ = EUR(100).Add(USD(100))
}

func TestMoneyDecimal(t *testing.T) {
	if got := EUR(1000).Decimal().String(); got != "10" {
		t.Errorf("got %s, want 10", got)
	}
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(EUR(500))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"amount":500,"currency":"eur","display":"€5.00"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}

	var m Money
	if err := json.Unmarshal([]byte(`{"amount":2000,"currency":"EUR","display":"ignored"}`), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !m.Equal(EUR(2000)) {
		t.Errorf("got %+v", m)
	}
}
