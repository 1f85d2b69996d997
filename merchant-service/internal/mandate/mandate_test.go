package mandate

import "testing"

func referenceContents() Contents {
	return Contents{
		PaymentMandateID: "mnd_1",
		Timestamp:        "2026-08-03T00:00:00Z",
		PaymentDetailsID: "pd_1",
		PaymentDetailsTotal: CurrencyAmount{
			Currency: "SGD",
			Value:    9.975,
		},
		PaymentResponse: PaymentResponse{
			RequestID:  "req_1",
			MethodName: "CARD",
			Details: PaymentResponseDetails{
				Token:        "1234567890123456",
				Cryptogram:   "AABBCCDD00112233AABBCCDD00112233",
				CardLastFour: "5678",
				CardNetwork:  "mastercard",
			},
			PayerEmail: "a@example.com",
			PayerName:  "A Shopper",
		},
		MerchantAgent: "merchant-1",
	}
}

// TestCanonicalizationMatchesReferenceVectors pins the canonical digest
// format so the merchant-service and shopper-service copies of this file
// cannot silently drift: any edit to one that changes this output must be
// mirrored in the other, or mandate verification breaks across the wire.
func TestCanonicalizationMatchesReferenceVectors(t *testing.T) {
	got := string(Canonicalize(referenceContents()))
	want := `{"merchant_agent":"merchant-1","payment_details_id":"pd_1","payment_details_total":{"currency":"SGD","value":9.98},"payment_mandate_id":"mnd_1","payment_response":{"details":{"card_last_four":"5678","card_network":"mastercard","cryptogram":"AABBCCDD00112233AABBCCDD00112233","token":"1234567890123456"},"method_name":"CARD","payer_email":"a@example.com","payer_name":"A Shopper","request_id":"req_1"},"timestamp":"2026-08-03T00:00:00Z"}`
	if got != want {
		t.Fatalf("canonical digest mismatch:\n got: %s\nwant: %s", got, want)
	}
}

func TestCanonicalizeIsDeterministic(t *testing.T) {
	c := referenceContents()
	a := Canonicalize(c)
	b := Canonicalize(c)
	if string(a) != string(b) {
		t.Fatalf("canonicalization is not deterministic")
	}
}

func TestRoundMoneyBankersRounding(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0.125, 0.12}, // exact midpoint, 12 is even: rounds down
		{0.375, 0.38}, // exact midpoint, 37 is odd: rounds up
		{1.125, 1.12}, // exact midpoint, 112 is even: rounds down
		{1.375, 1.38}, // exact midpoint, 137 is odd: rounds up
		{9.975, 9.98},
		{1.0, 1.0},
	}
	for _, tc := range cases {
		got := RoundMoney(tc.in)
		if got != tc.want {
			t.Errorf("RoundMoney(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestCanonicalizeDiffersOnFieldChange(t *testing.T) {
	c := referenceContents()
	base := Canonicalize(c)
	c.PaymentResponse.PayerEmail = "other@example.com"
	changed := Canonicalize(c)
	if string(base) == string(changed) {
		t.Fatalf("expected canonical digest to change when payer_email changes")
	}
}
