package logging

import "testing"

func TestEndpointHidesCredentials(t *testing.T) {
	cases := map[string]string{
		"https://eth-mainnet.g.alchemy.com/v2/secret-key": "https://eth-mainnet.g.alchemy.com/[REDACTED]",
		"https://rpc.example.org":                         "https://rpc.example.org",
		"https://rpc.example.org/?apikey=abc":             "https://rpc.example.org/[REDACTED]",
		"not a url":                                       RedactedValue,
	}
	for raw, want := range cases {
		if got := Endpoint("rpc", raw).Value.String(); got != want {
			t.Fatalf("Endpoint(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("chain_id", "1").Value.String(); got != "1" {
		t.Fatalf("allowlisted key masked: %q", got)
	}
	if got := MaskField("api_key", "abc").Value.String(); got != RedactedValue {
		t.Fatalf("expected redaction, got %q", got)
	}
	if got := MaskField("api_key", "").Value.String(); got != "" {
		t.Fatalf("empty values stay empty, got %q", got)
	}
}

func TestAllowlistIgnoresCaseAndSpace(t *testing.T) {
	if !isAllowlisted(" Chain_ID ") {
		t.Fatalf("expected chain_id to be allowlisted")
	}
	if isAllowlisted("rpc") {
		t.Fatalf("rpc must be redacted")
	}
}
