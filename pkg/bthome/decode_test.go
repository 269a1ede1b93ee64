package bthome

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()

	var tests = []struct {
		kind     Kind
		objectID byte
		width    int
		signed   bool
		factor   float64
	}{
		{KindTemperature, 0x02, 2, true, 0.01},
		{KindHumidity, 0x03, 2, false, 0.01},
		{KindPressure, 0x04, 3, false, 0.01},
	}

	for _, tt := range tests {
		rule, err := reg.Lookup(tt.kind)
		if err != nil {
			t.Fatalf("missing registry row for %s: %s", tt.kind, err)
		}
		if rule.ObjectID != tt.objectID || rule.Width != tt.width || rule.Signed != tt.signed || rule.Factor != tt.factor {
			t.Fatalf("unexpected registry row for %s: %+v", tt.kind, rule)
		}
	}

	rules := reg.Rules()
	if len(rules) != reg.Len() {
		t.Fatalf("unexpected number of rules: got %d, want %d", len(rules), reg.Len())
	}
	for i := 1; i < len(rules); i++ {
		if rules[i].ObjectID < rules[i-1].ObjectID {
			t.Fatalf("rules not ordered by object id: %v", rules)
		}
	}

	// Each call hands out an independent registry
	if err := reg.Register(Rule{Kind: "distance", ObjectID: 0x40, Width: 2, Factor: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := DefaultRegistry().Lookup("distance"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("registration leaked into default registry: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := DefaultRegistry()

	for _, rule := range []Rule{
		{Kind: "", ObjectID: 0x40, Width: 2, Factor: 1},
		{Kind: "zero_width", ObjectID: 0x40, Width: 0, Factor: 1},
		{Kind: "wide", ObjectID: 0x40, Width: 5, Factor: 1},
		{Kind: "zero_factor", ObjectID: 0x40, Width: 2, Factor: 0},
		{Kind: "negative_factor", ObjectID: 0x40, Width: 2, Factor: -0.1},
		{Kind: "nan_factor", ObjectID: 0x40, Width: 2, Factor: math.NaN()},
		{Kind: KindTemperature, ObjectID: 0x02, Width: 2, Signed: true, Factor: 0.01},
	} {
		if err := reg.Register(rule); !errors.Is(err, ErrInvalidRule) {
			t.Fatalf("expected invalid rule error for %+v, got %v", rule, err)
		}
	}

	if _, err := NewRegistry(Rule{Kind: "wide", Width: 8, Factor: 1}); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected invalid rule error, got %v", err)
	}
}

func TestRegistryExtension(t *testing.T) {
	reg := DefaultRegistry()
	if err := reg.Register(Rule{Kind: "distance", ObjectID: 0x40, Width: 2, Factor: 1, Unit: "mm"}); err != nil {
		t.Fatal(err)
	}

	b := newTestBuilder(t, "HON", WithRegistry(reg))
	if err := b.Add("distance", 1234); err != nil {
		t.Fatal(err)
	}
	if err := b.AddTemperature(25); err != nil {
		t.Fatal(err)
	}

	sd, err := b.ServiceData()
	if err != nil {
		t.Fatal(err)
	}
	if expected := mustHex(t, "0A 16 D2 FC 40 02 C4 09 40 D2 04"); !bytes.Equal(sd, expected) {
		t.Fatalf("unexpected service data: got % X, want % X", sd, expected)
	}
}

func TestBounds(t *testing.T) {
	var tests = []struct {
		width  int
		signed bool
		lo, hi int64
	}{
		{1, false, 0, 255},
		{1, true, -128, 127},
		{2, true, -32768, 32767},
		{3, false, 0, 16777215},
		{4, false, 0, 4294967295},
		{4, true, -2147483648, 2147483647},
	}

	for _, tt := range tests {
		lo, hi := Rule{Width: tt.width, Signed: tt.signed}.Bounds()
		if lo != tt.lo || hi != tt.hi {
			t.Fatalf("unexpected bounds for width %d (signed: %v): got [%d, %d], want [%d, %d]", tt.width, tt.signed, lo, hi, tt.lo, tt.hi)
		}
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	b := newTestBuilder(t, "DIY-sensor")
	readings := []struct {
		kind Kind
		raw  float64
	}{
		{KindTemperature, -12.34},
		{KindHumidity, 50.55},
		{KindPressure, 1008.83},
		{KindPacketID, 42},
	}
	for _, r := range readings {
		if err := b.Add(r.kind, r.raw); err != nil {
			t.Fatal(err)
		}
	}

	payload, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}

	// Prepend the flags structure as the radio stack does
	adv, err := DecodeAdvertisement(append([]byte{0x02, 0x01, 0x06}, payload...), b.Registry())
	if err != nil {
		t.Fatalf("failed to decode payload % X: %s", payload, err)
	}
	if adv.Name != "DIY-sensor" {
		t.Fatalf("unexpected name: %q", adv.Name)
	}
	if len(adv.Measurements) != len(readings) {
		t.Fatalf("unexpected measurements: %v", adv.Measurements)
	}

	expected := map[Kind]float64{
		KindPacketID:    42,
		KindTemperature: -12.34,
		KindHumidity:    50.55,
		KindPressure:    1008.83,
	}
	for _, m := range adv.Measurements {
		if math.Abs(m.Value-expected[m.Kind]) > 1e-9 {
			t.Fatalf("unexpected value for %s: got %v, want %v", m.Kind, m.Value, expected[m.Kind])
		}
	}
	if adv.Measurements[0].Kind != KindPacketID {
		t.Fatalf("unexpected measurement order: %v", adv.Measurements)
	}
}

func TestDecodeStopsAtUnknownObject(t *testing.T) {
	measurements, err := Decode(mustHex(t, "D2 FC 40 02 C4 09 F0 01 02 03 03 BF 13"), DefaultRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(measurements) != 1 || measurements[0].Kind != KindTemperature || measurements[0].Scaled != 2500 {
		t.Fatalf("unexpected measurements: %v", measurements)
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, s := range []string{
		"D2 FC",                // too short
		"D3 FC 40",             // wrong UUID
		"D2 FC 41 02 C4 09",    // encrypted
		"D2 FC 20 02 C4 09",    // version 1
		"D2 FC 40 02 C4",       // truncated value
		"D2 FC 40 03 BF 13 04", // trailing tag without value
	} {
		if _, err := Decode(mustHex(t, s), DefaultRegistry()); !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected malformed error for %s, got %v", s, err)
		}
	}

	if _, err := DecodeAdvertisement(mustHex(t, "04 09 48 4F 4E"), DefaultRegistry()); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestSplitAD(t *testing.T) {
	structures, err := SplitAD(mustHex(t, "02 01 06 04 09 48 4F 4E 04 16 D2 FC 40 00 00"))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(structures) != 3 {
		t.Fatalf("unexpected number of structures: %d", len(structures))
	}
	if structures[1].Type != ADTypeCompleteName || string(structures[1].Data) != "HON" {
		t.Fatalf("unexpected name structure: %+v", structures[1])
	}
	if !bytes.Equal(structures[2].Bytes(), mustHex(t, "04 16 D2 FC 40")) {
		t.Fatalf("unexpected service data structure: % X", structures[2].Bytes())
	}

	if _, err := SplitAD(mustHex(t, "04 09 48 4F")); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}
