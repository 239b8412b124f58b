package identity

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeAddress(t *testing.T) {
	// Same address, three casings; all normalize to the checksummed form.
	want := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	for _, in := range []string{
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		"0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED",
		want,
	} {
		got, err := NormalizeAddress(in)
		if err != nil {
			t.Fatalf("NormalizeAddress(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeAddressRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "alice", "0x1234", "0xZZeb6053f3e94c9b9a09f33669435e7ef1beaed"} {
		if _, err := NormalizeAddress(in); !errors.Is(err, ErrMalformedAddress) {
			t.Errorf("NormalizeAddress(%q): expected ErrMalformedAddress, got %v", in, err)
		}
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusActive, StatusRecoveryPending, true},
		{StatusActive, StatusRevoked, true},
		{StatusRecoveryPending, StatusActive, true},
		{StatusRecoveryPending, StatusRevoked, true},
		{StatusActive, StatusActive, false},
		{StatusRevoked, StatusActive, false},
		{StatusRevoked, StatusRecoveryPending, false},
		{StatusUnregistered, StatusActive, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestAddressListContains(t *testing.T) {
	l := AddressList{"0xaa", "0xbb"}
	if !l.Contains("0xaa") {
		t.Error("expected 0xaa to be a member")
	}
	if l.Contains("0xcc") {
		t.Error("did not expect 0xcc to be a member")
	}
	if (AddressList)(nil).Contains("0xaa") {
		t.Error("nil list contains nothing")
	}
}

func TestAddressListRoundTrip(t *testing.T) {
	l := AddressList{"0xaa", "0xbb"}
	v, err := l.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var got AddressList
	if err := got.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 2 || got[0] != "0xaa" || got[1] != "0xbb" {
		t.Errorf("round trip mismatch: %v", got)
	}

	var empty AddressList
	if err := empty.Scan(nil); err != nil || empty != nil {
		t.Errorf("scanning nil should yield a nil list, got %v (%v)", empty, err)
	}
}

func TestRecoveryRequestExpired(t *testing.T) {
	now := time.Now()
	r := &RecoveryRequest{OpenedAt: now, ExpiresAt: now.Add(time.Hour)}
	if r.Expired(now) {
		t.Error("request should not be expired inside its window")
	}
	if !r.Expired(now.Add(2 * time.Hour)) {
		t.Error("request should be expired past its window")
	}
}

func TestRecoveryRequestQuorate(t *testing.T) {
	r := &RecoveryRequest{Threshold: 2, Signatures: SignatureMap{}}
	if r.Quorate() {
		t.Error("empty request should not be quorate")
	}
	r.Signatures["0xaa"] = []byte{1}
	if r.Quorate() {
		t.Error("one of two signatures should not be quorate")
	}
	r.Signatures["0xbb"] = []byte{2}
	if !r.Quorate() {
		t.Error("two of two signatures should be quorate")
	}
}
