package dlc_test

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/klingon-exchange/klingon-dlc/internal/dlc"
	"github.com/klingon-exchange/klingon-dlc/internal/oracle"
)

// pointOf returns s*G for the s value of a BIP-340 signature.
func pointOf(t *testing.T, sigBytes []byte) *btcec.PublicKey {
	t.Helper()
	s, _ := btcec.PrivKeyFromBytes(sigBytes[32:64])
	return s.PubKey()
}

func TestComputeSigPointMatchesAttestation(t *testing.T) {
	o := oracle.New(privKey("oracle"))
	event, info, err := o.Announce(1)
	if err != nil {
		t.Fatal(err)
	}

	point, err := dlc.ComputeSigPoint(info.PublicKey, info.Nonces[0], oracle.HashOutcome("rain"))
	if err != nil {
		t.Fatalf("ComputeSigPoint: %v", err)
	}

	sigs, err := o.Attest(event, []string{"rain"})
	if err != nil {
		t.Fatal(err)
	}
	if !point.IsEqual(pointOf(t, sigs[0].Serialize())) {
		t.Error("signature point does not match s*G of the attestation")
	}
}

func TestAnchorSumsOracles(t *testing.T) {
	alice := oracle.New(privKey("oracle alice"))
	bob := oracle.New(privKey("oracle bob"))
	aliceEvent, aliceInfo, err := alice.Announce(2)
	if err != nil {
		t.Fatal(err)
	}
	bobEvent, bobInfo, err := bob.Announce(1)
	if err != nil {
		t.Fatal(err)
	}

	outcomes := [][]string{{"1", "0"}, {"sunny"}}
	anchor, err := dlc.AnchorFromOracleInfo([]dlc.OracleInfo{aliceInfo, bobInfo}, oracle.HashOutcomes(outcomes))
	if err != nil {
		t.Fatalf("AnchorFromOracleInfo: %v", err)
	}

	aliceSigs, err := alice.Attest(aliceEvent, outcomes[0])
	if err != nil {
		t.Fatal(err)
	}
	bobSigs, err := bob.Attest(bobEvent, outcomes[1])
	if err != nil {
		t.Fatal(err)
	}

	secret, err := dlc.SignaturesToSecret([][]*schnorr.Signature{aliceSigs, bobSigs})
	if err != nil {
		t.Fatal(err)
	}
	secretBytes := secret.Bytes()
	secretKey, _ := btcec.PrivKeyFromBytes(secretBytes[:])
	if !anchor.IsEqual(secretKey.PubKey()) {
		t.Error("anchor is not the point of the summed attestations")
	}

	policy := dlc.MultiOracle{
		Oracles:  []dlc.OracleInfo{aliceInfo, bobInfo},
		Outcomes: oracle.HashOutcomes(outcomes),
	}
	fromPolicy, err := policy.Anchor()
	if err != nil {
		t.Fatal(err)
	}
	if !fromPolicy.IsEqual(anchor) {
		t.Error("MultiOracle anchor differs from AnchorFromOracleInfo")
	}
}

func TestNumericOraclePrefix(t *testing.T) {
	o := oracle.New(privKey("numeric oracle"))
	_, info, err := o.Announce(4)
	if err != nil {
		t.Fatal(err)
	}

	// A CET covering 10xx only commits to the first two digits.
	prefix := oracle.DigitMessages([]int{1, 0})
	numeric, err := dlc.NumericOracle{Oracle: info, Digits: prefix}.Anchor()
	if err != nil {
		t.Fatalf("NumericOracle.Anchor: %v", err)
	}
	direct, err := dlc.OracleSigPoint(&info, prefix)
	if err != nil {
		t.Fatal(err)
	}
	if !numeric.IsEqual(direct) {
		t.Error("numeric anchor differs from OracleSigPoint")
	}

	single, err := dlc.SingleOracle{Oracle: info, Outcome: prefix[0]}.Anchor()
	if err != nil {
		t.Fatal(err)
	}
	if single.IsEqual(numeric) {
		t.Error("one digit and two digit anchors should differ")
	}
}

func TestAnchorFromOracleInfoErrors(t *testing.T) {
	o := oracle.New(privKey("oracle"))
	_, info, err := o.Announce(1)
	if err != nil {
		t.Fatal(err)
	}
	one := []dlc.Message{oracle.HashOutcome("a")}
	two := []dlc.Message{oracle.HashOutcome("a"), oracle.HashOutcome("b")}

	tests := []struct {
		name    string
		infos   []dlc.OracleInfo
		msgs    [][]dlc.Message
		wantErr error
	}{
		{"no oracles", nil, [][]dlc.Message{one}, dlc.ErrInvalidArgument},
		{"no messages", []dlc.OracleInfo{info}, nil, dlc.ErrInvalidArgument},
		{"empty message set", []dlc.OracleInfo{info}, [][]dlc.Message{{}}, dlc.ErrInvalidArgument},
		{"more messages than nonces", []dlc.OracleInfo{info}, [][]dlc.Message{two}, dlc.ErrInvalidArgument},
		{"count mismatch", []dlc.OracleInfo{info, info}, [][]dlc.Message{one}, dlc.ErrInvalidArgument},
		{"oracle without nonces", []dlc.OracleInfo{{PublicKey: info.PublicKey}}, [][]dlc.Message{one}, dlc.ErrInvalidArgument},
		{"oracle without key", []dlc.OracleInfo{{Nonces: info.Nonces}}, [][]dlc.Message{one}, dlc.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := dlc.AnchorFromOracleInfo(tt.infos, tt.msgs); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
