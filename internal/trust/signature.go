package trust

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrSignatureRejected blocks a start that fails the signature policy.
var ErrSignatureRejected = errors.New("image signature rejected")

// SignatureMode controls how hard the signature check bites.
type SignatureMode string

const (
	// SignatureOff skips verification entirely.
	SignatureOff SignatureMode = "off"
	// SignatureOptIn rejects only images carrying an invalid signature;
	// unsigned images pass.
	SignatureOptIn SignatureMode = "opt_in"
	// SignatureStrict requires an explicit valid signature.
	SignatureStrict SignatureMode = "strict"
)

// ParseSignatureMode validates a configured mode string.
func ParseSignatureMode(s string) (SignatureMode, error) {
	switch SignatureMode(strings.TrimSpace(s)) {
	case "", SignatureOff:
		return SignatureOff, nil
	case SignatureOptIn:
		return SignatureOptIn, nil
	case SignatureStrict:
		return SignatureStrict, nil
	default:
		return "", fmt.Errorf("invalid signature mode %q", s)
	}
}

// VerifyStatus is the classified outcome of running a signing tool.
type VerifyStatus int

const (
	// StatusValid: the tool verified a signature.
	StatusValid VerifyStatus = iota
	// StatusUnsigned: the tool ran and found no signature at all. This
	// is deliberately distinct from StatusInvalid — opt_in mode hinges
	// on the difference.
	StatusUnsigned
	// StatusInvalid: a signature exists but failed verification.
	StatusInvalid
)

// Verifier wraps one external signing tool.
type Verifier interface {
	Name() string
	Installed() bool
	Verify(ctx context.Context, image string) (VerifyStatus, string, error)
}

// unsignedMarkers are textual fragments the tools print when an image
// simply has no signature, as opposed to a broken one.
var unsignedMarkers = []string{
	"no signatures found",
	"no matching signatures",
	"no signature is associated",
	"no signatures are associated",
}

func classifyToolOutput(runErr error, output string) (VerifyStatus, string) {
	if runErr == nil {
		return StatusValid, output
	}
	lower := strings.ToLower(output)
	for _, marker := range unsignedMarkers {
		if strings.Contains(lower, marker) {
			return StatusUnsigned, output
		}
	}
	return StatusInvalid, output
}

// CosignVerifier shells out to cosign.
type CosignVerifier struct{}

func (CosignVerifier) Name() string { return "cosign" }

func (CosignVerifier) Installed() bool {
	_, err := exec.LookPath("cosign")
	return err == nil
}

func (CosignVerifier) Verify(ctx context.Context, image string) (VerifyStatus, string, error) {
	out, err := exec.CommandContext(ctx, "cosign", "verify", image).CombinedOutput()
	status, detail := classifyToolOutput(err, string(out))
	return status, detail, nil
}

// NotationVerifier shells out to notation.
type NotationVerifier struct{}

func (NotationVerifier) Name() string { return "notation" }

func (NotationVerifier) Installed() bool {
	_, err := exec.LookPath("notation")
	return err == nil
}

func (NotationVerifier) Verify(ctx context.Context, image string) (VerifyStatus, string, error) {
	out, err := exec.CommandContext(ctx, "notation", "verify", image).CombinedOutput()
	status, detail := classifyToolOutput(err, string(out))
	return status, detail, nil
}

// VerifySignature applies the mode matrix using the first installed
// verifier, in priority order.
//
//	off    × anything                      → pass
//	opt_in × {valid, unsigned, no tool}    → pass
//	opt_in × invalid                       → fail
//	strict × valid                         → pass
//	strict × {unsigned, invalid, no tool}  → fail
func VerifySignature(ctx context.Context, mode SignatureMode, verifiers []Verifier, image string) (Decision, error) {
	if mode == SignatureOff || mode == "" {
		return Decision{
			Level:  LevelVerified,
			Source: SourceSignature,
			Reason: "signature verification disabled",
			Image:  image,
		}, nil
	}

	var active Verifier
	for _, v := range verifiers {
		if v.Installed() {
			active = v
			break
		}
	}

	if active == nil {
		if mode == SignatureStrict {
			d := Decision{
				Level:  LevelBlocked,
				Source: SourceSignature,
				Reason: "strict mode requires a signature but no signing tool is installed",
				Image:  image,
			}
			return d, fmt.Errorf("verify %s: no signing tool installed: %w", image, ErrSignatureRejected)
		}
		return Decision{
			Level:  LevelUnverified,
			Source: SourceSignature,
			Reason: "no signing tool installed, skipping verification",
			Image:  image,
		}, nil
	}

	status, detail, err := active.Verify(ctx, image)
	if err != nil {
		return Decision{}, fmt.Errorf("run %s: %w", active.Name(), err)
	}

	switch status {
	case StatusValid:
		return Decision{
			Level:  LevelVerified,
			Source: SourceSignature,
			Reason: fmt.Sprintf("%s verified the signature", active.Name()),
			Image:  image,
		}, nil
	case StatusUnsigned:
		if mode == SignatureStrict {
			d := Decision{
				Level:  LevelBlocked,
				Source: SourceSignature,
				Reason: fmt.Sprintf("%s found no signature and mode is strict", active.Name()),
				Image:  image,
			}
			return d, fmt.Errorf("image %s is unsigned: %w", image, ErrSignatureRejected)
		}
		return Decision{
			Level:  LevelUnverified,
			Source: SourceSignature,
			Reason: fmt.Sprintf("%s found no signature", active.Name()),
			Image:  image,
		}, nil
	default:
		d := Decision{
			Level:  LevelBlocked,
			Source: SourceSignature,
			Reason: fmt.Sprintf("%s rejected the signature: %s", active.Name(), strings.TrimSpace(detail)),
			Image:  image,
		}
		return d, fmt.Errorf("image %s signature invalid: %w", image, ErrSignatureRejected)
	}
}
