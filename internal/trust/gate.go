package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"warden/internal/blueprint"
)

// ErrBlocked is returned when classification itself refuses an image
// (currently only unparseable references).
var ErrBlocked = errors.New("image blocked by trust policy")

// Gate runs the full pre-start trust pipeline: classification, digest
// policy, signature policy. The checks are independent and sequential;
// the first violation wins.
type Gate struct {
	digests   DigestResolver
	mode      SignatureMode
	verifiers []Verifier
}

// NewGate builds a Gate with the standard verifier priority: cosign
// first, then notation.
func NewGate(digests DigestResolver, mode SignatureMode) *Gate {
	return &Gate{
		digests:   digests,
		mode:      mode,
		verifiers: []Verifier{CosignVerifier{}, NotationVerifier{}},
	}
}

// WithVerifiers overrides the signing tools. Used by tests.
func (g *Gate) WithVerifiers(verifiers ...Verifier) *Gate {
	g.verifiers = verifiers
	return g
}

// EvaluateBlueprint classifies without enforcing digest or signature
// policy.
func (g *Gate) EvaluateBlueprint(bp blueprint.Blueprint) Decision {
	return Classify(bp)
}

// EvaluateImage classifies a bare image reference.
func (g *Gate) EvaluateImage(ref string) Decision {
	return ClassifyImage(ref)
}

// CheckDigestPolicy enforces the blueprint's digest pin, if any.
func (g *Gate) CheckDigestPolicy(ctx context.Context, bp blueprint.Blueprint) (Decision, error) {
	return CheckDigestPolicy(ctx, g.digests, bp.Image, bp.PinnedDigest)
}

// VerifySignature applies the configured signature mode to an image.
func (g *Gate) VerifySignature(ctx context.Context, image string) (Decision, error) {
	return VerifySignature(ctx, g.mode, g.verifiers, image)
}

// Authorize runs every check in order and fails closed on the first
// violation. The returned decisions cover all checks that ran, for
// auditing; on error the last decision is the violation.
func (g *Gate) Authorize(ctx context.Context, bp blueprint.Blueprint) ([]Decision, error) {
	decisions := make([]Decision, 0, 3)

	classified := Classify(bp)
	decisions = append(decisions, classified)
	if classified.Level == LevelBlocked {
		return decisions, fmt.Errorf("blueprint %s: %s: %w", bp.ID, classified.Reason, ErrBlocked)
	}
	if classified.Level == LevelUnverified {
		slog.Warn("Deploying unverified blueprint.", "blueprint", bp.ID, "reason", classified.Reason)
	}

	digestDecision, err := CheckDigestPolicy(ctx, g.digests, bp.Image, bp.PinnedDigest)
	decisions = append(decisions, digestDecision)
	if err != nil {
		return decisions, err
	}
	if digestDecision.Level == LevelVerified && bp.PinnedDigest == "" && bp.Image != "" {
		slog.Warn("Image digest not pinned.", "blueprint", bp.ID, "image", bp.Image, "digest", digestDecision.Digest)
	}

	// Signature policy only applies to pulled images; locally built
	// images have nothing a registry could have signed.
	if bp.Image != "" {
		sigDecision, err := VerifySignature(ctx, g.mode, g.verifiers, bp.Image)
		decisions = append(decisions, sigDecision)
		if err != nil {
			return decisions, err
		}
		if sigDecision.Level == LevelUnverified {
			slog.Warn("Image signature not verified.", "blueprint", bp.ID, "image", bp.Image, "reason", sigDecision.Reason)
		}
	}

	return decisions, nil
}
