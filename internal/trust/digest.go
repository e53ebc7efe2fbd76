package trust

import (
	"context"
	"errors"
	"fmt"
)

// ErrDigestMismatch blocks a start whose pinned digest cannot be matched
// against the locally resolved one. There is no override.
var ErrDigestMismatch = errors.New("image digest mismatch")

// DigestResolver resolves the content digest of a locally cached image.
type DigestResolver interface {
	ImageDigest(ctx context.Context, ref string) (string, error)
}

// CheckDigestPolicy enforces digest pinning:
//
//   - no image reference (pure build): nothing to pin, allowed;
//   - image without a pin: allowed, the decision carries the resolved
//     digest (or "unresolvable") as a warning for operators who may want
//     to pin it;
//   - pinned digest: resolved digest must match exactly, byte for byte.
//     Unresolvable or mismatched digests fail closed.
func CheckDigestPolicy(ctx context.Context, resolver DigestResolver, image, pinned string) (Decision, error) {
	if image == "" {
		return Decision{
			Level:  LevelVerified,
			Source: SourceDigestPin,
			Reason: "no image reference, digest policy not applicable",
		}, nil
	}

	resolved, err := resolver.ImageDigest(ctx, image)
	if pinned == "" {
		d := Decision{Level: LevelVerified, Source: SourceDigestPin, Image: image, Digest: resolved}
		if err != nil {
			d.Reason = fmt.Sprintf("no digest pinned; current digest unresolvable: %v", err)
		} else {
			d.Reason = fmt.Sprintf("no digest pinned; current digest is %s", resolved)
		}
		return d, nil
	}

	if err != nil {
		d := Decision{
			Level:  LevelBlocked,
			Source: SourceDigestPin,
			Reason: fmt.Sprintf("pinned digest set but current digest unresolvable: %v", err),
			Image:  image,
		}
		return d, fmt.Errorf("resolve digest for pinned image %s: %w", image, ErrDigestMismatch)
	}
	if resolved != pinned {
		d := Decision{
			Level:  LevelBlocked,
			Source: SourceDigestPin,
			Reason: fmt.Sprintf("digest %s does not match pin %s", resolved, pinned),
			Image:  image,
			Digest: resolved,
		}
		return d, fmt.Errorf("image %s digest %s does not match pinned %s: %w", image, resolved, pinned, ErrDigestMismatch)
	}

	return Decision{
		Level:  LevelVerified,
		Source: SourceDigestPin,
		Reason: fmt.Sprintf("digest matches pin %s", pinned),
		Image:  image,
		Digest: resolved,
	}, nil
}
