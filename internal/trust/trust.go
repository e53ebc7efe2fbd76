// Package trust classifies blueprints and images before a container may
// start: a provenance classification, an optional content-digest pin and
// an optional cryptographic signature check. The digest and signature
// checks fail closed; classification alone never blocks.
package trust

import (
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"

	"warden/internal/blueprint"
)

// Level is the trust verdict for a blueprint or image.
type Level string

const (
	LevelVerified   Level = "verified"
	LevelUnverified Level = "unverified"
	LevelBlocked    Level = "blocked"
)

// Source records which rule produced a verdict.
type Source string

const (
	SourceOfficialSet  Source = "official-set"
	SourceTrustedImage Source = "trusted-image-pattern"
	SourceUserCreated  Source = "user-created"
	SourceDigestPin    Source = "digest-pin"
	SourceSignature    Source = "signature"
)

// Decision is one trust evaluation result. It is computed per call and
// never persisted.
type Decision struct {
	Level  Level
	Source Source
	Reason string
	// Image is the reference that was evaluated, if any.
	Image string
	// Digest is the resolved content digest, when the evaluation
	// resolved one.
	Digest string
}

// officialBlueprints are the built-in blueprint ids shipped with the
// orchestrator. Anything here is verified without further pattern checks.
var officialBlueprints = map[string]bool{
	"python-dev":   true,
	"node-dev":     true,
	"go-dev":       true,
	"ubuntu-shell": true,
	"data-science": true,
	"headless-web": true,
}

// trustedImagePrefixes match official base images: OS bases, language
// runtimes and common databases/proxies.
var trustedImagePrefixes = []string{
	"alpine", "busybox", "ubuntu", "debian", "fedora",
	"python", "node", "golang", "rust", "openjdk", "ruby",
	"postgres", "mysql", "mariadb", "redis", "mongo",
	"nginx", "caddy", "traefik", "httpd",
}

// Classify applies the precedence chain: official blueprint set, then
// trusted image patterns, then user-created. Unverified is a warning,
// not a block; an unparseable image reference blocks.
func Classify(bp blueprint.Blueprint) Decision {
	if officialBlueprints[bp.ID] {
		return Decision{
			Level:  LevelVerified,
			Source: SourceOfficialSet,
			Reason: fmt.Sprintf("blueprint %s is in the built-in set", bp.ID),
			Image:  bp.Image,
		}
	}
	if bp.Image != "" {
		return ClassifyImage(bp.Image)
	}
	return Decision{
		Level:  LevelUnverified,
		Source: SourceUserCreated,
		Reason: fmt.Sprintf("blueprint %s builds a user-defined image", bp.ID),
	}
}

// ClassifyImage classifies a bare image reference against the trusted
// official-image patterns.
func ClassifyImage(ref string) Decision {
	repo, err := normalizeRepository(ref)
	if err != nil {
		return Decision{
			Level:  LevelBlocked,
			Source: SourceUserCreated,
			Reason: fmt.Sprintf("unparseable image reference %q: %v", ref, err),
			Image:  ref,
		}
	}
	for _, prefix := range trustedImagePrefixes {
		if repo == prefix || strings.HasPrefix(repo, prefix+"/") {
			return Decision{
				Level:  LevelVerified,
				Source: SourceTrustedImage,
				Reason: fmt.Sprintf("image %s matches trusted pattern %q", ref, prefix),
				Image:  ref,
			}
		}
	}
	return Decision{
		Level:  LevelUnverified,
		Source: SourceUserCreated,
		Reason: fmt.Sprintf("image %s does not match any trusted pattern", ref),
		Image:  ref,
	}
}

// normalizeRepository reduces an image reference to its repository name
// with the implicit docker.io/library/ prefix stripped, so "alpine:3.20",
// "docker.io/library/alpine" and "index.docker.io/library/alpine:latest"
// all compare as "alpine".
func normalizeRepository(ref string) (string, error) {
	parsed, err := name.ParseReference(ref)
	if err != nil {
		return "", err
	}
	repo := parsed.Context().RepositoryStr()
	return strings.TrimPrefix(repo, "library/"), nil
}
