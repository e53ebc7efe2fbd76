package trust

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"warden/internal/blueprint"
)

func TestClassify_Precedence(t *testing.T) {
	tests := []struct {
		name   string
		bp     blueprint.Blueprint
		level  Level
		source Source
	}{
		{
			"official blueprint wins over everything",
			blueprint.Blueprint{ID: "python-dev", Image: "ghcr.io/someone/custom:1"},
			LevelVerified, SourceOfficialSet,
		},
		{
			"trusted image pattern",
			blueprint.Blueprint{ID: "my-bp", Image: "alpine:3.20"},
			LevelVerified, SourceTrustedImage,
		},
		{
			"trusted pattern with explicit registry",
			blueprint.Blueprint{ID: "my-bp", Image: "docker.io/library/postgres:16"},
			LevelVerified, SourceTrustedImage,
		},
		{
			"user image is unverified, not blocked",
			blueprint.Blueprint{ID: "my-bp", Image: "ghcr.io/someone/custom:1"},
			LevelUnverified, SourceUserCreated,
		},
		{
			"pure build is unverified",
			blueprint.Blueprint{ID: "my-bp", BuildScript: "FROM scratch"},
			LevelUnverified, SourceUserCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.bp)
			if got.Level != tt.level || got.Source != tt.source {
				t.Fatalf("Classify() = %s/%s, want %s/%s", got.Level, got.Source, tt.level, tt.source)
			}
		})
	}
}

func TestClassifyImage_SimilarNamesNotTrusted(t *testing.T) {
	// "pythonista/tools" must not match the "python" prefix.
	got := ClassifyImage("pythonista/tools:1")
	if got.Level != LevelUnverified {
		t.Fatalf("Classify(pythonista/tools) = %s, want unverified", got.Level)
	}
}

func TestClassifyImage_UnparseableBlocks(t *testing.T) {
	got := ClassifyImage("UPPER CASE IS INVALID")
	if got.Level != LevelBlocked {
		t.Fatalf("level = %s, want blocked", got.Level)
	}
}

type fakeDigests struct {
	digest string
	err    error
}

func (f fakeDigests) ImageDigest(context.Context, string) (string, error) {
	return f.digest, f.err
}

func TestCheckDigestPolicy(t *testing.T) {
	const good = "sha256:aaaa"
	tests := []struct {
		name     string
		image    string
		pinned   string
		resolver fakeDigests
		wantErr  bool
	}{
		{"pure build skips", "", "", fakeDigests{}, false},
		{"no pin allowed", "img:1", "", fakeDigests{digest: good}, false},
		{"no pin unresolvable still allowed", "img:1", "", fakeDigests{err: errors.New("gone")}, false},
		{"pin match", "img:1", good, fakeDigests{digest: good}, false},
		{"pin mismatch blocks", "img:1", good, fakeDigests{digest: "sha256:bbbb"}, true},
		{"pin unresolvable blocks", "img:1", good, fakeDigests{err: errors.New("gone")}, true},
		{"pin is whitespace-exact", "img:1", good + " ", fakeDigests{digest: good}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := CheckDigestPolicy(context.Background(), tt.resolver, tt.image, tt.pinned)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrDigestMismatch) {
					t.Fatalf("error = %v, want ErrDigestMismatch", err)
				}
				if d.Level != LevelBlocked {
					t.Fatalf("decision level = %s, want blocked", d.Level)
				}
			}
		})
	}
}

func TestCheckDigestPolicy_WarningCarriesDigest(t *testing.T) {
	d, err := CheckDigestPolicy(context.Background(), fakeDigests{digest: "sha256:abcd"}, "img:1", "")
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if d.Digest != "sha256:abcd" {
		t.Fatalf("Digest = %q, want resolved digest", d.Digest)
	}
}

type fakeVerifier struct {
	installed bool
	status    VerifyStatus
}

func (f fakeVerifier) Name() string    { return "fake" }
func (f fakeVerifier) Installed() bool { return f.installed }
func (f fakeVerifier) Verify(context.Context, string) (VerifyStatus, string, error) {
	return f.status, "fake output", nil
}

func TestVerifySignature_Matrix(t *testing.T) {
	type result int
	const (
		pass result = iota
		fail
	)
	noTool := []Verifier{fakeVerifier{installed: false}}
	tool := func(s VerifyStatus) []Verifier {
		return []Verifier{fakeVerifier{installed: true, status: s}}
	}

	tests := []struct {
		mode      SignatureMode
		verifiers []Verifier
		want      result
	}{
		{SignatureOff, tool(StatusInvalid), pass},
		{SignatureOff, noTool, pass},
		{SignatureOptIn, tool(StatusValid), pass},
		{SignatureOptIn, tool(StatusUnsigned), pass},
		{SignatureOptIn, tool(StatusInvalid), fail},
		{SignatureOptIn, noTool, pass},
		{SignatureStrict, tool(StatusValid), pass},
		{SignatureStrict, tool(StatusUnsigned), fail},
		{SignatureStrict, tool(StatusInvalid), fail},
		{SignatureStrict, noTool, fail},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", i, tt.mode), func(t *testing.T) {
			_, err := VerifySignature(context.Background(), tt.mode, tt.verifiers, "img:1")
			if tt.want == pass && err != nil {
				t.Fatalf("expected pass, got %v", err)
			}
			if tt.want == fail {
				if !errors.Is(err, ErrSignatureRejected) {
					t.Fatalf("expected ErrSignatureRejected, got %v", err)
				}
			}
		})
	}
}

func TestVerifySignature_FirstInstalledToolWins(t *testing.T) {
	verifiers := []Verifier{
		fakeVerifier{installed: false, status: StatusInvalid},
		fakeVerifier{installed: true, status: StatusValid},
	}
	d, err := VerifySignature(context.Background(), SignatureStrict, verifiers, "img:1")
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if d.Level != LevelVerified {
		t.Fatalf("level = %s, want verified", d.Level)
	}
}

func TestClassifyToolOutput(t *testing.T) {
	if status, _ := classifyToolOutput(nil, "ok"); status != StatusValid {
		t.Fatalf("nil error should be valid, got %v", status)
	}
	if status, _ := classifyToolOutput(errors.New("exit 1"), "Error: no signatures found for image"); status != StatusUnsigned {
		t.Fatalf("expected unsigned, got %v", status)
	}
	if status, _ := classifyToolOutput(errors.New("exit 1"), "signature verification failed: key mismatch"); status != StatusInvalid {
		t.Fatalf("expected invalid, got %v", status)
	}
}

func TestGateAuthorize_FailsClosedOnDigest(t *testing.T) {
	gate := NewGate(fakeDigests{digest: "sha256:real"}, SignatureOff)
	bp := blueprint.Blueprint{ID: "my-bp", Image: "alpine:3.20", PinnedDigest: "sha256:pinned"}

	decisions, err := gate.Authorize(context.Background(), bp)
	if !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("error = %v, want ErrDigestMismatch", err)
	}
	last := decisions[len(decisions)-1]
	if last.Level != LevelBlocked || last.Source != SourceDigestPin {
		t.Fatalf("last decision = %s/%s, want blocked/digest-pin", last.Level, last.Source)
	}
}

func TestGateAuthorize_SkipsSignatureForBuilds(t *testing.T) {
	gate := NewGate(fakeDigests{}, SignatureStrict).
		WithVerifiers(fakeVerifier{installed: true, status: StatusInvalid})
	bp := blueprint.Blueprint{ID: "my-bp", BuildScript: "FROM scratch"}

	if _, err := gate.Authorize(context.Background(), bp); err != nil {
		t.Fatalf("error = %v, want nil for pure build", err)
	}
}
