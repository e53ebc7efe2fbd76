package blueprint

import "testing"

func TestValidate_ExactlyOneSource(t *testing.T) {
	tests := []struct {
		name    string
		bp      Blueprint
		wantErr bool
	}{
		{"image only", Blueprint{ID: "a", Image: "alpine:3.20"}, false},
		{"build only", Blueprint{ID: "a", BuildScript: "FROM alpine:3.20"}, false},
		{"both set", Blueprint{ID: "a", Image: "alpine:3.20", BuildScript: "FROM alpine"}, true},
		{"neither set", Blueprint{ID: "a"}, true},
		{"missing id", Blueprint{Image: "alpine:3.20"}, true},
		{"bad network", Blueprint{ID: "a", Image: "alpine:3.20", Network: "host"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bp.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestImageRef(t *testing.T) {
	bp := Blueprint{ID: "py-dev", Image: "python:3.12-slim"}
	if got := bp.ImageRef(); got != "python:3.12-slim" {
		t.Fatalf("ImageRef() = %q", got)
	}
	bp = Blueprint{ID: "py-dev", BuildScript: "FROM python:3.12-slim"}
	if got := bp.ImageRef(); got != "warden-build-py-dev" {
		t.Fatalf("ImageRef() = %q", got)
	}
}

func TestCommandAllowed(t *testing.T) {
	bp := Blueprint{ID: "a", Image: "alpine", AllowedCommands: []string{"python", "pip"}}
	if !bp.CommandAllowed([]string{"python", "-c", "print(1)"}) {
		t.Fatal("expected python to be allowed")
	}
	if bp.CommandAllowed([]string{"sh", "-c", "rm -rf /"}) {
		t.Fatal("expected sh to be rejected")
	}
	if bp.CommandAllowed(nil) {
		t.Fatal("expected empty argv to be rejected under an allowlist")
	}
	open := Blueprint{ID: "b", Image: "alpine"}
	if !open.CommandAllowed([]string{"anything"}) {
		t.Fatal("expected empty allowlist to permit everything")
	}
}
