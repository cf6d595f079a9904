package output_test

import (
	"testing"

	"github.com/voxdaemon/voxd/pkg/output"
)

func TestNew_ReturnsTyper(t *testing.T) {
	typer, err := output.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if typer == nil {
		t.Fatal("expected non-nil Typer")
	}
}
