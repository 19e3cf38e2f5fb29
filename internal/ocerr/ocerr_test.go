package ocerr

import (
	"fmt"
	"testing"
)

func TestIsMatchesCategory(t *testing.T) {
	err := Routing("bucket %d not owned here", 3)
	if !Is(err, CategoryRouting) {
		t.Errorf("expected Is to match CategoryRouting")
	}
	if Is(err, CategoryFatal) {
		t.Errorf("expected Is to not match CategoryFatal")
	}
}

func TestIsSeesThroughWrap(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Wrap(CategoryTimeout, "request expired", cause)
	if !Is(err, CategoryTimeout) {
		t.Errorf("expected Is to match CategoryTimeout")
	}
}

func TestUnknownCommandMessage(t *testing.T) {
	err := UnknownCommand(9999)
	if err.Category != CategoryUnknownCommand {
		t.Errorf("got category %s", err.Category)
	}
}
